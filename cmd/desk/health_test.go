package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rickgao/efp-desk/internal/connection"
	"github.com/rickgao/efp-desk/internal/desk"
	"github.com/rickgao/efp-desk/internal/model"
	"github.com/rickgao/efp-desk/internal/runstate"
)

type fakeDesk struct {
	feeds []desk.FeedState
	view  *runstate.View
}

func (f *fakeDesk) FeedStates() []desk.FeedState { return f.feeds }
func (f *fakeDesk) View() *runstate.View         { return f.view }
func (f *fakeDesk) Stats() desk.Stats            { return desk.Stats{} }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func feedState(kind runstate.Kind, state connection.State) desk.FeedState {
	return desk.FeedState{Kind: kind, FeedStatus: connection.FeedStatus{State: state}}
}

func TestHealthHandler(t *testing.T) {
	connected := []desk.FeedState{
		feedState(runstate.KindRun, connection.StateConnected),
		feedState(runstate.KindRecaps, connection.StateConnected),
	}
	mixed := []desk.FeedState{
		feedState(runstate.KindRun, connection.StateConnected),
		feedState(runstate.KindRecaps, connection.StateReconnecting),
	}

	tests := []struct {
		name       string
		feeds      []desk.FeedState
		db         pinger
		wantStatus string
		wantCode   int
	}{
		{"all connected", connected, nil, "healthy", http.StatusOK},
		{"one reconnecting", mixed, nil, "degraded", http.StatusOK},
		{"no feeds", nil, nil, "unhealthy", http.StatusServiceUnavailable},
		{"journal up", connected, fakePinger{}, "healthy", http.StatusOK},
		{"journal down", connected, fakePinger{err: errors.New("refused")}, "unhealthy", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDesk{feeds: tt.feeds, view: &runstate.View{}}
			h := createHealthHandler(d, tt.db, slog.Default())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
		})
	}
}

func TestDebugRunHandler(t *testing.T) {
	bid := -3.25
	d := &fakeDesk{view: &runstate.View{
		Rows:     []model.RunRow{{IndexName: "SX5E", Bid: &bid}},
		Recaps:   []model.Recap{},
		Blotter:  []model.BlotterTrade{},
		Revision: 4,
	}}
	h := createHealthHandler(d, nil, slog.Default())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/run", nil))

	var body struct {
		Revision uint64         `json:"revision"`
		Run      []model.RunRow `json:"run"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Revision != 4 {
		t.Errorf("revision = %d, want 4", body.Revision)
	}
	if len(body.Run) != 1 || body.Run[0].IndexName != "SX5E" {
		t.Errorf("run = %+v", body.Run)
	}
}
