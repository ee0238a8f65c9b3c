package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rickgao/efp-desk/internal/model"
)

// GetRunSnapshot fetches the current run table, and the recap log when the
// backend bundles it.
func (c *Client) GetRunSnapshot(ctx context.Context) (model.RunSnapshot, error) {
	body, err := c.get(ctx, RunSnapshotPath, nil)
	if err != nil {
		return model.RunSnapshot{}, fmt.Errorf("get run snapshot: %w", err)
	}

	payload, err := model.DecodeRunPayload(body)
	if err != nil {
		return model.RunSnapshot{}, fmt.Errorf("decode run snapshot: %w", err)
	}
	return payload.Snapshot, nil
}

// GetDestinations fetches the backend's destination list.
func (c *Client) GetDestinations(ctx context.Context) ([]model.Destination, error) {
	var resp DestinationsResponse
	if err := c.getJSON(ctx, DestinationsPath, nil, &resp); err != nil {
		return nil, fmt.Errorf("get destinations: %w", err)
	}
	return resp.Destinations, nil
}

// GetBlotter fetches the current blotter.
func (c *Client) GetBlotter(ctx context.Context) ([]model.BlotterTrade, error) {
	body, err := c.get(ctx, BlotterPath, nil)
	if err != nil {
		return nil, fmt.Errorf("get blotter: %w", err)
	}
	trades, _, err := model.DecodeBlotterPayload(body)
	if err != nil {
		return nil, fmt.Errorf("decode blotter: %w", err)
	}
	return trades, nil
}

// GetOrders fetches persisted orders, newest first.
func (c *Client) GetOrders(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	if err := c.getJSON(ctx, OrdersPath, nil, &orders); err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	return orders, nil
}

// Chat dispatches one operator command. It is sent exactly once.
//
// A non-success status returns *APIError; a success body that is not JSON
// returns ErrMalformedReply.
func (c *Client) Chat(ctx context.Context, req CommandRequest) (CommandReply, error) {
	header := http.Header{}
	if req.CorrelationID != "" {
		header.Set(CorrelationHeader, req.CorrelationID)
	}

	body, err := c.post(ctx, CommandPath, req, header)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return CommandReply{}, apiErr
		}
		return CommandReply{}, fmt.Errorf("dispatch command: %w", err)
	}

	reply, err := ParseCommandReply(body)
	if err != nil {
		return CommandReply{}, err
	}

	c.logger.Debug("command reply",
		"correlation_id", req.CorrelationID,
		"session_id", reply.SessionID,
	)
	return reply, nil
}
