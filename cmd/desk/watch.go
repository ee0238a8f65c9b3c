package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/rickgao/efp-desk/internal/config"
	"github.com/rickgao/efp-desk/internal/database"
	"github.com/rickgao/efp-desk/internal/desk"
	"github.com/rickgao/efp-desk/internal/journal"
	"github.com/rickgao/efp-desk/internal/runstate"
	"github.com/rickgao/efp-desk/internal/version"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream the live desk and dispatch commands from stdin",
	Long: `Stream the live run, recaps and blotter and read commands from stdin.

Each input line is dispatched as a command and its reply printed with the
command's correlation id. Change notices are printed as pushes arrive.

Lines starting with a colon are local:
  :suggest <name>   show destinations matching a partial name
  :orders           list persisted orders
  :feeds            show feed connection states
  :run              print the run table`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	logger.Info("starting desk",
		"version", version.Version,
		"commit", version.Commit,
		"rest_url", cfg.API.RestURL,
		"ws_url", cfg.API.WSURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var opts []desk.Option
	var db pinger
	if cfg.Journal.Enabled {
		writer, pool, err := openJournal(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			writer.Stop(stopCtx)
		}()
		opts = append(opts, desk.WithJournal(writer))
		db = pool
	}

	d := desk.New(*cfg, logger, opts...)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := d.Close(shutdownCtx); err != nil {
			logger.Warn("desk close incomplete", "err", err)
		}
	}()

	if err := d.Open(ctx); err != nil {
		return fmt.Errorf("open desk: %w", err)
	}

	if cfg.Health.Port > 0 {
		healthServer := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
			Handler: createHealthHandler(d, db, logger),
		}
		go func() {
			logger.Info("starting health server", "port", cfg.Health.Port)
			if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("health server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			healthServer.Shutdown(shutdownCtx)
		}()
	}

	out := &syncWriter{w: cmd.OutOrStdout()}
	go printChanges(ctx, d, out)

	lines := readLines(ctx, cmd.InOrStdin())
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			handleLine(ctx, d, cfg, line, out)
		}
	}
}

func openJournal(ctx context.Context, cfg *config.DeskConfig, logger *slog.Logger) (*journal.Writer, *pgxpool.Pool, error) {
	pool, err := database.Connect(ctx, cfg.Journal.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect journal database: %w", err)
	}
	if err := journal.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	writer := journal.NewWriter(journal.Config{
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
		BufferSize:    cfg.Journal.BufferSize,
	}, pool, logger)
	if err := writer.Start(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	logger.Info("journal enabled",
		"host", cfg.Journal.Database.Host,
		"database", cfg.Journal.Database.Name,
	)
	return writer, pool, nil
}

func handleLine(ctx context.Context, d *desk.Desk, cfg *config.DeskConfig, line string, out *syncWriter) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	if !strings.HasPrefix(trimmed, ":") {
		reply, ok := d.Composer().Submit(ctx, line)
		if ok {
			out.printf("[%s] %s\n", shortID(reply.CorrelationID), reply.Text)
		}
		return
	}

	word, rest, _ := strings.Cut(trimmed[1:], " ")
	switch word {
	case "suggest":
		for _, dest := range d.Directory().Suggest(strings.TrimSpace(rest), cfg.Composer.SuggestionLimit) {
			out.printf("  %s (%s) %s\n", dest.Name, dest.Type, dest.ID)
		}
	case "orders":
		orders, err := d.Orders(ctx)
		if err != nil {
			out.printf("orders: %v\n", err)
			return
		}
		for _, o := range orders {
			out.printf("  #%d %s %s %s %g @ %g\n", o.ID, o.Symbol, o.Expiry, o.Side, o.Quantity, o.Price)
		}
	case "feeds":
		for _, f := range d.FeedStates() {
			out.printf("  %-8s %-12s failures=%d messages=%d\n", f.Kind, f.State, f.Failures, f.Messages)
		}
	case "run":
		printRun(out, d.View())
	default:
		out.printf("unknown command :%s (try :suggest, :orders, :feeds, :run; prefix is %q)\n", word, cfg.Composer.CommandPrefix)
	}
}

func printChanges(ctx context.Context, d *desk.Desk, out *syncWriter) {
	changes, unsubscribe := d.Changes()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			v := d.View()
			out.printf("-- rev %d (%s): run=%d recaps=%d blotter=%d\n",
				v.Revision, c.Source, len(v.Rows), len(v.Recaps), len(v.Blotter))
		}
	}
}

func printRun(out *syncWriter, v *runstate.View) {
	for _, r := range v.Rows {
		out.printf("  %-10s %8s %8s %8s\n", r.IndexName, price(r.Bid), price(r.Offer), price(r.CashRef))
	}
}

func price(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *p)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// readLines scans r on its own goroutine. The channel closes at EOF.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// syncWriter serializes output from concurrent replies and change events.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}
