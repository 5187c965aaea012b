package sheets

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"equity-trading-bot/internal/database"
)

// Tab names with fixed headers.
const (
	TabUniverse  = "UNIVERSE"
	TabWatchList = "WATCH_LIST"
	TabKIV       = "KIV"
)

// Writer is the sheet surface the exporter drives. *Client implements it.
type Writer interface {
	ClearRange(ctx context.Context, rng string) error
	WriteRows(ctx context.Context, rng string, rows [][]any) error
}

// Store is the persistence surface the exporter reads.
type Store interface {
	GetWatchList(ctx context.Context) ([]database.WatchItem, error)
	GetSignalsByStatus(ctx context.Context, status string) ([]database.Signal, error)
	GetStrategyStats(ctx context.Context) ([]database.StrategyStats, error)
}

// Exporter rewrites the operator tabs after each cycle. Full-rewrite keeps
// the sheet a pure projection of the store.
type Exporter struct {
	writer Writer
	store  Store
	log    zerolog.Logger
}

func NewExporter(writer Writer, store Store, logger zerolog.Logger) *Exporter {
	return &Exporter{
		writer: writer,
		store:  store,
		log:    logger.With().Str("component", "sheets").Logger(),
	}
}

// ExportAll rewrites every tab. A failure on one tab is returned but does
// not stop the others.
func (e *Exporter) ExportAll(ctx context.Context) error {
	var firstErr error
	for _, f := range []func(context.Context) error{e.exportUniverse, e.exportWatchList, e.exportKIV} {
		if err := f(ctx); err != nil {
			e.log.Error().Err(err).Msg("tab export failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Exporter) exportUniverse(ctx context.Context) error {
	stats, err := e.store.GetStrategyStats(ctx)
	if err != nil {
		return fmt.Errorf("universe export: %w", err)
	}
	rows := [][]any{{"ticker", "strategy", "trades", "wins", "losses", "total_pnl_pct", "last_trade_at"}}
	for _, s := range stats {
		last := ""
		if s.LastTradeAt != nil {
			last = s.LastTradeAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []any{s.Ticker, s.Strategy, s.Trades, s.Wins, s.Losses, s.TotalPnLPct, last})
	}
	return e.rewrite(ctx, TabUniverse, rows)
}

func (e *Exporter) exportWatchList(ctx context.Context) error {
	items, err := e.store.GetWatchList(ctx)
	if err != nil {
		return fmt.Errorf("watch list export: %w", err)
	}
	rows := [][]any{{"ticker", "tier", "notes", "added_at", "last_scanned"}}
	for _, w := range items {
		last := ""
		if w.LastScanned != nil {
			last = w.LastScanned.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []any{w.Ticker, w.Tier, w.Notes, w.AddedAt.UTC().Format(time.RFC3339), last})
	}
	return e.rewrite(ctx, TabWatchList, rows)
}

func (e *Exporter) exportKIV(ctx context.Context) error {
	rows := [][]any{{"signal_id", "ticker", "strategy", "status", "trigger_time", "rebound_bottom", "go_in_price", "profit_target", "stop_loss", "confidence"}}
	for _, status := range []string{database.SignalKIV, database.SignalConfirmed} {
		sigs, err := e.store.GetSignalsByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("kiv export: %w", err)
		}
		for _, s := range sigs {
			rows = append(rows, []any{
				s.SignalID, s.Ticker, s.Strategy, s.Status,
				s.TriggerTime.UTC().Format(time.RFC3339),
				s.ReboundBottom, s.GoInPrice, s.ProfitTarget, s.StopLoss, s.Confidence,
			})
		}
	}
	return e.rewrite(ctx, TabKIV, rows)
}

func (e *Exporter) rewrite(ctx context.Context, tab string, rows [][]any) error {
	if err := e.writer.ClearRange(ctx, tab); err != nil {
		return err
	}
	if err := e.writer.WriteRows(ctx, tab+"!A1", rows); err != nil {
		return err
	}
	e.log.Debug().Str("tab", tab).Int("rows", len(rows)-1).Msg("tab exported")
	return nil
}
