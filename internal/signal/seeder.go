package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Candidate is one row from an offline universe build.
type Candidate struct {
	Ticker        string  `json:"ticker"`
	Strategy      string  `json:"strategy"`
	TriggerPrice  float64 `json:"trigger_price"`
	ReboundBottom float64 `json:"rebound_bottom"`
	GoInPrice     float64 `json:"go_in_price"`
	ProfitTarget  float64 `json:"profit_target"`
	StopLoss      float64 `json:"stop_loss"`
	Confidence    float64 `json:"confidence"`
}

// SeedResult tallies one seeding run.
type SeedResult struct {
	Added    int
	Existing int
	Rejected int
}

// Seeder feeds externally built candidates into the KIV queue.
type Seeder struct {
	processor *Processor
	log       zerolog.Logger
}

func NewSeeder(processor *Processor, logger zerolog.Logger) *Seeder {
	return &Seeder{
		processor: processor,
		log:       logger.With().Str("component", "seeder").Logger(),
	}
}

// Seed inserts each candidate as a KIV signal. Individual rejections and
// duplicates are tallied, not fatal.
func (s *Seeder) Seed(ctx context.Context, candidates []Candidate) (*SeedResult, error) {
	res := &SeedResult{}
	for _, c := range candidates {
		if c.Ticker == "" || c.Strategy == "" {
			res.Rejected++
			continue
		}
		prices := Prices{
			TriggerPrice:  c.TriggerPrice,
			ReboundBottom: c.ReboundBottom,
			GoInPrice:     c.GoInPrice,
			ProfitTarget:  c.ProfitTarget,
			StopLoss:      c.StopLoss,
		}
		add, err := s.processor.AddToKIV(ctx, c.Ticker, c.Strategy, prices, c.Confidence)
		if err != nil {
			return res, fmt.Errorf("seed %s/%s: %w", c.Ticker, c.Strategy, err)
		}
		switch add.Status {
		case StatusAdded:
			res.Added++
		case StatusExists:
			res.Existing++
		default:
			res.Rejected++
			s.log.Debug().Str("ticker", c.Ticker).Str("reason", add.Reason).Msg("candidate rejected")
		}
	}
	s.log.Info().Int("added", res.Added).Int("existing", res.Existing).
		Int("rejected", res.Rejected).Msg("KIV queue seeded")
	return res, nil
}

// SeedFromFile reads a JSON array of candidates and seeds them.
func (s *Seeder) SeedFromFile(ctx context.Context, path string) (*SeedResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed file: %w", err)
	}
	var candidates []Candidate
	if err := json.Unmarshal(raw, &candidates); err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return s.Seed(ctx, candidates)
}
