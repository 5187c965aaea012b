package database

import "time"

// Signal statuses
const (
	SignalKIV       = "KIV"
	SignalConfirmed = "CONFIRMED"
	SignalExecuted  = "EXECUTED"
	SignalExpired   = "EXPIRED"
	SignalRejected  = "REJECTED"
)

// Position statuses
const (
	PositionOpen    = "OPEN"
	PositionClosing = "CLOSING"
	PositionClosed  = "CLOSED"
)

// Health states
const (
	HealthGreen  = "GREEN"
	HealthYellow = "YELLOW"
	HealthRed    = "RED"
)

// Signal is one row of the signal state machine.
type Signal struct {
	SignalID      string
	Ticker        string
	Strategy      string
	TriggerTime   time.Time
	TriggerPrice  float64
	ReboundBottom float64
	GoInPrice     float64
	ProfitTarget  float64
	StopLoss      float64
	Confidence    float64
	Status        string
	CooldownUntil *time.Time
}

// Position is a live or closed holding. StopLoss is the fractional drop from
// entry that triggers the exit (0.039 means -3.9%).
type Position struct {
	TicketID     string
	Ticker       string
	Strategy     string
	EntryTime    time.Time
	EntryPrice   float64
	Quantity     float64
	CurrentPrice float64
	StopLoss     float64
	Status       string
	ExitSignal   *string
	ExitPrice    *float64
	ExitTime     *time.Time
}

// TradeRecord is an append-only closed trade.
type TradeRecord struct {
	ExitTime   time.Time
	Ticker     string
	Strategy   string
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	PnLPct     float64
	WinLoss    string
	ExitReason string
	TicketID   string
}

// IgnoreEntry quarantines a ticker with exponential backoff.
type IgnoreEntry struct {
	Ticker       string
	ReasonCode   string
	Scope        string
	TTLUTC       time.Time
	RetryCount   int
	BackoffLevel int
	FirstSeen    time.Time
	Notes        string
}

// CooldownEntry locks out re-entry for a (ticker, strategy) pair.
type CooldownEntry struct {
	Ticker        string
	Strategy      string
	CooldownUntil time.Time
	Reason        string
	SetAt         time.Time
}

// HealthRecord is one appended health roll-up.
type HealthRecord struct {
	Timestamp       time.Time
	State           string
	APICallsCycle   int
	DataErrorsToday int
	IgnoreListSize  int
	Reason          string
}

// PriceEntry is the durable price-cache row.
type PriceEntry struct {
	Ticker    string
	Price     float64
	Volume    int64
	Bid       *float64
	Ask       *float64
	Timestamp time.Time
	Source    string
}

// ExecutionQuality records slippage and fill quality for one fill.
type ExecutionQuality struct {
	TicketID      string
	Ticker        string
	Timestamp     time.Time
	ExpectedPrice float64
	ActualPrice   float64
	SlippagePct   float64
	ExpectedQty   float64
	ActualQty     float64
	FillRatio     float64
	PartialFill   bool
	OrderType     string
	Side          string
}

// SlippageSummary is the per-ticker aggregate over a lookback window.
type SlippageSummary struct {
	Ticker          string
	Fills           int
	AvgSlippagePct  float64
	MaxSlippagePct  float64
	PartialFillRate float64
}

// StrategyStats aggregates closed trades per (ticker, strategy).
type StrategyStats struct {
	Ticker      string
	Strategy    string
	Trades      int
	Wins        int
	Losses      int
	TotalPnLPct float64
	LastTradeAt *time.Time
}

// WatchItem is one scan-universe member.
type WatchItem struct {
	Ticker      string
	Tier        int
	Notes       string
	AddedAt     time.Time
	LastScanned *time.Time
}
