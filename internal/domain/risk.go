package domain

// RiskDecision is the Risk Engine's answer for a scored signal. When Approved
// is false FailedChecks names every check that failed, not just the first.
type RiskDecision struct {
	Approved     bool
	Size         float64 // lots, rounded to the instrument's lot step
	RiskAmount   float64 // monetary risk at the stop, account currency
	StopLoss     float64
	TakeProfit   float64
	FailedChecks []string
}

// AccountState is the broker-side account snapshot the Risk Engine decides
// against. It is read once per decision; the engine never mutates it.
type AccountState struct {
	Balance       float64
	Equity        float64
	Margin        float64
	MarginLevel   float64 // percent, 0 when no positions are open
	DailyPnL      float64 // realized + unrealized since daily reset
	HighWaterMark float64 // equity high-water mark for drawdown limits
	OpenPositions int
}
