package msg

// TickEventMsg is a published market tick plus router receipt time.
type TickEventMsg struct {
	Symbol           string  `json:"symbol"`
	Bid              float64 `json:"bid"`
	Ask              float64 `json:"ask"`
	Spread           float64 `json:"spread"`
	Volume           int64   `json:"volume"`
	TsUnixMillis     int64   `json:"ts_unix_millis"`
	TerminalID       string  `json:"terminal_id"`
	ReceivedAtMillis int64   `json:"received_at_millis"`
}

// MissionMsg is a trade proposal written by the external signal engine.
type MissionMsg struct {
	MissionID         string  `json:"mission_id"`
	Symbol            string  `json:"symbol"`
	Direction         string  `json:"direction"` // "BUY" or "SELL"
	Entry             float64 `json:"entry"`
	Stop              float64 `json:"stop"`
	Target            float64 `json:"target"`
	Pattern           string  `json:"pattern"`
	Status            string  `json:"status"` // "PENDING" or "CANCELLED"
	CreatedUnixMillis int64   `json:"created_unix_millis"`
	ExpiresUnixMillis int64   `json:"expires_unix_millis"`
}

// FireEventMsg is the audit record of one authorized fire.
type FireEventMsg struct {
	EventID        string  `json:"event_id"`
	FireID         string  `json:"fire_id"`
	MissionID      string  `json:"mission_id"`
	UserID         string  `json:"user_id"`
	IdempotencyKey string  `json:"idempotency_key"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Lot            float64 `json:"lot"`
	Status         string  `json:"status"`
	TsUnixMillis   int64   `json:"ts_unix_millis"`
}

// TradeResultMsg forwards a terminal execution confirmation to the tracker.
type TradeResultMsg struct {
	FireID       string  `json:"fire_id"`
	TerminalID   string  `json:"terminal_id"`
	Ticket       int64   `json:"ticket"`
	Status       string  `json:"status"`
	Price        float64 `json:"price"`
	ErrorMsg     string  `json:"error,omitempty"`
	TsUnixMillis int64   `json:"ts_unix_millis"`
}
