package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SchemaVersion is the current inbound envelope version. Envelopes without a
// version field are treated as version 1 (legacy terminals).
const SchemaVersion = 1

// LiveSource is the provenance sentinel terminals stamp on real quotes.
// Ticks carrying any other source are dropped by the router.
const LiveSource = "live_feed"

// Kind is the closed set of inbound message types.
type Kind string

const (
	KindMarketData  Kind = "market_data"
	KindHeartbeat   Kind = "heartbeat"
	KindStartup     Kind = "startup"
	KindTradeResult Kind = "trade_result"
)

// envelope is the raw inbound frame, decoded once at the boundary.
type envelope struct {
	Version    int             `json:"v,omitempty"`
	Type       Kind            `json:"type"`
	TerminalID string          `json:"terminal_id"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Tick is one market price update from a terminal.
type Tick struct {
	Symbol       string  `json:"symbol"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Spread       float64 `json:"spread"`
	Volume       int64   `json:"volume"`
	TsUnixMillis int64   `json:"timestamp"`
	Source       string  `json:"source"`
}

// Startup carries terminal account metadata sent once per connection.
type Startup struct {
	Account string  `json:"account"`
	Broker  string  `json:"broker"`
	Balance float64 `json:"balance"`
}

// TradeResult is an asynchronous execution confirmation for a dispatched order.
type TradeResult struct {
	FireID   string  `json:"fire_id"`
	Ticket   int64   `json:"ticket"`
	Status   string  `json:"status"`
	Price    float64 `json:"price"`
	ErrorMsg string  `json:"error,omitempty"`
}

// Message is the decoded tagged union. Exactly one payload pointer is non-nil,
// matching Kind; heartbeats carry no payload.
type Message struct {
	Kind        Kind
	TerminalID  string
	Tick        *Tick
	Startup     *Startup
	TradeResult *TradeResult
}

// OrderCommand is the outbound open-position instruction for a terminal.
type OrderCommand struct {
	Type        string  `json:"type"`
	FireID      string  `json:"fire_id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Entry       float64 `json:"entry"`
	StopLoss    float64 `json:"sl"`
	TakeProfit  float64 `json:"tp"`
	Lot         float64 `json:"lot"`
	TimeInForce string  `json:"time_in_force"`
}

// CommandOpen is the only outbound command type the gateway emits.
const CommandOpen = "OPEN"

// EncodeCommand serializes an order command as one delimited wire line.
func EncodeCommand(cmd OrderCommand) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order command: %w", err)
	}
	return append(data, Delimiter), nil
}

// ParseMessage decodes and validates one complete frame. Unknown fields,
// unknown types, and missing required fields are rejected here so nothing
// half-formed travels further into the router.
func ParseMessage(segment []byte) (Message, error) {
	var env envelope
	if err := strictUnmarshal(segment, &env); err != nil {
		return Message{}, fmt.Errorf("bad envelope: %w", err)
	}
	if env.Version != 0 && env.Version != SchemaVersion {
		return Message{}, fmt.Errorf("unsupported schema version %d", env.Version)
	}
	if env.TerminalID == "" {
		return Message{}, fmt.Errorf("missing terminal_id")
	}

	msg := Message{Kind: env.Type, TerminalID: env.TerminalID}

	switch env.Type {
	case KindMarketData:
		var tick Tick
		if err := strictUnmarshal(env.Data, &tick); err != nil {
			return Message{}, fmt.Errorf("bad market_data payload: %w", err)
		}
		if tick.Symbol == "" {
			return Message{}, fmt.Errorf("market_data missing symbol")
		}
		if tick.Bid <= 0 || tick.Ask <= 0 {
			return Message{}, fmt.Errorf("market_data has non-positive quote")
		}
		if tick.TsUnixMillis <= 0 {
			return Message{}, fmt.Errorf("market_data missing timestamp")
		}
		msg.Tick = &tick

	case KindHeartbeat:
		// No payload.

	case KindStartup:
		var st Startup
		if err := strictUnmarshal(env.Data, &st); err != nil {
			return Message{}, fmt.Errorf("bad startup payload: %w", err)
		}
		msg.Startup = &st

	case KindTradeResult:
		var tr TradeResult
		if err := strictUnmarshal(env.Data, &tr); err != nil {
			return Message{}, fmt.Errorf("bad trade_result payload: %w", err)
		}
		if tr.FireID == "" {
			return Message{}, fmt.Errorf("trade_result missing fire_id")
		}
		msg.TradeResult = &tr

	default:
		return Message{}, fmt.Errorf("unknown message type %q", env.Type)
	}

	return msg, nil
}

func strictUnmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	// Trailing garbage after the JSON value is a framing bug upstream.
	if dec.More() {
		return fmt.Errorf("trailing data after message")
	}
	return nil
}
