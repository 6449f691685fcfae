package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage_MarketData(t *testing.T) {
	raw := []byte(`{"v":1,"type":"market_data","terminal_id":"ea-7","data":{` +
		`"symbol":"EURUSD","bid":1.1000,"ask":1.1002,"spread":0.2,` +
		`"volume":120,"timestamp":1724572800000,"source":"live_feed"}}`)

	msg, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, KindMarketData, msg.Kind)
	assert.Equal(t, "ea-7", msg.TerminalID)
	require.NotNil(t, msg.Tick)
	assert.Equal(t, "EURUSD", msg.Tick.Symbol)
	assert.Equal(t, 1.1002, msg.Tick.Ask)
	assert.Equal(t, LiveSource, msg.Tick.Source)
	assert.Nil(t, msg.Startup)
	assert.Nil(t, msg.TradeResult)
}

func TestParseMessage_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type":"telemetry","terminal_id":"t1"}`},
		{"missing terminal_id", `{"type":"heartbeat"}`},
		{"unknown envelope field", `{"type":"heartbeat","terminal_id":"t1","extra":1}`},
		{"unsupported version", `{"v":9,"type":"heartbeat","terminal_id":"t1"}`},
		{"market_data without payload", `{"type":"market_data","terminal_id":"t1"}`},
		{"market_data missing symbol", `{"type":"market_data","terminal_id":"t1","data":{"bid":1,"ask":1,"spread":0,"volume":1,"timestamp":1,"source":"live_feed"}}`},
		{"market_data zero bid", `{"type":"market_data","terminal_id":"t1","data":{"symbol":"EURUSD","bid":0,"ask":1.1,"spread":0,"volume":1,"timestamp":1,"source":"live_feed"}}`},
		{"market_data unknown payload field", `{"type":"market_data","terminal_id":"t1","data":{"symbol":"EURUSD","bid":1.1,"ask":1.1,"spread":0,"volume":1,"timestamp":1,"source":"live_feed","note":"x"}}`},
		{"trade_result missing fire_id", `{"type":"trade_result","terminal_id":"t1","data":{"ticket":1,"status":"filled","price":1.1}}`},
		{"trailing garbage", `{"type":"heartbeat","terminal_id":"t1"} {"x":1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestParseMessage_TradeResult(t *testing.T) {
	raw := []byte(`{"type":"trade_result","terminal_id":"ea-2","data":{` +
		`"fire_id":"f-1","ticket":99123,"status":"filled","price":1.0954}}`)

	msg, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, KindTradeResult, msg.Kind)
	require.NotNil(t, msg.TradeResult)
	assert.Equal(t, "f-1", msg.TradeResult.FireID)
	assert.EqualValues(t, 99123, msg.TradeResult.Ticket)
}

func TestEncodeCommand_RoundTrip(t *testing.T) {
	line, err := EncodeCommand(OrderCommand{
		Type:        CommandOpen,
		FireID:      "f-42",
		Symbol:      "GBPUSD",
		Side:        "SELL",
		Entry:       1.2750,
		StopLoss:    1.2790,
		TakeProfit:  1.2650,
		Lot:         0.5,
		TimeInForce: "GTC",
	})
	require.NoError(t, err)
	assert.Equal(t, byte(Delimiter), line[len(line)-1])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(line[:len(line)-1], &decoded))
	assert.Equal(t, "OPEN", decoded["type"])
	assert.Equal(t, "f-42", decoded["fire_id"])
	assert.Equal(t, 1.279, decoded["sl"])
}
