package relayer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleMessageDispatchesTrade(t *testing.T) {
	w := NewWSClient("wss://example.invalid/ws")

	var got []Tick
	w.OnTick(func(tick Tick) { got = append(got, tick) })

	w.handleMessage([]byte(`{"e":"trade","s":"btcusdt","p":"60123.45","T":1700000000123}`))

	require.Len(t, got, 1)
	require.Equal(t, "BTCUSDT", got[0].Symbol)
	require.Equal(t, "6012345000000", got[0].Price.String())
	require.Equal(t, time.UnixMilli(1700000000123), got[0].At)
}

func TestHandleMessageUnwrapsCombinedStream(t *testing.T) {
	w := NewWSClient("wss://example.invalid/ws")

	var got []Tick
	w.OnTick(func(tick Tick) { got = append(got, tick) })

	w.handleMessage([]byte(`{"stream":"ethusdt@trade","data":{"e":"trade","s":"ETHUSDT","p":"3000","T":1700000000000}}`))

	require.Len(t, got, 1)
	require.Equal(t, "ETHUSDT", got[0].Symbol)
	require.Equal(t, "300000000000", got[0].Price.String())
}

func TestHandleMessageIgnoresNonTradeFrames(t *testing.T) {
	w := NewWSClient("wss://example.invalid/ws")

	var got []Tick
	w.OnTick(func(tick Tick) { got = append(got, tick) })

	w.handleMessage([]byte(`{"result":null,"id":1}`))
	w.handleMessage([]byte(`{"e":"24hrMiniTicker","s":"BTCUSDT","c":"60000"}`))
	w.handleMessage([]byte(`not json`))

	require.Empty(t, got)
}
