package feed

import (
	"testing"

	"feedsync/pkg/binance"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRouterDispatchesByEventTag(t *testing.T) {
	var klines []binance.KlineEvent
	var depths []binance.DepthUpdate
	var trades []binance.TradeEvent

	r := NewRouter(Handlers{
		Kline: func(ev binance.KlineEvent) { klines = append(klines, ev) },
		Depth: func(ev binance.DepthUpdate) { depths = append(depths, ev) },
		Trade: func(ev binance.TradeEvent) { trades = append(trades, ev) },
	}, zap.NewNop())

	r.Route([]byte(`{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":10,"u":12,` +
		`"b":[["100.0","1.5"]],"a":[["101.0","0"]]}`))
	r.Route([]byte(`{"e":"kline","E":2,"s":"BTCUSDT","k":{"t":60000,"T":119999,` +
		`"i":"1m","o":"10","h":"11","l":"9","c":"10.5","v":"100","x":true}}`))
	r.Route([]byte(`{"e":"trade","E":3,"s":"BTCUSDT","t":77,"p":"100.5","q":"0.25",` +
		`"T":61000,"m":true}`))

	require.Len(t, depths, 1)
	assert.Equal(t, uint64(10), depths[0].FirstID)
	assert.Equal(t, uint64(12), depths[0].FinalID)
	assert.Equal(t, [][]string{{"100.0", "1.5"}}, depths[0].Bids)

	require.Len(t, klines, 1)
	assert.True(t, klines[0].Kline.Closed)
	assert.Equal(t, "10", klines[0].Kline.Open)

	require.Len(t, trades, 1)
	assert.Equal(t, uint64(77), trades[0].ID)
	assert.True(t, trades[0].IsBuyerMaker)
}

func TestRouterDropsNonEventsAndGarbage(t *testing.T) {
	called := false
	r := NewRouter(Handlers{
		Kline: func(binance.KlineEvent) { called = true },
		Depth: func(binance.DepthUpdate) { called = true },
		Trade: func(binance.TradeEvent) { called = true },
	}, zap.NewNop())

	r.Route([]byte(`{"result":null,"id":1}`))          // subscription ack
	r.Route([]byte(`{"e":"someFutureEvent","x":true}`)) // unknown tag
	r.Route([]byte(`not json at all`))                  // garbage
	r.Route([]byte(`{"e":"trade","t":"not-a-number"}`)) // malformed payload

	assert.False(t, called)
}

func TestRouterNilHandlerDropsKind(t *testing.T) {
	r := NewRouter(Handlers{}, zap.NewNop())
	// must not panic
	r.Route([]byte(`{"e":"trade","t":1,"p":"1","q":"1","T":1,"m":false}`))
}
