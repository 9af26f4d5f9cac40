package candles

import (
	"testing"

	"feedsync/pkg/binance"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTradesFoldIntoSingleBar(t *testing.T) {
	a := NewAggregator(100, 60, nil, zap.NewNop())

	require.True(t, a.OnTrade(50000, 0.5, 1000_000, 1))
	require.True(t, a.OnTrade(50100, 0.3, 1030_000, 2))

	bars := a.Series().Bars()
	require.Len(t, bars, 1)
	assert.Equal(t, Bar{
		OpenTime: 960, // floor(1000/60)*60
		Open:     50000,
		High:     50100,
		Low:      50000,
		Close:    50100,
		Volume:   0.8,
	}, bars[0])
}

func TestSameBucketTradeNeverChangesOpenOrTime(t *testing.T) {
	a := NewAggregator(100, 60, nil, zap.NewNop())
	a.OnTrade(100, 1, 60_000, 1)
	first, _ := a.Series().Last()

	a.OnTrade(90, 1, 90_000, 2)   // same bucket, lower price
	a.OnTrade(120, 1, 119_000, 3) // same bucket, higher price

	last, _ := a.Series().Last()
	assert.Equal(t, first.OpenTime, last.OpenTime)
	assert.Equal(t, first.Open, last.Open)
	assert.Equal(t, 120.0, last.High)
	assert.Equal(t, 90.0, last.Low)
	assert.Equal(t, 120.0, last.Close)
	assert.Equal(t, 3.0, last.Volume)
}

func TestNewBucketStartsNewBar(t *testing.T) {
	a := NewAggregator(100, 60, nil, zap.NewNop())
	a.OnTrade(100, 1, 60_000, 1)
	a.OnTrade(101, 2, 121_000, 2) // next minute

	bars := a.Series().Bars()
	require.Len(t, bars, 2)
	assert.Equal(t, int64(60), bars[0].OpenTime)
	assert.Equal(t, int64(120), bars[1].OpenTime)
	assert.Equal(t, Bar{OpenTime: 120, Open: 101, High: 101, Low: 101, Close: 101, Volume: 2}, bars[1])
}

func TestStaleTradeIsDiscarded(t *testing.T) {
	a := NewAggregator(100, 60, nil, zap.NewNop())
	a.OnTrade(100, 1, 120_000, 1)
	before := a.Series().Bars()

	// Earlier bucket than the tail bar: zero mutation.
	assert.False(t, a.OnTrade(999, 9, 60_000, 2))
	assert.Equal(t, before, a.Series().Bars())
}

func TestTradeBatchRespectsHighWatermark(t *testing.T) {
	a := NewAggregator(100, 60, nil, zap.NewNop())
	a.OnTrade(100, 1, 60_000, 10)

	applied := a.OnTradeBatch([]binance.RESTTrade{
		{ID: 9, Price: "101", Quantity: "1", Time: 61_000},  // below watermark
		{ID: 10, Price: "102", Quantity: "1", Time: 62_000}, // at watermark
		{ID: 11, Price: "103", Quantity: "1", Time: 63_000},
		{ID: 12, Price: "bad", Quantity: "1", Time: 64_000}, // unparseable
		{ID: 13, Price: "104", Quantity: "2", Time: 65_000},
	})

	assert.Equal(t, 2, applied)
	assert.Equal(t, uint64(13), a.HighWatermark())

	last, _ := a.Series().Last()
	assert.Equal(t, 104.0, last.Close)
	assert.Equal(t, 100.0, last.Open) // ids 11/13 merged into the bar opened by id 10
	assert.Equal(t, 4.0, last.Volume)
}

func TestKlineRelayAppendAndReplace(t *testing.T) {
	a := NewAggregator(100, 60, nil, zap.NewNop())

	open := binance.KlinePayload{
		Start: 60_000, End: 119_999, Interval: "1m",
		Open: "10", High: "11", Low: "9", Close: "10.5", Volume: "100",
	}
	a.OnKline(open)
	require.Equal(t, 1, a.Series().Len())

	// In-progress update for the same bar replaces, never duplicates.
	open.High = "12"
	open.Close = "11.5"
	a.OnKline(open)
	require.Equal(t, 1, a.Series().Len())
	last, _ := a.Series().Last()
	assert.Equal(t, 12.0, last.High)

	// Closed flag on the same bar still updates in place.
	open.Closed = true
	a.OnKline(open)
	require.Equal(t, 1, a.Series().Len())

	// Next bar appends.
	next := open
	next.Start = 120_000
	next.Closed = false
	a.OnKline(next)
	assert.Equal(t, 2, a.Series().Len())

	// A kline older than the tail is ignored.
	stale := open
	stale.Start = 0
	a.OnKline(stale)
	assert.Equal(t, 2, a.Series().Len())
}

func TestKlineRelayDropsUnparseable(t *testing.T) {
	a := NewAggregator(100, 60, nil, zap.NewNop())
	a.OnKline(binance.KlinePayload{Start: 60_000, Open: "x", High: "1", Low: "1", Close: "1", Volume: "1"})
	assert.Equal(t, 0, a.Series().Len())
}

func TestSeriesTrimsFromFront(t *testing.T) {
	a := NewAggregator(3, 60, nil, zap.NewNop())
	for i := int64(0); i < 5; i++ {
		a.OnTrade(float64(i), 1, i*60_000, uint64(i+1))
	}

	bars := a.Series().Bars()
	require.Len(t, bars, 3)
	assert.Equal(t, int64(120), bars[0].OpenTime)
	assert.Equal(t, int64(240), bars[2].OpenTime)
}

type recordingCandleSink struct {
	sets, appends, replaces int
}

func (r *recordingCandleSink) SetCandleSeries(bars []Bar) { r.sets++ }
func (r *recordingCandleSink) AppendCandle(b Bar)         { r.appends++ }
func (r *recordingCandleSink) ReplaceLastCandle(b Bar)    { r.replaces++ }

func TestSinkNotifications(t *testing.T) {
	sink := &recordingCandleSink{}
	a := NewAggregator(100, 60, sink, zap.NewNop())

	a.SetHistory([]Bar{{OpenTime: 0, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}})
	a.OnTrade(2, 1, 60_000, 1) // new bucket
	a.OnTrade(3, 1, 61_000, 2) // merge

	assert.Equal(t, 1, sink.sets)
	assert.Equal(t, 1, sink.appends)
	assert.Equal(t, 1, sink.replaces)
}

func TestAlignToInterval(t *testing.T) {
	assert.Equal(t, int64(960), AlignToInterval(1000_000, 60))
	assert.Equal(t, int64(0), AlignToInterval(59_999, 60))
	assert.Equal(t, int64(3600), AlignToInterval(3_750_000, 3600))
}
