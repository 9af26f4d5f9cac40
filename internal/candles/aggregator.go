package candles

import (
	"strconv"

	"feedsync/pkg/binance"

	"go.uber.org/zap"
)

// CandleSink receives series mutations as they happen: a full reset after
// backfill or polling, an append for every new bar, a replace for every
// in-progress bar update.
type CandleSink interface {
	SetCandleSeries(bars []Bar)
	AppendCandle(b Bar)
	ReplaceLastCandle(b Bar)
}

// Aggregator maintains a bounded candle series from either of two inputs:
// native kline events (relayed directly) or raw trades (bucketed into
// interval-aligned bars). Trades are deduplicated against a sequence-id
// high watermark so REST-polled batches never double-apply.
// Not safe for concurrent use; the owning subscription serializes calls.
type Aggregator struct {
	log           *zap.Logger
	sink          CandleSink
	series        *Series
	intervalSec   int64
	highWatermark uint64 // highest trade sequence id applied
}

func NewAggregator(maxBars int, intervalSec int64, sink CandleSink, log *zap.Logger) *Aggregator {
	return &Aggregator{
		log:         log,
		sink:        sink,
		series:      NewSeries(maxBars),
		intervalSec: intervalSec,
	}
}

func (a *Aggregator) Series() *Series       { return a.series }
func (a *Aggregator) HighWatermark() uint64 { return a.highWatermark }

// Reset empties the series and forgets the trade watermark. Called when the
// subscription changes symbol, interval or source.
func (a *Aggregator) Reset() {
	a.series.Reset()
	a.highWatermark = 0
}

// SetHistory replaces the series wholesale, e.g. from a REST backfill.
func (a *Aggregator) SetHistory(bars []Bar) {
	a.series.SetAll(bars)
	if a.sink != nil {
		a.sink.SetCandleSeries(a.series.Bars())
	}
}

// OnKline relays one native kline event into the series. An event for the
// bar already at the tail updates it in place; a newer bar is appended.
// Unparseable price fields drop the event without touching state.
func (a *Aggregator) OnKline(k binance.KlinePayload) {
	bar, ok := barFromKline(k)
	if !ok {
		a.log.Warn("dropping unparseable kline", zap.Int64("start", k.Start))
		return
	}

	last, exists := a.series.Last()
	switch {
	case !exists || bar.OpenTime > last.OpenTime:
		a.series.Append(bar)
		if a.sink != nil {
			a.sink.AppendCandle(bar)
		}
	case bar.OpenTime == last.OpenTime:
		a.series.ReplaceLast(bar)
		if a.sink != nil {
			a.sink.ReplaceLastCandle(bar)
		}
	default:
		// older than the tail bar: stale, ignore
	}
}

// OnTrade folds one trade into the series using interval bucketing.
// Returns true if the trade mutated the series.
func (a *Aggregator) OnTrade(price, qty float64, timestampMs int64, seqID uint64) bool {
	if seqID != 0 && seqID <= a.highWatermark {
		return false // already applied (stream replay or polled duplicate)
	}
	if seqID != 0 {
		a.highWatermark = seqID
	}

	bucket := AlignToInterval(timestampMs, a.intervalSec)
	last, exists := a.series.Last()

	switch {
	case !exists || bucket > last.OpenTime:
		bar := Bar{OpenTime: bucket, Open: price, High: price, Low: price, Close: price, Volume: qty}
		a.series.Append(bar)
		if a.sink != nil {
			a.sink.AppendCandle(bar)
		}
	case bucket == last.OpenTime:
		if price > last.High {
			last.High = price
		}
		if price < last.Low {
			last.Low = price
		}
		last.Close = price
		last.Volume += qty
		a.series.ReplaceLast(last)
		if a.sink != nil {
			a.sink.ReplaceLastCandle(last)
		}
	default:
		// trade belongs to an already-sealed bucket: straggler, ignore
		return false
	}
	return true
}

// OnTradeBatch folds a REST-polled batch, oldest first, skipping everything
// at or below the high watermark.
func (a *Aggregator) OnTradeBatch(trades []binance.RESTTrade) int {
	applied := 0
	for _, t := range trades {
		if t.ID <= a.highWatermark {
			continue
		}
		price, err := strconv.ParseFloat(t.Price, 64)
		if err != nil {
			continue
		}
		qty, err := strconv.ParseFloat(t.Quantity, 64)
		if err != nil {
			continue
		}
		if a.OnTrade(price, qty, t.Time, t.ID) {
			applied++
		}
	}
	return applied
}

// AlignToInterval floors a millisecond timestamp to its bucket open time
// in seconds.
func AlignToInterval(timestampMs, intervalSec int64) int64 {
	return timestampMs / 1000 / intervalSec * intervalSec
}

// BarsFromKlines converts wire klines to bars, dropping unparseable ones.
func BarsFromKlines(klines []binance.KlinePayload) []Bar {
	out := make([]Bar, 0, len(klines))
	for _, k := range klines {
		if bar, ok := barFromKline(k); ok {
			out = append(out, bar)
		}
	}
	return out
}

func barFromKline(k binance.KlinePayload) (Bar, bool) {
	open, err1 := strconv.ParseFloat(k.Open, 64)
	high, err2 := strconv.ParseFloat(k.High, 64)
	low, err3 := strconv.ParseFloat(k.Low, 64)
	cls, err4 := strconv.ParseFloat(k.Close, 64)
	vol, err5 := strconv.ParseFloat(k.Volume, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return Bar{}, false
	}
	return Bar{
		OpenTime: k.Start / 1000,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    cls,
		Volume:   vol,
	}, true
}
