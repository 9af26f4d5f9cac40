// Package memorystore holds the query side of the engine: per-subscription
// market views that downstream consumers (UI, alerts, calculations) read
// while the feed engine writes.
package memorystore

import (
	"sync"

	"feedsync/internal/book"
	"feedsync/internal/candles"
	"feedsync/internal/feed"
	"feedsync/internal/ringbuf"
)

// tape entry layout: [sequenceId, price, quantity, timestampMs, isBuyerMaker]
const tradeFields = 5

// Store maps subscription keys to market views.
type Store struct {
	globalMu      sync.RWMutex
	tradeCapacity int
	maxCandles    int
	data          map[feed.Key]*MarketView
}

func NewStore(tradeCapacity, maxCandles int) *Store {
	return &Store{
		tradeCapacity: tradeCapacity,
		maxCandles:    maxCandles,
		data:          make(map[feed.Key]*MarketView),
	}
}

// View returns the market view for a key, creating it on first use.
// The returned view implements feed.Sink.
func (s *Store) View(key feed.Key) *MarketView {
	// Fast path: view already exists
	s.globalMu.RLock()
	v, ok := s.data[key]
	s.globalMu.RUnlock()
	if ok {
		return v
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if v, ok = s.data[key]; !ok {
		tape, err := ringbuf.New(s.tradeCapacity, tradeFields)
		if err != nil {
			// capacity comes from validated config; a bad value here is
			// a programming error
			panic(err)
		}
		v = &MarketView{book: book.New(), tape: tape, maxCandles: s.maxCandles}
		s.data[key] = v
	}
	return v
}

// Drop removes a key's view, e.g. after unsubscribe.
func (s *Store) Drop(key feed.Key) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	delete(s.data, key)
}

// Keys lists all views currently held.
func (s *Store) Keys() []feed.Key {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()
	out := make([]feed.Key, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

// CountCandles returns the total bars stored across all views.
func (s *Store) CountCandles() int {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()
	total := 0
	for _, v := range s.data {
		v.mu.RLock()
		total += len(v.candles)
		v.mu.RUnlock()
	}
	return total
}

// MarketView is the materialized state for one subscription: candle series,
// order book mirror, bounded trade tape, connection state and the last
// advisory warning. Writers come from a single engine goroutine; readers
// may be many, hence the RWMutex.
type MarketView struct {
	mu         sync.RWMutex
	candles    []candles.Bar
	maxCandles int
	book       *book.Book
	tape       *ringbuf.Buffer
	state      feed.StateChange
	warning    string
}

// --- feed.Sink implementation (engine-side writes) ---

func (v *MarketView) SetCandleSeries(bars []candles.Bar) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.candles = v.candles[:0]
	v.candles = append(v.candles, bars...)
	v.trimCandles()
}

func (v *MarketView) AppendCandle(b candles.Bar) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.candles = append(v.candles, b)
	v.trimCandles()
}

// trimCandles keeps the mirror within the same bound as the engine's series.
// Callers hold the write lock.
func (v *MarketView) trimCandles() {
	if v.maxCandles > 0 && len(v.candles) > v.maxCandles {
		v.candles = v.candles[len(v.candles)-v.maxCandles:]
	}
}

func (v *MarketView) ReplaceLastCandle(b candles.Bar) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.candles) == 0 {
		v.candles = append(v.candles, b)
		return
	}
	v.candles[len(v.candles)-1] = b
}

func (v *MarketView) ApplyDepthSnapshot(bids, asks []book.Level, lastUpdateID uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.book.ApplySnapshot(bids, asks, lastUpdateID)
}

func (v *MarketView) ApplyDepthDelta(bids, asks []book.Level, finalUpdateID uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.book.ApplyDelta(bids, asks, finalUpdateID)
}

func (v *MarketView) AppendTrade(t feed.Trade) {
	v.mu.Lock()
	defer v.mu.Unlock()
	maker := 0.0
	if t.IsBuyerMaker {
		maker = 1
	}
	// width always matches tradeFields, error unreachable
	_ = v.tape.Push([]float64{
		float64(t.SequenceID), t.Price, t.Quantity, float64(t.TimestampMs), maker,
	})
}

func (v *MarketView) ConnectionState(st feed.StateChange) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = st
}

func (v *MarketView) Warning(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.warning = msg
}

// --- read side ---

// Candles returns a copy of the series, oldest first.
func (v *MarketView) Candles() []candles.Bar {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]candles.Bar, len(v.candles))
	copy(out, v.candles)
	return out
}

// Depth returns both sides best-first, truncated to limit levels per side
// (limit <= 0 returns everything), plus the last applied update id.
func (v *MarketView) Depth(limit int) (bids, asks []book.Level, lastUpdateID uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	bids = v.book.Bids()
	asks = v.book.Asks()
	if limit > 0 {
		if len(bids) > limit {
			bids = bids[:limit]
		}
		if len(asks) > limit {
			asks = asks[:limit]
		}
	}
	return bids, asks, v.book.LastUpdateID()
}

// Trades reconstructs the tape, oldest first.
func (v *MarketView) Trades() []feed.Trade {
	v.mu.RLock()
	defer v.mu.RUnlock()
	raw := v.tape.ToArray()
	out := make([]feed.Trade, len(raw))
	for i, e := range raw {
		out[i] = feed.Trade{
			SequenceID:   uint64(e[0]),
			Price:        e[1],
			Quantity:     e[2],
			TimestampMs:  int64(e[3]),
			IsBuyerMaker: e[4] != 0,
		}
	}
	return out
}

// State returns the latest connection state change.
func (v *MarketView) State() feed.StateChange {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// LastWarning returns the most recent advisory warning, empty if none.
func (v *MarketView) LastWarning() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.warning
}
