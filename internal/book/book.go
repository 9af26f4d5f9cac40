// Package book maintains a local order book reconciled against an exchange
// diff depth stream. The Book itself is plain state; Synchronizer drives the
// snapshot/delta protocol that keeps it consistent.
package book

import (
	"sort"
	"strconv"
)

// Level is one price level on either side of the book.
type Level struct {
	Price    float64
	Quantity float64
}

// Book holds the aggregated bid/ask levels and the id of the last applied
// update. Not safe for concurrent use; callers serialize access.
type Book struct {
	bids         map[float64]float64
	asks         map[float64]float64
	lastUpdateID uint64
}

func New() *Book {
	return &Book{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

func (b *Book) LastUpdateID() uint64 { return b.lastUpdateID }

// ApplySnapshot replaces the book contents wholesale.
func (b *Book) ApplySnapshot(bids, asks []Level, lastUpdateID uint64) {
	b.bids = make(map[float64]float64, len(bids))
	b.asks = make(map[float64]float64, len(asks))
	for _, l := range bids {
		if l.Quantity != 0 {
			b.bids[l.Price] = l.Quantity
		}
	}
	for _, l := range asks {
		if l.Quantity != 0 {
			b.asks[l.Price] = l.Quantity
		}
	}
	b.lastUpdateID = lastUpdateID
}

// ApplyDelta upserts the given levels; quantity 0 removes the price level.
func (b *Book) ApplyDelta(bids, asks []Level, finalUpdateID uint64) {
	applySide(b.bids, bids)
	applySide(b.asks, asks)
	if finalUpdateID > b.lastUpdateID {
		b.lastUpdateID = finalUpdateID
	}
}

func applySide(side map[float64]float64, deltas []Level) {
	for _, l := range deltas {
		if l.Quantity == 0 {
			delete(side, l.Price)
		} else {
			side[l.Price] = l.Quantity
		}
	}
}

// Bids returns the bid levels sorted by price descending (best first).
func (b *Book) Bids() []Level {
	out := collect(b.bids)
	sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	return out
}

// Asks returns the ask levels sorted by price ascending (best first).
func (b *Book) Asks() []Level {
	out := collect(b.asks)
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

func collect(side map[float64]float64) []Level {
	out := make([]Level, 0, len(side))
	for p, q := range side {
		out = append(out, Level{Price: p, Quantity: q})
	}
	return out
}

// Reset drops all levels and the update id.
func (b *Book) Reset() {
	b.bids = make(map[float64]float64)
	b.asks = make(map[float64]float64)
	b.lastUpdateID = 0
}

// ParseLevels converts wire [price, quantity] string pairs into levels.
// Malformed pairs are dropped without failing the whole batch.
func ParseLevels(raw [][]string) []Level {
	out := make([]Level, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			continue
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			continue
		}
		out = append(out, Level{Price: price, Quantity: qty})
	}
	return out
}
