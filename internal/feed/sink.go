package feed

import (
	"feedsync/internal/book"
	"feedsync/internal/candles"
)

// Trade is one normalized trade, as handed to sinks and the trade tape.
type Trade struct {
	SequenceID   uint64
	Price        float64
	Quantity     float64
	TimestampMs  int64
	IsBuyerMaker bool
}

// Sink receives everything the engine derives for one subscription.
// Implementations are simple setters; the engine calls them from a single
// goroutine per subscription, so no method needs to be re-entrant for the
// same subscription key.
type Sink interface {
	book.DepthSink
	candles.CandleSink

	AppendTrade(t Trade)
	ConnectionState(st StateChange)

	// Warning surfaces persistent, user-actionable failure states
	// (snapshot unavailable, polling fallback). Advisory only.
	Warning(msg string)
}
