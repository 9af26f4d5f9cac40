package book

import (
	"feedsync/pkg/binance"

	"go.uber.org/zap"
)

// DepthSink receives the synchronizer's output: one snapshot call whenever
// the book is rebuilt, then one delta call per accepted update.
type DepthSink interface {
	ApplyDepthSnapshot(bids, asks []Level, lastUpdateID uint64)
	ApplyDepthDelta(bids, asks []Level, finalUpdateID uint64)
}

// Result classifies what the synchronizer did with a depth update.
type Result int

const (
	ResultBuffered Result = iota // snapshot not applied yet, update held for replay
	ResultApplied
	ResultDropped // stale or duplicate, final id below the expected sequence
	ResultGap     // discontinuity detected, caller must fetch a fresh snapshot
)

// Synchronizer reconciles a REST snapshot with the buffered diff stream.
//
// Protocol: updates arriving before the snapshot are buffered (bounded).
// When the snapshot lands, stale buffered updates are discarded, the first
// survivor must bridge lastUpdateId+1, and the rest replay in order. Live
// updates then apply directly, with any sequence gap forcing a resync.
// Not safe for concurrent use; the owning subscription serializes calls.
type Synchronizer struct {
	log       *zap.Logger
	sink      DepthSink
	book      *Book
	buffer    []binance.DepthUpdate
	maxBuffer int
	ready     bool
	expected  uint64 // next firstUpdateId we can accept
}

func NewSynchronizer(maxBuffer int, sink DepthSink, log *zap.Logger) *Synchronizer {
	return &Synchronizer{
		log:       log,
		sink:      sink,
		book:      New(),
		maxBuffer: maxBuffer,
	}
}

func (s *Synchronizer) Ready() bool      { return s.ready }
func (s *Synchronizer) Book() *Book      { return s.book }
func (s *Synchronizer) Expected() uint64 { return s.expected }

// Reset clears the book, the replay buffer and the ready flag. Called on
// resubscribe, reconnect and gap detection; a new snapshot fetch follows.
func (s *Synchronizer) Reset() {
	s.book.Reset()
	s.buffer = nil
	s.ready = false
	s.expected = 0
}

// OnDepthUpdate feeds one stream update through the protocol.
// A ResultGap return means the caller must reset its snapshot fetch.
func (s *Synchronizer) OnDepthUpdate(u binance.DepthUpdate) Result {
	if !s.ready {
		// Safety bound, not a correctness path: with no snapshot in sight
		// the oldest buffered updates are the first to lose relevance.
		if len(s.buffer) >= s.maxBuffer {
			s.buffer = s.buffer[1:]
		}
		s.buffer = append(s.buffer, u)
		return ResultBuffered
	}

	if u.FinalID < s.expected {
		return ResultDropped // stale or duplicate
	}
	if u.FirstID > s.expected {
		s.log.Warn("depth sequence gap, forcing resync",
			zap.Uint64("expected", s.expected),
			zap.Uint64("first_id", u.FirstID),
			zap.Uint64("final_id", u.FinalID))
		s.Reset()
		return ResultGap
	}

	s.apply(u)
	return ResultApplied
}

// OnSnapshot installs a REST snapshot as the new book state and replays the
// buffered updates against it.
func (s *Synchronizer) OnSnapshot(snap *binance.DepthSnapshot) {
	bids := ParseLevels(snap.Bids)
	asks := ParseLevels(snap.Asks)

	s.book.ApplySnapshot(bids, asks, snap.LastUpdateID)
	s.expected = snap.LastUpdateID + 1
	s.ready = true

	if s.sink != nil {
		s.sink.ApplyDepthSnapshot(bids, asks, snap.LastUpdateID)
	}

	s.replayBuffer(snap.LastUpdateID)
	s.buffer = nil
}

func (s *Synchronizer) replayBuffer(lastUpdateID uint64) {
	bridged := false
	for _, u := range s.buffer {
		if u.FinalID <= lastUpdateID {
			continue // predates the snapshot
		}
		if !bridged {
			// The first surviving update must straddle lastUpdateId+1;
			// otherwise the buffer misses events and replay is abandoned.
			// The next live update will come in above expected and
			// trigger the resync path.
			if u.FirstID > lastUpdateID+1 {
				s.log.Warn("buffered updates do not bridge snapshot, abandoning replay",
					zap.Uint64("last_update_id", lastUpdateID),
					zap.Uint64("first_id", u.FirstID))
				return
			}
			bridged = true
		} else if u.FinalID < s.expected {
			continue // duplicate of an already replayed range
		} else if u.FirstID > s.expected {
			s.log.Warn("gap inside replay buffer, abandoning replay",
				zap.Uint64("expected", s.expected),
				zap.Uint64("first_id", u.FirstID))
			return
		}
		s.apply(u)
	}
}

func (s *Synchronizer) apply(u binance.DepthUpdate) {
	bids := ParseLevels(u.Bids)
	asks := ParseLevels(u.Asks)
	s.book.ApplyDelta(bids, asks, u.FinalID)
	s.expected = u.FinalID + 1

	if s.sink != nil {
		s.sink.ApplyDepthDelta(bids, asks, u.FinalID)
	}
}
