package book

import (
	"testing"

	"feedsync/pkg/binance"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func update(first, final uint64, bids, asks [][]string) binance.DepthUpdate {
	return binance.DepthUpdate{
		EventType: "depthUpdate",
		Symbol:    "BTCUSDT",
		FirstID:   first,
		FinalID:   final,
		Bids:      bids,
		Asks:      asks,
	}
}

func snapshot(lastID uint64, bids, asks [][]string) *binance.DepthSnapshot {
	return &binance.DepthSnapshot{LastUpdateID: lastID, Bids: bids, Asks: asks}
}

func TestBufferReplayBridgesSnapshot(t *testing.T) {
	s := NewSynchronizer(100, nil, zap.NewNop())

	// Updates arrive before the snapshot and are buffered.
	assert.Equal(t, ResultBuffered, s.OnDepthUpdate(update(95, 98, [][]string{{"100", "1"}}, nil)))
	assert.Equal(t, ResultBuffered, s.OnDepthUpdate(update(99, 102, [][]string{{"101", "2"}}, nil)))
	assert.Equal(t, ResultBuffered, s.OnDepthUpdate(update(103, 105, nil, [][]string{{"110", "3"}})))
	require.False(t, s.Ready())

	s.OnSnapshot(snapshot(100, [][]string{{"99", "5"}}, [][]string{{"111", "4"}}))

	require.True(t, s.Ready())
	// First buffered event (u=98 <= 100) dropped as stale, second bridges
	// the boundary, third applies in sequence.
	assert.Equal(t, uint64(106), s.Expected())

	bids := s.Book().Bids()
	require.Len(t, bids, 2)
	assert.Equal(t, Level{Price: 101, Quantity: 2}, bids[0])
	assert.Equal(t, Level{Price: 99, Quantity: 5}, bids[1])

	asks := s.Book().Asks()
	require.Len(t, asks, 2)
	assert.Equal(t, Level{Price: 110, Quantity: 3}, asks[0])
}

func TestGapTriggersResync(t *testing.T) {
	s := NewSynchronizer(100, nil, zap.NewNop())
	s.OnSnapshot(snapshot(119, [][]string{{"100", "1"}}, nil))
	require.Equal(t, uint64(120), s.Expected())

	res := s.OnDepthUpdate(update(150, 160, [][]string{{"101", "1"}}, nil))
	assert.Equal(t, ResultGap, res)

	// Book is not ready, state cleared; new updates buffer again.
	assert.False(t, s.Ready())
	assert.Empty(t, s.Book().Bids())
	assert.Equal(t, ResultBuffered, s.OnDepthUpdate(update(161, 162, nil, nil)))
}

func TestStaleUpdateIsNoOp(t *testing.T) {
	s := NewSynchronizer(100, nil, zap.NewNop())
	s.OnSnapshot(snapshot(100, nil, nil))

	assert.Equal(t, ResultApplied, s.OnDepthUpdate(update(101, 103, [][]string{{"50", "1"}}, nil)))
	before := s.Book().Bids()

	// Replaying the same range (or anything below it) changes nothing.
	assert.Equal(t, ResultDropped, s.OnDepthUpdate(update(101, 103, [][]string{{"50", "9"}}, nil)))
	assert.Equal(t, ResultDropped, s.OnDepthUpdate(update(99, 100, [][]string{{"50", "9"}}, nil)))
	assert.Equal(t, before, s.Book().Bids())
	assert.Equal(t, uint64(104), s.Expected())
}

func TestSequentialDeltasMatchCumulativeDelta(t *testing.T) {
	mkUpdates := func() []binance.DepthUpdate {
		return []binance.DepthUpdate{
			update(101, 102, [][]string{{"100", "1"}, {"99", "2"}}, [][]string{{"101", "1"}}),
			update(103, 105, [][]string{{"100", "3"}}, [][]string{{"101", "0"}, {"102", "4"}}),
			update(106, 106, [][]string{{"99", "0"}}, [][]string{{"102", "5"}}),
		}
	}

	// Apply the sequence one update at a time.
	seq := NewSynchronizer(100, nil, zap.NewNop())
	seq.OnSnapshot(snapshot(100, nil, nil))
	for _, u := range mkUpdates() {
		require.Equal(t, ResultApplied, seq.OnDepthUpdate(u))
	}

	// Apply the equivalent cumulative delta directly.
	cum := New()
	cum.ApplyDelta(
		[]Level{{Price: 100, Quantity: 3}, {Price: 99, Quantity: 0}},
		[]Level{{Price: 101, Quantity: 0}, {Price: 102, Quantity: 5}},
		106,
	)

	assert.Equal(t, cum.Bids(), seq.Book().Bids())
	assert.Equal(t, cum.Asks(), seq.Book().Asks())
	assert.Equal(t, uint64(107), seq.Expected())
}

func TestBufferBoundDropsOldest(t *testing.T) {
	s := NewSynchronizer(2, nil, zap.NewNop())
	s.OnDepthUpdate(update(101, 101, [][]string{{"1", "1"}}, nil))
	s.OnDepthUpdate(update(102, 102, [][]string{{"2", "2"}}, nil))
	s.OnDepthUpdate(update(103, 103, [][]string{{"3", "3"}}, nil))

	// First update fell off the bounded buffer, so replay cannot bridge
	// lastUpdateId 100 and is abandoned; the snapshot alone survives.
	s.OnSnapshot(snapshot(100, [][]string{{"9", "9"}}, nil))
	require.True(t, s.Ready())
	assert.Equal(t, uint64(101), s.Expected())
	assert.Equal(t, []Level{{Price: 9, Quantity: 9}}, s.Book().Bids())
}

func TestAbandonedReplayRecoversViaLiveGap(t *testing.T) {
	s := NewSynchronizer(100, nil, zap.NewNop())
	// Buffered stream starts well past the snapshot boundary.
	s.OnDepthUpdate(update(200, 205, [][]string{{"1", "1"}}, nil))
	s.OnSnapshot(snapshot(100, nil, nil))

	require.True(t, s.Ready())
	assert.Equal(t, uint64(101), s.Expected())

	// The next live update exposes the gap and forces a fresh snapshot.
	assert.Equal(t, ResultGap, s.OnDepthUpdate(update(206, 210, nil, nil)))
	assert.False(t, s.Ready())
}

type recordingSink struct {
	snapshots   int
	deltas      int
	lastFinalID uint64
}

func (r *recordingSink) ApplyDepthSnapshot(bids, asks []Level, lastUpdateID uint64) { r.snapshots++ }

func (r *recordingSink) ApplyDepthDelta(bids, asks []Level, finalUpdateID uint64) {
	r.deltas++
	r.lastFinalID = finalUpdateID
}

func TestSinkReceivesSnapshotThenDeltas(t *testing.T) {
	sink := &recordingSink{}
	s := NewSynchronizer(100, sink, zap.NewNop())

	s.OnDepthUpdate(update(101, 102, [][]string{{"10", "1"}}, nil))
	s.OnSnapshot(snapshot(100, nil, nil))
	s.OnDepthUpdate(update(103, 104, [][]string{{"11", "1"}}, nil))

	assert.Equal(t, 1, sink.snapshots)
	assert.Equal(t, 2, sink.deltas) // one replayed, one live
	assert.Equal(t, uint64(104), sink.lastFinalID)
}
