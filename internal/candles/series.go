// Package candles builds OHLCV bar series from kline events or raw trades.
package candles

// Bar is one OHLCV candle. OpenTime is interval-aligned, in seconds.
type Bar struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Series is a time-ascending sequence of bars with unique open times,
// bounded to a maximum length. Oldest bars are evicted from the front.
// Not safe for concurrent use; the owning subscription serializes access.
type Series struct {
	bars []Bar
	max  int
}

func NewSeries(maxBars int) *Series {
	return &Series{max: maxBars}
}

func (s *Series) Len() int { return len(s.bars) }

func (s *Series) Last() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Append adds a bar at the end and trims from the front past the cap.
func (s *Series) Append(b Bar) {
	s.bars = append(s.bars, b)
	if len(s.bars) > s.max {
		s.bars = s.bars[len(s.bars)-s.max:]
	}
}

// ReplaceLast overwrites the most recent bar in place.
// No-op on an empty series.
func (s *Series) ReplaceLast(b Bar) {
	if len(s.bars) == 0 {
		return
	}
	s.bars[len(s.bars)-1] = b
}

// SetAll replaces the whole series. Bars must be time-ascending; duplicates
// of the previous open time are collapsed to the later entry.
func (s *Series) SetAll(bars []Bar) {
	s.bars = s.bars[:0]
	for _, b := range bars {
		if n := len(s.bars); n > 0 && s.bars[n-1].OpenTime == b.OpenTime {
			s.bars[n-1] = b
			continue
		}
		s.bars = append(s.bars, b)
	}
	if len(s.bars) > s.max {
		s.bars = s.bars[len(s.bars)-s.max:]
	}
}

// Bars returns a copy of all bars, oldest first.
func (s *Series) Bars() []Bar {
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Reset empties the series, keeping the cap.
func (s *Series) Reset() {
	s.bars = s.bars[:0]
}
