package binance

import "fmt"

// KlineInterval is the interval string used for API requests and stream names.
type KlineInterval string

// KlineIntervalMeta holds the API value and bucket length for a kline interval.
type KlineIntervalMeta struct {
	APIValue string
	Seconds  int64
}

const (
	Interval1Min   KlineInterval = "1m"
	Interval3Min   KlineInterval = "3m"
	Interval5Min   KlineInterval = "5m"
	Interval15Min  KlineInterval = "15m"
	Interval30Min  KlineInterval = "30m"
	Interval1Hour  KlineInterval = "1h"
	Interval2Hour  KlineInterval = "2h"
	Interval4Hour  KlineInterval = "4h"
	Interval6Hour  KlineInterval = "6h"
	Interval12Hour KlineInterval = "12h"
	IntervalDaily  KlineInterval = "1d"
	IntervalWeekly KlineInterval = "1w"
)

// validKlineIntervals maps KlineInterval to its API representation and bucket length.
var validKlineIntervals = map[KlineInterval]KlineIntervalMeta{
	Interval1Min:   {APIValue: "1m", Seconds: 60},
	Interval3Min:   {APIValue: "3m", Seconds: 3 * 60},
	Interval5Min:   {APIValue: "5m", Seconds: 5 * 60},
	Interval15Min:  {APIValue: "15m", Seconds: 15 * 60},
	Interval30Min:  {APIValue: "30m", Seconds: 30 * 60},
	Interval1Hour:  {APIValue: "1h", Seconds: 60 * 60},
	Interval2Hour:  {APIValue: "2h", Seconds: 2 * 60 * 60},
	Interval4Hour:  {APIValue: "4h", Seconds: 4 * 60 * 60},
	Interval6Hour:  {APIValue: "6h", Seconds: 6 * 60 * 60},
	Interval12Hour: {APIValue: "12h", Seconds: 12 * 60 * 60},
	IntervalDaily:  {APIValue: "1d", Seconds: 24 * 60 * 60},
	IntervalWeekly: {APIValue: "1w", Seconds: 7 * 24 * 60 * 60},
}

// IsValid checks if the KlineInterval is a valid predefined interval.
func (k KlineInterval) IsValid() bool {
	_, ok := validKlineIntervals[k]
	return ok
}

// ParseKlineInterval parses a string into a valid KlineIntervalMeta.
func ParseKlineInterval(s string) (KlineIntervalMeta, error) {
	meta, ok := validKlineIntervals[KlineInterval(s)]
	if !ok {
		return KlineIntervalMeta{}, fmt.Errorf("invalid KlineInterval: %s", s)
	}
	return meta, nil
}
