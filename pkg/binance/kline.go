package binance

import "strconv"

// ParseKlineRows converts REST kline rows to []KlinePayload.
// It safely skips malformed rows; Closed is set to true since REST only
// serves committed history (the trailing bar is close enough).
func ParseKlineRows(interval string, raw [][]any) []KlinePayload {
	var out []KlinePayload

	for _, row := range raw {
		if len(row) < 7 {
			continue // skip incomplete row
		}

		start, ok := asInt64(row[0])
		if !ok {
			continue
		}
		end, ok := asInt64(row[6])
		if !ok {
			continue
		}

		fields := make([]string, 0, 5)
		valid := true
		for _, cell := range row[1:6] {
			s, ok := cell.(string)
			if !ok {
				valid = false
				break
			}
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				valid = false
				break
			}
			fields = append(fields, s)
		}
		if !valid {
			continue
		}

		out = append(out, KlinePayload{
			Start:    start,
			End:      end,
			Interval: interval,
			Open:     fields[0],
			High:     fields[1],
			Low:      fields[2],
			Close:    fields[3],
			Volume:   fields[4],
			Closed:   true,
		})
	}
	return out
}

// asInt64 accepts the numeric cells of a kline row, which decode as float64
// from JSON but may be produced as int64 by test fixtures.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
