package market

import "context"

// Gap is a missing stretch of the timeframe grid, inclusive on both ends.
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport compares the stored candles against the expected grid.
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps"`
}

func (r IntegrityReport) Complete() bool {
	return r.Expected > 0 && r.Present >= r.Expected && len(r.Gaps) == 0
}

// CheckIntegrity walks the grid between start and end and reports which
// candles are missing. start/end must already be aligned to the timeframe.
func (s *Store) CheckIntegrity(ctx context.Context, symbol, timeframe string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	report := IntegrityReport{Expected: tf.ExpectedCandles(start, end)}
	present, err := s.LoadOpenTimes(ctx, symbol, timeframe, start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	report.Present = int64(len(present))
	step := tf.DurationMillis()
	idx := 0
	var gapStart int64 = -1
	for ts := start; ts <= end; ts += step {
		have := idx < len(present) && present[idx] == ts
		if have {
			idx++
			if gapStart >= 0 {
				report.Gaps = append(report.Gaps, Gap{From: gapStart, To: ts - step})
				gapStart = -1
			}
			continue
		}
		if gapStart < 0 {
			gapStart = ts
		}
	}
	if gapStart >= 0 {
		report.Gaps = append(report.Gaps, Gap{From: gapStart, To: end})
	}
	return report, nil
}
