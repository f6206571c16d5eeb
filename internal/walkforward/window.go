// Package walkforward validates parameter searches out of sample: it
// splits a date range into rolling train/test windows, optimizes on
// each train range and judges the winner on the test range it never
// saw, then reports how much of the in-sample edge survived.
package walkforward

import (
	"fmt"
	"time"
)

// Window is one train/test split. The test range starts exactly where
// the train range ends.
type Window struct {
	Index      int       `json:"index"`
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
}

// GenerateWindows slides a train+test split across [start, end) by
// step until the test range would pass the end. Spans are durations,
// so the same split works on any timeframe without counting bars.
// Step must be at least the test span, which keeps test ranges
// disjoint. A range too short for one split yields zero windows, not
// an error.
func GenerateWindows(start, end time.Time, train, test, step time.Duration, maxWindows int) ([]Window, error) {
	if train <= 0 || test <= 0 || step <= 0 {
		return nil, fmt.Errorf("train %v, test %v and step %v must all be positive", train, test, step)
	}
	if step < test {
		return nil, fmt.Errorf("step %v below test span %v would overlap test ranges", step, test)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("start %s not before end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if maxWindows < 0 {
		return nil, fmt.Errorf("max windows %d is negative", maxWindows)
	}

	var windows []Window
	for trainStart := start; ; trainStart = trainStart.Add(step) {
		trainEnd := trainStart.Add(train)
		testEnd := trainEnd.Add(test)
		if testEnd.After(end) {
			break
		}
		windows = append(windows, Window{
			Index:      len(windows),
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  trainEnd,
			TestEnd:    testEnd,
		})
		if maxWindows > 0 && len(windows) >= maxWindows {
			break
		}
	}
	return windows, nil
}
