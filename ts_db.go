package main

import (
	"slices"
	"sync"
	"time"
)

// TSDB stores numeric time series, keyed by metric name. The spooler feeds it
// planner-occupancy samples observed while gating; /query-ts reads it back.
type TSDB struct {
	mu   sync.RWMutex
	data map[string][]sample // sorted by t (increasing order)
}

type sample struct {
	t int64 // unix time in nanosec
	v float64
}

func NewTSDB() *TSDB {
	return &TSDB{
		data: make(map[string][]sample),
	}
}

// Insert adds a data point. If (key, time) exactly matches existing data, it
// is overwritten. Amortized O(log N) when time is newer than the previous
// Insert for the same key, O(N) otherwise.
func (db *TSDB) Insert(key string, tm time.Time, value float64) {
	db.mu.Lock()
	defer db.mu.Unlock()

	newS := sample{t: tm.UnixNano(), v: value}
	samples, ok := db.data[key]
	if !ok {
		db.data[key] = []sample{newS}
		return
	}

	// Append case (most typical)
	if newS.t > samples[len(samples)-1].t {
		db.data[key] = append(samples, newS)
		return
	}

	i, found := slices.BinarySearchFunc(samples, newS.t, func(s sample, t int64) int {
		switch {
		case s.t < t:
			return -1
		case s.t > t:
			return 1
		default:
			return 0
		}
	})
	if found {
		samples[i] = newS
	} else {
		db.data[key] = slices.Insert(samples, i, newS)
	}
}

func sampleTimes(start, end, step int64) []int64 {
	res := []int64{}
	for curr := start; curr <= end; curr += step {
		res = append(res, curr)
	}
	return res
}

// latestInWindow finds the latest sample in [start, end]. Returns nil if none
// exists. O(log N).
func latestInWindow(start, end int64, sorted []sample) *sample {
	i, _ := slices.BinarySearchFunc(sorted, end, func(s sample, t int64) int {
		switch {
		case s.t < t:
			return -1
		case s.t > t:
			return 1
		default:
			return 0
		}
	})
	i = min(i, len(sorted)-1) // binary search can return len(sorted)
	for i >= 0 {
		t := sorted[i].t
		if start <= t && t <= end {
			return &sorted[i]
		}
		if t < start {
			return nil
		}
		i--
	}
	return nil
}

// QueryRanges samples the given keys at start, start+step, ... up to end.
// For each sample timestamp T the latest data point in the window [T-step, T]
// is returned, or nil when the window is empty. Values are never interpolated
// between samples.
func (db *TSDB) QueryRanges(keys []string, start, end time.Time, step time.Duration) ([]time.Time, map[string][]*float64) {
	sampleTs := sampleTimes(start.UnixNano(), end.UnixNano(), step.Nanoseconds())

	db.mu.RLock()
	defer db.mu.RUnlock()

	tms := make([]time.Time, len(sampleTs))
	for i, t := range sampleTs {
		tms[i] = time.Unix(0, t)
	}

	valsMap := make(map[string][]*float64)
	for _, key := range keys {
		valsMap[key] = make([]*float64, len(sampleTs))
		samples, ok := db.data[key]
		if !ok {
			continue // all values stay nil
		}
		for i, t := range sampleTs {
			if s := latestInWindow(t-step.Nanoseconds(), t, samples); s != nil {
				v := s.v
				valsMap[key][i] = &v
			}
		}
	}
	return tms, valsMap
}
