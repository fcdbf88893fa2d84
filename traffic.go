// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"regexp"
	"sync"
	"time"
)

// One payload crossing the serial link.
type trafficLine struct {
	num     int
	dir     string // "up" for board->host, "down" for host->board
	content string
	time    time.Time
}

// formatSpoolerTime formats a time.Time to the standard string format used by
// the API and the session log.
func formatSpoolerTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05.000")
}

// TrafficLog is the in-memory record of everything sent to or received from
// the board, in arrival order.
type TrafficLog struct {
	mu      sync.RWMutex
	lines   []trafficLine
	nextNum int
}

func NewTrafficLog() *TrafficLog {
	return &TrafficLog{nextNum: 1}
}

// Record implements device.Recorder. (thread-safe)
func (tl *TrafficLog) Record(dir string, payload string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	tl.lines = append(tl.lines, trafficLine{
		num:     tl.nextNum,
		dir:     dir,
		content: payload,
		time:    time.Now(),
	})
	tl.nextNum++
}

// ScanRange selects which slice of the log a query starts from.
type ScanRange interface {
	Extract(lines []trafficLine) []trafficLine
}

// RangeScan selects [FromLine, ToLine) by 1-based line number.
// Requirement: ToLine >= FromLine.
type RangeScan struct {
	FromLine *int // inclusive, nil means from beginning
	ToLine   *int // exclusive, nil means to end
}

func (r RangeScan) Extract(lines []trafficLine) []trafficLine {
	start := 0
	if r.FromLine != nil && *r.FromLine > 0 {
		start = *r.FromLine - 1
		if start >= len(lines) {
			return nil
		}
	}

	end := len(lines)
	if r.ToLine != nil && *r.ToLine > 0 {
		end = min(*r.ToLine-1, len(lines))
	}
	if start >= end {
		return nil
	}
	return lines[start:end]
}

// TailScan selects the last N lines.
type TailScan struct {
	N int
}

func (t TailScan) Extract(lines []trafficLine) []trafficLine {
	if t.N <= 0 {
		return nil
	}
	if t.N >= len(lines) {
		return lines
	}
	return lines[len(lines)-t.N:]
}

// QueryOptions narrows a traffic query. All filters are optional and combine
// with AND.
type QueryOptions struct {
	Scan        ScanRange // nil means all lines
	FilterDir   string    // "up" or "down", empty means any
	FilterRegex *regexp.Regexp
}

// Query returns matching lines in line-number order. (thread-safe)
func (tl *TrafficLog) Query(opts QueryOptions) []trafficLine {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	lines := tl.lines
	if opts.Scan != nil {
		lines = opts.Scan.Extract(lines)
	}

	var result []trafficLine
	for _, l := range lines {
		if opts.FilterDir != "" && l.dir != opts.FilterDir {
			continue
		}
		if opts.FilterRegex != nil && !opts.FilterRegex.MatchString(l.content) {
			continue
		}
		result = append(result, l)
	}
	return result
}
