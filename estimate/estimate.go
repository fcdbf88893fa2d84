// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package estimate predicts the wall-clock duration and spatial extent of a
// G-code program under GRBL's trapezoidal planner, without touching hardware.
package estimate

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Result carries the outcome of one estimation run.
type Result struct {
	Seconds float64
	Bounds  Bounds
}

var (
	xWord = regexp.MustCompile(`X([-\d.]+)`)
	yWord = regexp.MustCompile(`Y([-\d.]+)`)
	fWord = regexp.MustCompile(`F([-\d.]+)`)
	pWord = regexp.MustCompile(`P([-\d.]+)`)
	sWord = regexp.MustCompile(`S([-\d.]+)`)
)

func isMotion(line string) bool {
	return strings.HasPrefix(line, "G0 ") || strings.HasPrefix(line, "G1 ") ||
		strings.HasPrefix(line, "G00 ") || strings.HasPrefix(line, "G01 ")
}

func isRapid(line string) bool {
	return strings.HasPrefix(line, "G0 ") || strings.HasPrefix(line, "G00 ")
}

// parseMove extracts X/Y/F words from a motion line. Unspecified axes and a
// missing feed carry forward from the current state. Malformed numbers are
// ignored, keeping the carried value.
func parseMove(line string, pos point, feed float64) (point, float64) {
	target := pos
	if m := xWord.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			target.x = v
		}
	}
	if m := yWord.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			target.y = v
		}
	}
	if m := fWord.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			feed = v
		}
	}
	return target, feed
}

// parseDwell returns the dwell duration in seconds. P takes precedence over
// S; its unit is seconds unless the limits say the firmware speaks
// milliseconds.
func parseDwell(line string, limits Limits) float64 {
	if m := pWord.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			if limits.DwellPMilliseconds {
				return v / 1000
			}
			return v
		}
	}
	if m := sWord.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v
		}
	}
	return 0
}

// limitAlong projects per-axis limits onto the motion direction: the motion
// is dominated by its larger axis component, and the achievable magnitude is
// the norm of the per-axis limits scaled by each axis' relative share.
func limitAlong(m point, limX, limY float64) float64 {
	d := m.normalize()
	ax, ay := math.Abs(d.x), math.Abs(d.y)
	den := math.Max(ax, ay)
	return point{limX * ax / den, limY * ay / den}.length()
}

// junctionLimit computes the maximum velocity (mm/min) at which the planner
// may round the corner between two segments, from the junction-deviation
// model: the corner is approximated by an arc whose chord error stays within
// the configured deviation, and centripetal acceleration bounds the speed on
// that arc. Collinear segments yield +Inf (the cruise cap governs); a zero
// segment on either side forces a full stop.
func (l Limits) junctionLimit(m, next point) float64 {
	if m.length() == 0 || next.length() == 0 {
		return 0
	}
	cos := m.normalize().dot(next.normalize())
	cos = math.Max(-1, math.Min(1, cos))
	theta := math.Acos(cos)

	radius := l.JunctionDeviation / math.Sin(theta/2)
	aMax := math.Min(l.MaxAccelX, l.MaxAccelY)
	return math.Sqrt(aMax*radius) * 60
}

// Estimate symbolically executes gcode against the given limits and returns
// the predicted duration plus the bounding box of the starting position and
// all motion targets (empty when the program has no motion). It is
// deterministic and performs no I/O.
func Estimate(gcode string, limits Limits) (Result, error) {
	var (
		pos       point
		velocity  float64 // mm/min, along the previous motion direction
		feed      float64 // mm/min, last programmed F word
		totalTime float64
	)
	bounds := newBounds()

	// Comments and blanks are dropped up front so the single-segment
	// look-ahead always sees the next real command.
	var lines []string
	for _, raw := range strings.Split(gcode, "\n") {
		line := strings.ToUpper(strings.TrimSpace(raw))
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "(") {
			continue
		}
		lines = append(lines, line)
	}

	for i, line := range lines {
		switch {
		case isMotion(line):
			target, newFeed := parseMove(line, pos, feed)
			if bounds.Empty() {
				// The first motion starts from the initial position,
				// so that position is part of the extent too.
				bounds.update(pos)
			}
			bounds.update(target)

			motion := target.sub(pos)
			feed = newFeed
			if motion.length() == 0 {
				// Zero-distance block; the planner drops these.
				continue
			}

			next := target
			if i+1 < len(lines) && isMotion(lines[i+1]) {
				next, _ = parseMove(lines[i+1], target, feed)
			}
			nextMotion := next.sub(target)

			maxFeed := limitAlong(motion, limits.MaxRateX, limits.MaxRateY)
			maxAccel := limitAlong(motion, limits.MaxAccelX, limits.MaxAccelY)

			targetFeed := feed
			if isRapid(line) || targetFeed <= 0 {
				targetFeed = maxFeed
			} else {
				targetFeed = math.Min(targetFeed, maxFeed)
			}

			endVel := math.Min(targetFeed, limits.junctionLimit(motion, nextMotion))

			dt, realEndVel, err := motionTime(motion.length(), velocity, endVel, targetFeed, maxAccel)
			if err != nil {
				return Result{}, fmt.Errorf("motion %q: %w", line, err)
			}
			if realEndVel-endVel > profileEps {
				// Segment too short to brake to the junction speed;
				// the excess carries into the next segment.
				slog.Debug("Junction speed overshoot", "line", line, "target", endVel, "carried", realEndVel)
			} else if endVel-realEndVel > profileEps {
				realEndVel = endVel
			}

			velocity = realEndVel
			pos = target
			totalTime += dt

		case strings.HasPrefix(line, "G4"):
			totalTime += parseDwell(line, limits)

		case strings.HasPrefix(line, "M3"):
			// Pen actuation takes no planner time; surrounding G4
			// dwells encode the physical delay.
		}
	}

	return Result{Seconds: totalTime, Bounds: bounds}, nil
}
