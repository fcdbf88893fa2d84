// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package estimate

import "math"

// Limits mirrors the board settings that govern motion timing.
type Limits struct {
	MaxRateX          float64 // mm/min ($110)
	MaxRateY          float64 // mm/min ($111)
	MaxAccelX         float64 // mm/s^2 ($120)
	MaxAccelY         float64 // mm/s^2 ($121)
	JunctionDeviation float64 // mm ($11)

	// DwellPMilliseconds interprets G4 P values as milliseconds instead of
	// seconds, for pre-0.9 firmware.
	DwellPMilliseconds bool
}

// DefaultLimits matches a stock 4xidraw GRBL configuration.
func DefaultLimits() Limits {
	return Limits{
		MaxRateX:          3000,
		MaxRateY:          3000,
		MaxAccelX:         800,
		MaxAccelY:         800,
		JunctionDeviation: 0.01,
	}
}

// Bounds is the axis-aligned extent of a program's motion: the starting
// position plus all motion targets.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

func newBounds() Bounds {
	return Bounds{
		MinX: math.Inf(1), MaxX: math.Inf(-1),
		MinY: math.Inf(1), MaxY: math.Inf(-1),
	}
}

// Empty reports whether no target was ever recorded.
func (b Bounds) Empty() bool {
	return b.MinX > b.MaxX
}

func (b *Bounds) update(p point) {
	b.MinX = math.Min(b.MinX, p.x)
	b.MaxX = math.Max(b.MaxX, p.x)
	b.MinY = math.Min(b.MinY, p.y)
	b.MaxY = math.Max(b.MaxY, p.y)
}

func (b Bounds) Width() float64 {
	return b.MaxX - b.MinX
}

func (b Bounds) Height() float64 {
	return b.MaxY - b.MinY
}

type point struct {
	x, y float64
}

func (p point) sub(o point) point {
	return point{p.x - o.x, p.y - o.y}
}

func (p point) length() float64 {
	return math.Hypot(p.x, p.y)
}

func (p point) normalize() point {
	l := p.length()
	return point{p.x / l, p.y / l}
}

func (p point) dot(o point) float64 {
	return p.x*o.x + p.y*o.y
}
