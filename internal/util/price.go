// Package util provides common utility functions for price calculations.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick == 0 {
		return x
	}
	tick = math.Abs(tick)
	return math.Round(x/tick) * tick
}

// FloorToTick rounds x down to the nearest tick increment.
func FloorToTick(x, tick float64) float64 {
	if tick == 0 {
		return x
	}
	tick = math.Abs(tick)
	return math.Floor(x/tick) * tick
}

// CeilToTick rounds x up to the nearest tick increment.
func CeilToTick(x, tick float64) float64 {
	if tick == 0 {
		return x
	}
	tick = math.Abs(tick)
	return math.Ceil(x/tick) * tick
}

// ClampToMinTick raises x to the minimum tick when it falls below it.
// Synthetic premiums must never go negative or below one tick.
func ClampToMinTick(x, tick float64) float64 {
	if tick <= 0 {
		tick = 0.01
	}
	if x < tick {
		return tick
	}
	return x
}
