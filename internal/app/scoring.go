package app

import "time"

// Duel latency tiers. The two lower tiers award the same value on purpose;
// the curve is part of the observed ladder behavior.
const (
	duelFastLatency = 2 * time.Second
	duelSlowLatency = 5 * time.Second
)

// DuelPoints maps an answer's correctness and latency to duel points.
func DuelPoints(correct bool, latency time.Duration) int {
	if !correct {
		return 0
	}
	if latency <= duelFastLatency {
		return 2
	}
	if latency <= duelSlowLatency {
		return 2
	}
	return 1
}

const roomFastLatency = 5 * time.Second

// RoomPoints is the classroom game's curve: a single threshold, both correct
// tiers positive. Kept separate from DuelPoints; the two subsystems use
// different thresholds.
func RoomPoints(correct bool, latency time.Duration) int {
	if !correct {
		return 0
	}
	if latency <= roomFastLatency {
		return 2
	}
	return 1
}
