// Package stats derives the end-of-session score and error-rate statistics
// from the recorded event history.
package stats

import (
	"math"
	"time"
)

// Outcome classifies how one event resolved.
type Outcome string

const (
	// Hit means every sprite of the event was struck in order.
	Hit Outcome = "hit"
	// Miss means at least one sprite left the playfield unanswered.
	Miss Outcome = "miss"
	// Wrong means a wrong key or out-of-order strike failed the event.
	Wrong Outcome = "wrong"
)

// HistoryEntry is one appended record of the session event log. Entries are
// immutable once pushed.
type HistoryEntry struct {
	TimeOffsetMs     int64   `json:"timeOffset"`
	Speed            float64 `json:"speed"`
	Outcome          Outcome `json:"result"`
	Letter           string  `json:"letter"`
	EventKind        string  `json:"eventType"`
	EventDurationMs  int64   `json:"eventDuration"`
	ExcludeFromStats bool    `json:"excludeFromStats,omitempty"`
}

// Statistics is the persisted summary of one session.
type Statistics struct {
	StartSpeed       float64 `json:"startSpeed"`
	MaxSpeed         float64 `json:"maxSpeed"`
	TotalScore       int     `json:"totalScore"`
	TotalErrorRate   float64 `json:"totalErrorRate"`
	ErrorRateFirst23 float64 `json:"errorRateFirst23"`
	ErrorRateLast13  float64 `json:"errorRateLast13"`
}

// Summarize computes the session statistics from the history log. Entries
// flagged as excluded (warm-down events) are ignored. The history is split at
// two thirds of the total duration; an entry sitting exactly on the boundary
// counts toward the final third.
func Summarize(history []HistoryEntry, total time.Duration, startSpeed, maxSpeed float64) Statistics {
	summary := Statistics{StartSpeed: startSpeed, MaxSpeed: maxSpeed}

	//1.- Partition the countable entries around the two-thirds boundary.
	boundary := float64(total.Milliseconds()) * 2 / 3
	var countTotal, errTotal, countFirst, errFirst, countLast, errLast int
	for _, entry := range history {
		if entry.ExcludeFromStats {
			continue
		}
		countTotal++
		failed := entry.Outcome != Hit
		if failed {
			errTotal++
		}
		if float64(entry.TimeOffsetMs) < boundary {
			countFirst++
			if failed {
				errFirst++
			}
		} else {
			countLast++
			if failed {
				errLast++
			}
		}
	}

	summary.TotalErrorRate = rate(errTotal, countTotal)
	summary.ErrorRateFirst23 = rate(errFirst, countFirst)
	summary.ErrorRateLast13 = rate(errLast, countLast)

	//2.- Fold speed, volume and accuracy into the single score figure.
	raw := maxSpeed*10 + float64(countTotal)*5 - summary.TotalErrorRate*20
	summary.TotalScore = int(math.Max(0, math.Floor(raw)))
	return summary
}

func rate(errors, count int) float64 {
	if count == 0 {
		return 0
	}
	return 100 * float64(errors) / float64(count)
}
