// Package blockdetect estimates whether a contact has blocked the sending
// number. The provider never reports blocks directly, so the detector infers
// them from delivery behavior: messages that stay unconfirmed, a sinking
// delivery rate and a long silence since the last confirmed delivery.
package blockdetect

import (
	"math"
	"time"
)

// Verdict buckets a probability score.
type Verdict string

const (
	VerdictClear      Verdict = "clear"
	VerdictSuspicious Verdict = "suspicious"
	VerdictBlocked    Verdict = "blocked"
)

const (
	// SuspicionThreshold is the score at or above which a contact gets a
	// delivery issue raised.
	SuspicionThreshold = 50
	// BlockThreshold is the score at or above which a contact is flagged
	// blocked and its sequence paused.
	BlockThreshold = 80
)

// Metrics is the per-contact delivery history the heuristic scores.
type Metrics struct {
	ConsecutiveUndelivered int
	TotalMessagesSent      int
	TotalMessagesDelivered int
	LastDeliveredAt        *time.Time
}

// CalculateBlockProbability scores the metrics 0..100. A contact with no
// history scores zero.
func CalculateBlockProbability(m Metrics, now time.Time) int {
	score := 0

	switch {
	case m.ConsecutiveUndelivered >= 5:
		score += 60
	case m.ConsecutiveUndelivered >= 3:
		score += 40
	case m.ConsecutiveUndelivered >= 2:
		score += 20
	case m.ConsecutiveUndelivered >= 1:
		score += 10
	}

	if m.TotalMessagesSent > 0 {
		rate := float64(m.TotalMessagesDelivered) / float64(m.TotalMessagesSent)
		switch {
		case rate < 0.5:
			score += 30
		case rate < 0.7:
			score += 15
		}
	}

	if m.LastDeliveredAt != nil {
		silence := now.Sub(*m.LastDeliveredAt)
		switch {
		case silence > 7*24*time.Hour:
			score += 20
		case silence > 3*24*time.Hour:
			score += 10
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

// VerdictFor maps a probability score to a verdict.
func VerdictFor(probability int) Verdict {
	switch {
	case probability >= BlockThreshold:
		return VerdictBlocked
	case probability >= SuspicionThreshold:
		return VerdictSuspicious
	default:
		return VerdictClear
	}
}

// auditProbability scores one audit pass over a contact's stale messages:
// the undelivered share of the checked batch, boosted once the consecutive
// run gets long.
func auditProbability(undelivered, checked, consecutive int) int {
	if checked == 0 {
		return 0
	}
	p := int(math.Round(100 * float64(undelivered) / float64(checked)))
	if consecutive >= 3 {
		p += consecutive * 10
	}
	if p > 100 {
		p = 100
	}
	return p
}
