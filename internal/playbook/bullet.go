// Package playbook implements temporal relevance scoring and lifecycle
// management for playbook bullets: small units of learned knowledge whose
// value decays as they go unused and compounds as they prove themselves.
package playbook

import (
	"math"
	"time"
)

const (
	// RecencyDecayRate is the exponential decay constant for recency
	// scoring. 0.1 per day puts the half-life at roughly seven days.
	RecencyDecayRate = 0.1

	// FrequencyWindowDays is the trailing window used for frequency
	// scoring and also its normalization divisor.
	FrequencyWindowDays = 30

	// staleRecencyFloor marks a bullet stale once recency decays below
	// it, regardless of how the inactivity cutoff is configured. At the
	// default decay rate this lines up with ~30 days of silence.
	staleRecencyFloor = 0.05
)

// Bullet is one unit of playbook knowledge together with its full usage
// history. Counters only ever grow; corrections arrive as new merge deltas,
// not edits.
type Bullet struct {
	ID            string      `json:"id"`
	Content       string      `json:"content"`
	BulletType    string      `json:"bullet_type"`
	HelpfulCount  int         `json:"helpful_count"`
	HarmfulCount  int         `json:"harmful_count"`
	CreatedAt     time.Time   `json:"created_at"`
	LastUsedAt    time.Time   `json:"last_used_at"`
	UsageTimeline []time.Time `json:"usage_timeline"`
	TaskTypesUsed []string    `json:"task_types_used"`
}

// New creates a bullet born at the given time. Both timestamps start at
// that instant and the history starts empty; creation itself is not a use.
func New(id, content, bulletType string, at time.Time) *Bullet {
	return &Bullet{
		ID:         id,
		Content:    content,
		BulletType: bulletType,
		CreatedAt:  at,
		LastUsedAt: at,
	}
}

// wholeDays is the floored number of whole days from one instant to a later
// one. A "from" less than 24h in the future still floors to -1, which keeps
// slightly-future timestamps from blowing up the scoring.
func wholeDays(from, to time.Time) int {
	return int(math.Floor(to.Sub(from).Hours() / 24))
}

// DaysInactive returns whole days since the bullet was last used.
func (b *Bullet) DaysInactive(at time.Time) int {
	return wholeDays(b.LastUsedAt, at)
}

// AgeDays returns whole days since the bullet was created.
func (b *Bullet) AgeDays(at time.Time) int {
	return wholeDays(b.CreatedAt, at)
}

// RecencyScore is exp(-RecencyDecayRate * days since last use). 1.0 the day
// a bullet is used, decaying toward zero; above 1.0 when last_used_at sits
// in the future, since the day count floors negative.
func (b *Bullet) RecencyScore(at time.Time) float64 {
	return math.Exp(-RecencyDecayRate * float64(b.DaysInactive(at)))
}

// FrequencyScore is the number of timeline entries within the trailing
// window, divided by the window length. It is not clamped: more than one
// use per day on average pushes it past 1.0.
func (b *Bullet) FrequencyScore(at time.Time) float64 {
	recent := 0
	for _, used := range b.UsageTimeline {
		if wholeDays(used, at) <= FrequencyWindowDays {
			recent++
		}
	}
	return float64(recent) / float64(FrequencyWindowDays)
}

// UtilityScore is the helpful count minus the harmful count. Negative when
// a bullet has done more damage than good.
func (b *Bullet) UtilityScore() float64 {
	return float64(b.HelpfulCount - b.HarmfulCount)
}

// RelevanceScore combines the three signals:
//
//	utility * recency * (1 + frequency)
//
// Recency scales utility down as the bullet sits idle, frequency boosts it
// for sustained use. A negative utility makes the whole score negative, so
// harmful bullets sink below fresh-but-neutral ones in any ranking.
func (b *Bullet) RelevanceScore(at time.Time) float64 {
	return b.UtilityScore() * b.RecencyScore(at) * (1 + b.FrequencyScore(at))
}

// MarkUsed records a use at the given time: last_used_at moves, the
// timeline grows by one entry, and the task type joins task_types_used if
// it is non-empty and new. Marking is unconditional even when the given
// time precedes the current last_used_at; history ordering is the caller's
// problem.
func (b *Bullet) MarkUsed(taskType string, at time.Time) {
	b.LastUsedAt = at
	b.UsageTimeline = append(b.UsageTimeline, at)
	if taskType != "" && !b.UsedForTask(taskType) {
		b.TaskTypesUsed = append(b.TaskTypesUsed, taskType)
	}
}

// UsedForTask reports whether the bullet has ever been used for the given
// task type.
func (b *Bullet) UsedForTask(taskType string) bool {
	for _, tt := range b.TaskTypesUsed {
		if tt == taskType {
			return true
		}
	}
	return false
}

// ShouldArchive reports whether the bullet is stale at the given time:
// inactive for at least minInactiveDays, or recency already below the
// floor. Utility does not factor in; a heavily-reinforced bullet goes stale
// on the same schedule as a marginal one.
func (b *Bullet) ShouldArchive(minInactiveDays int, at time.Time) bool {
	return b.DaysInactive(at) >= minInactiveDays || b.RecencyScore(at) < staleRecencyFloor
}
