package playbook

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultArchiveInactiveDays is how long a bullet may sit unused before an
// archive sweep moves it out of the active collection.
const DefaultArchiveInactiveDays = 30

// Curator owns an active bullet collection and its archive, and applies the
// lifecycle operations: merging deltas from upstream reflection, sweeping
// stale bullets into the archive, relevance-ranked retrieval, and stats.
//
// All operations take an explicit reference time so callers replaying
// history or testing decay get deterministic results; the zero time means
// "now" per the curator's clock. A single mutex serializes operations, so
// each one observes and produces a consistent collection.
type Curator struct {
	mu       sync.Mutex
	active   []*Bullet
	archived []*Bullet

	archiveInactiveDays int
	matcher             Matcher
	now                 func() time.Time
	entropy             *rand.Rand
}

// NewCurator creates a curator over the given active bullets, taking
// ownership of the slice. The archive starts empty, matching defaults to
// ExactMatcher, and the clock is the wall clock.
func NewCurator(active []*Bullet) *Curator {
	return &Curator{
		active:              active,
		archiveInactiveDays: DefaultArchiveInactiveDays,
		matcher:             ExactMatcher{},
		now:                 time.Now,
		entropy:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RestoreActive replaces the active collection. Used when rehydrating a
// curator from storage; tuning (matcher, clock, cutoff) is untouched.
func (c *Curator) RestoreActive(active []*Bullet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = active
}

// RestoreArchive replaces the archive collection. Used when rehydrating a
// curator from storage.
func (c *Curator) RestoreArchive(archived []*Bullet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archived = archived
}

// SetArchiveInactiveDays sets the inactivity cutoff used by ArchiveStale
// and the stale count in TemporalStats.
func (c *Curator) SetArchiveInactiveDays(days int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archiveInactiveDays = days
}

// SetMatcher swaps the similarity comparator used by MergeDeltas. A nil
// matcher resets to the exact-content default.
func (c *Curator) SetMatcher(m Matcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m == nil {
		m = ExactMatcher{}
	}
	c.matcher = m
}

// SetClock replaces the time source consulted when an operation is given
// the zero time. A nil clock resets to time.Now.
func (c *Curator) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	c.now = now
}

// resolve maps the zero time to the curator's clock. Callers hold the lock.
func (c *Curator) resolve(at time.Time) time.Time {
	if at.IsZero() {
		return c.now()
	}
	return at
}

// newID mints a ULID whose time component is the given instant.
func (c *Curator) newID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), c.entropy).String()
}

// MergeDeltas folds delta bullets into the active collection at time t.
//
// Each delta is matched against the pre-merge collection. A match absorbs
// the delta: counters accumulate and the bullet is marked used at t (with
// no task type, since a merge is reinforcement rather than task usage). A
// miss makes the delta a new bullet: it keeps its id, or is minted a ULID
// if it arrived without one, and both timestamps are stamped to t. Bullets
// untouched by any delta carry over unchanged behind the touched ones.
//
// It returns how many deltas reinforced existing bullets and how many new
// bullets were added. The same bullet can absorb several deltas in one
// call; it still appears once in the resulting collection.
func (c *Curator) MergeDeltas(deltas []*Bullet, at time.Time) (reinforced, added int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.resolve(at)

	merged := make([]*Bullet, 0, len(c.active)+len(deltas))
	seen := make(map[*Bullet]bool, len(c.active)+len(deltas))

	for _, delta := range deltas {
		if existing := c.matcher.FindSimilar(delta, c.active); existing != nil {
			existing.HelpfulCount += delta.HelpfulCount
			existing.HarmfulCount += delta.HarmfulCount
			existing.MarkUsed("", t)
			reinforced++
			if !seen[existing] {
				seen[existing] = true
				merged = append(merged, existing)
			}
			continue
		}
		if delta.ID == "" {
			delta.ID = c.newID(t)
		}
		delta.CreatedAt = t
		delta.LastUsedAt = t
		if !seen[delta] {
			seen[delta] = true
			merged = append(merged, delta)
			added++
		}
	}

	for _, b := range c.active {
		if !seen[b] {
			merged = append(merged, b)
		}
	}

	c.active = merged
	return reinforced, added
}

// ArchiveResult summarizes one archive sweep alongside the bullets it moved.
type ArchiveResult struct {
	ArchivedCount int       `json:"archived_count"`
	ActiveCount   int       `json:"active_count"`
	Archived      []*Bullet `json:"archived_bullets"`
}

// ArchiveStale moves every bullet stale at time t from the active
// collection to the archive, preserving relative order on both sides.
// Staleness ignores utility: a well-reinforced bullet that nobody touches
// ages out on the same schedule as a marginal one, and can return later via
// a merge delta.
func (c *Curator) ArchiveStale(at time.Time) ArchiveResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.resolve(at)

	var kept []*Bullet
	swept := []*Bullet{}
	for _, b := range c.active {
		if b.ShouldArchive(c.archiveInactiveDays, t) {
			swept = append(swept, b)
		} else {
			kept = append(kept, b)
		}
	}
	c.active = kept
	c.archived = append(c.archived, swept...)

	return ArchiveResult{
		ArchivedCount: len(swept),
		ActiveCount:   len(kept),
		Archived:      swept,
	}
}

// Retrieve returns the topK most relevant active bullets at time t, most
// relevant first. Retrieval is itself usage: every returned bullet is
// marked used at t for the given task type, which feeds back into future
// recency and frequency scores.
//
// A non-empty taskType restricts candidates to bullets already used for
// that task, plus never-typed bullets so new knowledge gets a chance
// everywhere. Scores are computed against the pre-retrieval state; ties
// keep collection order. A topK of zero or less returns nothing.
func (c *Curator) Retrieve(taskType string, topK int, at time.Time) []*Bullet {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.resolve(at)

	if topK <= 0 {
		return nil
	}

	candidates := c.active
	if taskType != "" {
		candidates = make([]*Bullet, 0, len(c.active))
		for _, b := range c.active {
			if len(b.TaskTypesUsed) == 0 || b.UsedForTask(taskType) {
				candidates = append(candidates, b)
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	type scored struct {
		bullet *Bullet
		score  float64
	}
	ranked := make([]scored, len(candidates))
	for i, b := range candidates {
		ranked[i] = scored{b, b.RelevanceScore(t)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if topK > len(ranked) {
		topK = len(ranked)
	}
	top := make([]*Bullet, topK)
	for i, r := range ranked[:topK] {
		r.bullet.MarkUsed(taskType, t)
		top[i] = r.bullet
	}
	return top
}

// Stats is a temporal health summary of the active collection. Averages
// are zero when the collection is empty.
type Stats struct {
	TotalBullets    int     `json:"total_bullets"`
	AvgRecency      float64 `json:"avg_recency"`
	AvgFrequency    float64 `json:"avg_frequency"`
	AvgRelevance    float64 `json:"avg_relevance"`
	AvgAgeDays      float64 `json:"avg_age_days"`
	AvgInactiveDays float64 `json:"avg_inactive_days"`
	StaleBullets    int     `json:"stale_bullets"`
}

// TemporalStats reports collection-level decay metrics at time t. It is a
// pure read: no usage is recorded and no bullet moves.
func (c *Curator) TemporalStats(at time.Time) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.resolve(at)

	stats := Stats{TotalBullets: len(c.active)}
	if len(c.active) == 0 {
		return stats
	}

	for _, b := range c.active {
		stats.AvgRecency += b.RecencyScore(t)
		stats.AvgFrequency += b.FrequencyScore(t)
		stats.AvgRelevance += b.RelevanceScore(t)
		stats.AvgAgeDays += float64(b.AgeDays(t))
		stats.AvgInactiveDays += float64(b.DaysInactive(t))
		if b.ShouldArchive(c.archiveInactiveDays, t) {
			stats.StaleBullets++
		}
	}
	n := float64(len(c.active))
	stats.AvgRecency /= n
	stats.AvgFrequency /= n
	stats.AvgRelevance /= n
	stats.AvgAgeDays /= n
	stats.AvgInactiveDays /= n
	return stats
}

// Active returns the active bullets in collection order. The slice is a
// copy but the bullets are shared; treat them as read-only snapshots.
func (c *Curator) Active() []*Bullet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Bullet, len(c.active))
	copy(out, c.active)
	return out
}

// Archived returns the archived bullets in archival order. Same sharing
// caveat as Active.
func (c *Curator) Archived() []*Bullet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Bullet, len(c.archived))
	copy(out, c.archived)
	return out
}
