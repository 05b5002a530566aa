package playbook

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestMergeDeltasReinforcesExisting(t *testing.T) {
	existing := New("b1", "use WAL mode for SQLite", "infra", baseTime.AddDate(0, 0, -10))
	existing.HelpfulCount = 3
	existing.HarmfulCount = 1
	existing.TaskTypesUsed = []string{"infra_review"}
	c := NewCurator([]*Bullet{existing})

	delta := New("", "use WAL mode for SQLite", "infra", baseTime)
	delta.HelpfulCount = 2
	delta.HarmfulCount = 1

	mergeAt := baseTime
	reinforced, added := c.MergeDeltas([]*Bullet{delta}, mergeAt)

	if reinforced != 1 || added != 0 {
		t.Errorf("reinforced/added = %d/%d, want 1/0", reinforced, added)
	}
	if existing.HelpfulCount != 5 || existing.HarmfulCount != 2 {
		t.Errorf("counters = %d/%d, want 5/2", existing.HelpfulCount, existing.HarmfulCount)
	}
	if !existing.LastUsedAt.Equal(mergeAt) {
		t.Errorf("LastUsedAt = %v, want merge time", existing.LastUsedAt)
	}
	if len(existing.UsageTimeline) != 1 {
		t.Errorf("timeline length = %d, want 1", len(existing.UsageTimeline))
	}
	// Reinforcement is untyped usage: the task list must not grow.
	if len(existing.TaskTypesUsed) != 1 {
		t.Errorf("task types = %v, want unchanged", existing.TaskTypesUsed)
	}

	active := c.Active()
	if len(active) != 1 || active[0] != existing {
		t.Errorf("active = %v, want just the reinforced bullet", active)
	}
}

func TestMergeDeltasAddsNew(t *testing.T) {
	existing := New("b1", "prefer minimal dependencies", "style", baseTime.AddDate(0, 0, -3))
	c := NewCurator([]*Bullet{existing})

	born := baseTime.AddDate(0, 0, -30)
	delta := New("keep-this-id", "run the race detector in CI", "testing", born)
	delta.HelpfulCount = 1

	mergeAt := baseTime
	reinforced, added := c.MergeDeltas([]*Bullet{delta}, mergeAt)

	if reinforced != 0 || added != 1 {
		t.Errorf("reinforced/added = %d/%d, want 0/1", reinforced, added)
	}
	if delta.ID != "keep-this-id" {
		t.Errorf("id = %q, want preserved", delta.ID)
	}
	// New bullets are born at merge time no matter what they claimed.
	if !delta.CreatedAt.Equal(mergeAt) || !delta.LastUsedAt.Equal(mergeAt) {
		t.Errorf("timestamps = %v/%v, want stamped to merge time", delta.CreatedAt, delta.LastUsedAt)
	}

	// Touched bullets lead, untouched carry over behind them.
	active := c.Active()
	if len(active) != 2 || active[0] != delta || active[1] != existing {
		t.Errorf("active order = %v, want [delta, existing]", active)
	}
	if !existing.LastUsedAt.Equal(baseTime.AddDate(0, 0, -3)) {
		t.Errorf("carried-over bullet was touched: %v", existing.LastUsedAt)
	}
}

func TestMergeDeltasMintsID(t *testing.T) {
	c := NewCurator(nil)

	d1 := New("", "first", "general", baseTime)
	d2 := New("", "second", "general", baseTime)
	c.MergeDeltas([]*Bullet{d1, d2}, baseTime)

	if len(d1.ID) != 26 || len(d2.ID) != 26 {
		t.Errorf("ids = %q, %q, want 26-char ULIDs", d1.ID, d2.ID)
	}
	if d1.ID == d2.ID {
		t.Errorf("minted duplicate id %q", d1.ID)
	}
}

func TestMergeDeltasMatchesPreMergeSnapshot(t *testing.T) {
	c := NewCurator(nil)

	// Two identical deltas in one batch: the second must not match the
	// first, because matching runs against the collection as it stood
	// before the merge.
	d1 := New("", "cache template parses", "perf", baseTime)
	d2 := New("", "cache template parses", "perf", baseTime)
	reinforced, added := c.MergeDeltas([]*Bullet{d1, d2}, baseTime)

	if reinforced != 0 || added != 2 {
		t.Errorf("reinforced/added = %d/%d, want 0/2", reinforced, added)
	}
	if got := len(c.Active()); got != 2 {
		t.Errorf("active count = %d, want 2", got)
	}

	// A later batch does see them.
	d3 := New("", "cache template parses", "perf", baseTime)
	reinforced, added = c.MergeDeltas([]*Bullet{d3}, baseTime.Add(time.Hour))
	if reinforced != 1 || added != 0 {
		t.Errorf("second batch reinforced/added = %d/%d, want 1/0", reinforced, added)
	}
}

func TestMergeDeltasSameTargetTwice(t *testing.T) {
	existing := New("b1", "pin tool versions", "infra", baseTime.AddDate(0, 0, -5))
	c := NewCurator([]*Bullet{existing})

	d1 := New("", "pin tool versions", "infra", baseTime)
	d1.HelpfulCount = 1
	d2 := New("", "pin tool versions", "infra", baseTime)
	d2.HarmfulCount = 1

	reinforced, added := c.MergeDeltas([]*Bullet{d1, d2}, baseTime)
	if reinforced != 2 || added != 0 {
		t.Errorf("reinforced/added = %d/%d, want 2/0", reinforced, added)
	}
	if existing.HelpfulCount != 1 || existing.HarmfulCount != 1 {
		t.Errorf("counters = %d/%d, want 1/1", existing.HelpfulCount, existing.HarmfulCount)
	}
	if len(existing.UsageTimeline) != 2 {
		t.Errorf("timeline length = %d, want one entry per delta", len(existing.UsageTimeline))
	}
	// Absorbing two deltas still leaves one bullet in the collection.
	if got := len(c.Active()); got != 1 {
		t.Errorf("active count = %d, want 1", got)
	}
}

func TestMergeDeltasZeroTimeUsesClock(t *testing.T) {
	c := NewCurator(nil)
	now := baseTime.AddDate(0, 0, 42)
	c.SetClock(fixedClock(now))

	delta := New("", "new knowledge", "general", time.Time{})
	c.MergeDeltas([]*Bullet{delta}, time.Time{})

	if !delta.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want clock time %v", delta.CreatedAt, now)
	}
}

func TestMergeDeltasWithLexicalMatcher(t *testing.T) {
	existing := New("b1", "use WAL mode for SQLite", "infra", baseTime.AddDate(0, 0, -2))
	c := NewCurator([]*Bullet{existing})
	c.SetMatcher(LexicalMatcher{})

	delta := New("", "use WAL mode for SQLite!", "infra", baseTime)
	delta.HelpfulCount = 1

	reinforced, added := c.MergeDeltas([]*Bullet{delta}, baseTime)
	if reinforced != 1 || added != 0 {
		t.Errorf("reinforced/added = %d/%d, want rewording to reinforce", reinforced, added)
	}
	if existing.HelpfulCount != 1 {
		t.Errorf("helpful = %d, want 1", existing.HelpfulCount)
	}
}

func TestArchiveStale(t *testing.T) {
	fresh := New("fresh", "fresh knowledge", "general", baseTime.AddDate(0, 0, -1))
	idle := New("idle", "idle knowledge", "general", baseTime.AddDate(0, 0, -31))
	reinforced := New("golden", "well loved but idle", "general", baseTime.AddDate(0, 0, -45))
	reinforced.HelpfulCount = 50
	c := NewCurator([]*Bullet{fresh, idle, reinforced})

	res := c.ArchiveStale(baseTime)

	if res.ArchivedCount != 2 || res.ActiveCount != 1 {
		t.Errorf("archived/active = %d/%d, want 2/1", res.ArchivedCount, res.ActiveCount)
	}
	if len(res.Archived) != 2 || res.Archived[0] != idle || res.Archived[1] != reinforced {
		t.Errorf("archived = %v, want [idle, golden] in collection order", res.Archived)
	}
	if active := c.Active(); len(active) != 1 || active[0] != fresh {
		t.Errorf("active = %v, want [fresh]", active)
	}
	if archived := c.Archived(); len(archived) != 2 {
		t.Errorf("archive length = %d, want 2", len(archived))
	}

	// A second sweep finds nothing new and reports an empty, non-nil list.
	res = c.ArchiveStale(baseTime)
	if res.ArchivedCount != 0 || res.ActiveCount != 1 {
		t.Errorf("second sweep archived/active = %d/%d, want 0/1", res.ArchivedCount, res.ActiveCount)
	}
	if res.Archived == nil {
		t.Error("Archived = nil, want empty slice")
	}
	if archived := c.Archived(); len(archived) != 2 {
		t.Errorf("archive length after second sweep = %d, want 2", len(archived))
	}
}

func TestArchiveStaleRecencyFloor(t *testing.T) {
	b := New("b1", "content", "general", baseTime.AddDate(0, 0, -35))
	c := NewCurator([]*Bullet{b})
	c.SetArchiveInactiveDays(100)

	// 35 idle days is under the cutoff, but recency has decayed past the
	// floor, which archives regardless.
	res := c.ArchiveStale(baseTime)
	if res.ArchivedCount != 1 {
		t.Errorf("archived = %d, want 1 via recency floor", res.ArchivedCount)
	}
}

func TestRestoreArchive(t *testing.T) {
	old := New("old", "restored", "general", baseTime.AddDate(0, -6, 0))
	c := NewCurator(nil)
	c.RestoreArchive([]*Bullet{old})

	if archived := c.Archived(); len(archived) != 1 || archived[0] != old {
		t.Errorf("archived = %v, want restored bullet", archived)
	}
}

func TestRetrieveRanksByRelevance(t *testing.T) {
	mid := New("mid", "mid value", "general", baseTime)
	mid.HelpfulCount = 3
	low := New("low", "low value", "general", baseTime)
	low.HelpfulCount = 1
	high := New("high", "high value", "general", baseTime)
	high.HelpfulCount = 5
	c := NewCurator([]*Bullet{mid, low, high})

	got := c.Retrieve("", 2, baseTime)

	if len(got) != 2 || got[0] != high || got[1] != mid {
		t.Errorf("retrieve order = %v, want [high, mid]", got)
	}

	// Retrieval is usage for the returned bullets only.
	if len(high.UsageTimeline) != 1 || len(mid.UsageTimeline) != 1 {
		t.Error("returned bullets must be marked used")
	}
	if len(low.UsageTimeline) != 0 {
		t.Error("unreturned bullet must stay untouched")
	}
}

func TestRetrieveStableTies(t *testing.T) {
	first := New("first", "alpha", "general", baseTime)
	second := New("second", "beta", "general", baseTime)
	third := New("third", "gamma", "general", baseTime)
	for _, b := range []*Bullet{first, second, third} {
		b.HelpfulCount = 1
	}
	c := NewCurator([]*Bullet{first, second, third})

	got := c.Retrieve("", 3, baseTime)
	if len(got) != 3 || got[0] != first || got[1] != second || got[2] != third {
		t.Errorf("tied retrieve order = %v, want insertion order", got)
	}
}

func TestRetrieveTaskTypeFilter(t *testing.T) {
	deployTagged := New("d", "check rollout dashboards", "ops", baseTime)
	deployTagged.HelpfulCount = 1
	deployTagged.TaskTypesUsed = []string{"deploy"}

	reviewTagged := New("r", "flag missing error checks", "review", baseTime)
	reviewTagged.HelpfulCount = 5
	reviewTagged.TaskTypesUsed = []string{"code_review"}

	untyped := New("u", "read the runbook first", "general", baseTime)
	untyped.HelpfulCount = 3

	c := NewCurator([]*Bullet{deployTagged, reviewTagged, untyped})

	got := c.Retrieve("deploy", 10, baseTime)

	// Bullets for other tasks are excluded; untyped ones ride along to
	// get a chance on every task, and outrank the tagged one here.
	if len(got) != 2 || got[0] != untyped || got[1] != deployTagged {
		t.Errorf("retrieve = %v, want [untyped, deployTagged]", got)
	}

	// The ride-along is now typed for this task.
	if !untyped.UsedForTask("deploy") {
		t.Errorf("untyped bullet task types = %v, want deploy recorded", untyped.TaskTypesUsed)
	}
	if len(reviewTagged.UsageTimeline) != 0 {
		t.Error("excluded bullet must stay untouched")
	}
}

func TestRetrieveEdges(t *testing.T) {
	c := NewCurator(nil)
	if got := c.Retrieve("", 10, baseTime); len(got) != 0 {
		t.Errorf("empty collection retrieve = %v, want none", got)
	}

	b := New("b1", "content", "general", baseTime)
	b.HelpfulCount = 1
	c = NewCurator([]*Bullet{b})

	if got := c.Retrieve("", 10, baseTime); len(got) != 1 {
		t.Errorf("topK over size = %d bullets, want 1", len(got))
	}
	if got := c.Retrieve("", 0, baseTime); len(got) != 0 {
		t.Errorf("topK zero = %v, want none", got)
	}

	b.TaskTypesUsed = []string{"deploy"}
	if got := c.Retrieve("migration", 10, baseTime); len(got) != 0 {
		t.Errorf("mismatched task = %v, want none", got)
	}
}

func TestRetrieveZeroTimeUsesClock(t *testing.T) {
	b := New("b1", "content", "general", baseTime)
	b.HelpfulCount = 1
	c := NewCurator([]*Bullet{b})

	now := baseTime.AddDate(0, 0, 3)
	c.SetClock(fixedClock(now))

	got := c.Retrieve("deploy", 1, time.Time{})
	if len(got) != 1 {
		t.Fatalf("retrieve = %v, want one bullet", got)
	}
	if !b.LastUsedAt.Equal(now) {
		t.Errorf("LastUsedAt = %v, want clock time %v", b.LastUsedAt, now)
	}
}

func TestTemporalStatsEmpty(t *testing.T) {
	c := NewCurator(nil)
	stats := c.TemporalStats(baseTime)

	if stats != (Stats{}) {
		t.Errorf("stats = %+v, want all zeros", stats)
	}
}

func TestTemporalStats(t *testing.T) {
	active := New("a", "active bullet", "general", baseTime.AddDate(0, 0, -10))
	active.HelpfulCount = 2
	active.MarkUsed("", baseTime)

	idle := New("i", "idle bullet", "general", baseTime.AddDate(0, 0, -40))

	c := NewCurator([]*Bullet{active, idle})
	stats := c.TemporalStats(baseTime)

	if stats.TotalBullets != 2 {
		t.Errorf("total = %d, want 2", stats.TotalBullets)
	}
	wantFloat(t, "avg recency", stats.AvgRecency, (1+math.Exp(-4))/2)
	wantFloat(t, "avg frequency", stats.AvgFrequency, (1.0/30.0)/2)
	wantFloat(t, "avg relevance", stats.AvgRelevance, (2*1*(1+1.0/30.0))/2)
	wantFloat(t, "avg age days", stats.AvgAgeDays, 25)
	wantFloat(t, "avg inactive days", stats.AvgInactiveDays, 20)
	if stats.StaleBullets != 1 {
		t.Errorf("stale = %d, want 1", stats.StaleBullets)
	}

	// Stats is a pure read.
	if len(active.UsageTimeline) != 1 || len(idle.UsageTimeline) != 0 {
		t.Error("stats must not record usage")
	}
}

func TestCuratorConcurrentOps(t *testing.T) {
	c := NewCurator(nil)

	var wg sync.WaitGroup
	const workers = 8
	const perWorker = 25

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				delta := New("", fmt.Sprintf("worker %d item %d", w, i), "general", time.Time{})
				delta.HelpfulCount = 1
				c.MergeDeltas([]*Bullet{delta}, baseTime)
				c.Retrieve("stress", 3, baseTime)
				c.TemporalStats(baseTime)
			}
		}(w)
	}
	wg.Wait()

	if got := len(c.Active()); got != workers*perWorker {
		t.Errorf("active count = %d, want %d", got, workers*perWorker)
	}
}
