package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellarlinkco/mnemo/internal/config"
	"github.com/stellarlinkco/mnemo/internal/emotion"
	"github.com/stellarlinkco/mnemo/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "mnemo.db")
	cfg.Storage.IndexPath = ""

	backends, err := storage.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open backends: %v", err)
	}
	t.Cleanup(func() { backends.Close() })

	store, err := NewStore(backends, cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func setTier(t *testing.T, store *Store, id string, tier Tier) {
	t.Helper()
	res, err := store.db.Exec(store.db.Rebind(
		`UPDATE memory_fragments SET tier = ? WHERE id = ?`), int(tier), id)
	if err != nil {
		t.Fatalf("set tier: %v", err)
	}
	if affected, _ := res.RowsAffected(); affected != 1 {
		t.Fatalf("set tier touched %d rows", affected)
	}
	if store.hot != nil {
		store.hot.Delete(fragmentKeyPrefix + id)
	}
}

func TestIngestDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	frag, err := store.Ingest(ctx, IngestInput{
		AgentName: "  nova  ",
		Content:   "  prefers short answers  ",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if frag.ID == "" {
		t.Fatal("expected generated id")
	}
	if frag.Tier != TierHot {
		t.Fatalf("tier = %s, want %s", frag.Tier, TierHot)
	}
	if frag.AgentName != "nova" || frag.Content != "prefers short answers" {
		t.Fatalf("input not trimmed: %q / %q", frag.AgentName, frag.Content)
	}
	if frag.RelevanceScore != 0.5 {
		t.Fatalf("default relevance = %v, want 0.5", frag.RelevanceScore)
	}
	if frag.DominantEmotion != emotion.Neutral {
		t.Fatalf("default dominant = %q, want neutral", frag.DominantEmotion)
	}
	if frag.AccessCount != 0 {
		t.Fatalf("access count = %d, want 0", frag.AccessCount)
	}
	if !frag.CreatedAt.Equal(frag.LastAccessedAt) {
		t.Fatal("created and last accessed should match at ingest")
	}

	if _, err := store.Ingest(ctx, IngestInput{Content: "   "}); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestIngestClampsScores(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	frag, err := store.Ingest(ctx, IngestInput{
		Content:         "overflowing",
		RelevanceScore:  1.5,
		EmotionalWeight: 1.2,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if frag.RelevanceScore != 1 || frag.EmotionalWeight != 1 {
		t.Fatalf("scores not clamped: %v / %v", frag.RelevanceScore, frag.EmotionalWeight)
	}

	frag, err = store.Ingest(ctx, IngestInput{Content: "underflowing", EmotionalWeight: -0.4})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if frag.EmotionalWeight != 0 {
		t.Fatalf("negative weight not clamped: %v", frag.EmotionalWeight)
	}
}

func TestTouchBumpsAccessFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	frag, err := store.Ingest(ctx, IngestInput{Content: "touch me"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	now = now.Add(30 * time.Minute)
	if err := store.Touch(ctx, frag.ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	now = now.Add(30 * time.Minute)
	if err := store.Touch(ctx, frag.ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, err := store.Get(ctx, frag.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessCount != 2 {
		t.Fatalf("access count = %d, want 2", got.AccessCount)
	}
	if !got.LastAccessedAt.Equal(now) {
		t.Fatalf("last accessed = %s, want %s", got.LastAccessedAt, now)
	}
	if !got.CreatedAt.Equal(frag.CreatedAt) {
		t.Fatal("created at must not move on touch")
	}

	err = store.Touch(ctx, "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Touch unknown id: %v, want ErrNotFound", err)
	}
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get: %v, want ErrNotFound", err)
	}
}

func TestGetServesHotTierFromCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	frag, err := store.Ingest(ctx, IngestInput{Content: "cached"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	// Remove the row behind the store's back; the hot cache still answers.
	if _, err := store.db.Exec(store.db.Rebind(
		`DELETE FROM memory_fragments WHERE id = ?`), frag.ID); err != nil {
		t.Fatalf("delete row: %v", err)
	}

	got, err := store.Get(ctx, frag.ID)
	if err != nil {
		t.Fatalf("Get from cache: %v", err)
	}
	if got.Content != "cached" {
		t.Fatalf("content = %q", got.Content)
	}

	// Dropping the cache entry exposes the truth.
	store.hot.Delete(fragmentKeyPrefix + frag.ID)
	if _, err := store.Get(ctx, frag.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get after cache drop: %v, want ErrNotFound", err)
	}
}

func TestListByTier(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, in := range []IngestInput{
		{AgentName: "nova", Content: "low", RelevanceScore: 0.4},
		{AgentName: "nova", Content: "high", RelevanceScore: 0.9},
		{AgentName: "nova", Content: "mid", RelevanceScore: 0.7},
		{AgentName: "zephyr", Content: "other agent", RelevanceScore: 0.8},
	} {
		if _, err := store.Ingest(ctx, in); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	all, err := store.ListByTier(ctx, "", TierHot, 0)
	if err != nil {
		t.Fatalf("ListByTier: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d fragments, want 4", len(all))
	}
	if all[0].Content != "high" || all[1].Content != "other agent" || all[2].Content != "mid" {
		t.Fatalf("unexpected order: %q %q %q", all[0].Content, all[1].Content, all[2].Content)
	}

	mine, err := store.ListByTier(ctx, "nova", TierHot, 0)
	if err != nil {
		t.Fatalf("ListByTier agent: %v", err)
	}
	if len(mine) != 3 {
		t.Fatalf("agent filter returned %d, want 3", len(mine))
	}

	top, err := store.ListByTier(ctx, "", TierHot, 2)
	if err != nil {
		t.Fatalf("ListByTier limit: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("limit returned %d, want 2", len(top))
	}

	if _, err := store.ListByTier(ctx, "", Tier(9), 0); err == nil {
		t.Fatal("expected error for invalid tier")
	}
}

func TestTierCountsIncludesEmptyTiers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	counts, err := store.TierCounts(ctx)
	if err != nil {
		t.Fatalf("TierCounts: %v", err)
	}
	for _, tier := range Tiers {
		if counts[tier] != 0 {
			t.Fatalf("empty store reports %d in %s", counts[tier], tier)
		}
	}

	for i := 0; i < 2; i++ {
		if _, err := store.Ingest(ctx, IngestInput{Content: "x"}); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	counts, err = store.TierCounts(ctx)
	if err != nil {
		t.Fatalf("TierCounts: %v", err)
	}
	if counts[TierHot] != 2 || counts[TierWarm] != 0 || counts[TierCold] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestApplyTransitionsMovesAndEvicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	frag, err := store.Ingest(ctx, IngestInput{Content: "wanderer"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	applied, err := store.ApplyTransitions(ctx, TierHot, []Transition{
		{FragmentID: frag.ID, Kind: TransitionDemote, From: TierHot, To: TierWarm},
	})
	if err != nil {
		t.Fatalf("ApplyTransitions: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied %d transitions, want 1", len(applied))
	}

	got, err := store.Get(ctx, frag.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Tier != TierWarm {
		t.Fatalf("tier = %s, want %s", got.Tier, TierWarm)
	}

	setTier(t, store, frag.ID, TierCold)
	applied, err = store.ApplyTransitions(ctx, TierCold, []Transition{
		{FragmentID: frag.ID, Kind: TransitionEvict, From: TierCold},
	})
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied %d evictions, want 1", len(applied))
	}
	if _, err := store.Get(ctx, frag.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get after evict: %v, want ErrNotFound", err)
	}
}

func TestApplyTransitionsSkipsRowsAlreadyMoved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	frag, err := store.Ingest(ctx, IngestInput{Content: "already moved"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	setTier(t, store, frag.ID, TierWarm)

	applied, err := store.ApplyTransitions(ctx, TierHot, []Transition{
		{FragmentID: frag.ID, Kind: TransitionDemote, From: TierHot, To: TierWarm},
	})
	if err != nil {
		t.Fatalf("ApplyTransitions: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("stale transition applied: %+v", applied)
	}
}

func TestApplyTransitionsRollsBackOnBadBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	frag, err := store.Ingest(ctx, IngestInput{Content: "survivor"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	_, err = store.ApplyTransitions(ctx, TierHot, []Transition{
		{FragmentID: frag.ID, Kind: TransitionDemote, From: TierHot, To: TierWarm},
		{FragmentID: frag.ID, Kind: TransitionKind("sideways"), From: TierHot},
	})
	if err == nil {
		t.Fatal("expected error for unknown transition kind")
	}

	got, err := store.Get(ctx, frag.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Tier != TierHot {
		t.Fatalf("tier = %s after rollback, want %s", got.Tier, TierHot)
	}

	_, err = store.ApplyTransitions(ctx, TierWarm, []Transition{
		{FragmentID: frag.ID, Kind: TransitionDemote, From: TierHot, To: TierWarm},
	})
	if err == nil {
		t.Fatal("expected error for transition batched under wrong tier")
	}
}

func TestSaveStateAndLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	frag, err := store.Ingest(ctx, IngestInput{Content: "emotional anchor"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	base := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	first := &emotion.State{
		FragmentID: frag.ID,
		Vector:     map[string]float64{"joy": 0.6, "trust": 0.2},
		Dominant:   "joy",
		Confidence: 0.6,
		Intensity:  emotion.IntensityHigh,
		Valence:    1,
		Arousal:    0.75,
		Complexity: 2,
		ComputedAt: base,
	}
	if err := store.SaveState(ctx, first); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected assigned state id")
	}

	second := &emotion.State{
		FragmentID: frag.ID,
		Vector:     map[string]float64{"sadness": 0.4},
		Dominant:   "sadness",
		Confidence: 0.4,
		Intensity:  emotion.IntensityMedium,
		Valence:    -1,
		ComputedAt: base.Add(time.Hour),
	}
	if err := store.SaveState(ctx, second); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	latest, err := store.LatestStateForFragment(ctx, frag.ID)
	if err != nil {
		t.Fatalf("LatestStateForFragment: %v", err)
	}
	if latest.Dominant != "sadness" {
		t.Fatalf("latest dominant = %q, want sadness", latest.Dominant)
	}
	if latest.Vector["sadness"] != 0.4 {
		t.Fatalf("vector did not round-trip: %v", latest.Vector)
	}

	_, err = store.LatestStateForFragment(ctx, "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing state: %v, want ErrNotFound", err)
	}

	if err := store.SaveState(ctx, nil); err == nil {
		t.Fatal("expected error for nil state")
	}
}

func TestStatesSinceAgentScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	mine, err := store.Ingest(ctx, IngestInput{AgentName: "nova", Content: "mine"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	other, err := store.Ingest(ctx, IngestInput{AgentName: "zephyr", Content: "other"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	states := []*emotion.State{
		{FragmentID: mine.ID, Dominant: "joy", Vector: map[string]float64{"joy": 0.5}, ComputedAt: base},
		{FragmentID: other.ID, Dominant: "anger", Vector: map[string]float64{"anger": 0.5}, ComputedAt: base.Add(time.Minute)},
		// Orphaned state: its fragment was evicted long ago.
		{FragmentID: "gone", Dominant: "fear", Vector: map[string]float64{"fear": 0.5}, ComputedAt: base.Add(2 * time.Minute)},
	}
	for _, st := range states {
		if err := store.SaveState(ctx, st); err != nil {
			t.Fatalf("SaveState: %v", err)
		}
	}

	all, err := store.StatesSince(ctx, "", base.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("StatesSince: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unscoped read returned %d states, want 3", len(all))
	}
	if !all[0].ComputedAt.After(all[1].ComputedAt) {
		t.Fatal("expected newest first")
	}

	scoped, err := store.StatesSince(ctx, "nova", base.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("StatesSince scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Dominant != "joy" {
		t.Fatalf("agent scope returned %+v", scoped)
	}
}

func TestDeleteStatesBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	old := &emotion.State{FragmentID: "a", Dominant: "joy", Vector: map[string]float64{}, ComputedAt: base.Add(-48 * time.Hour)}
	fresh := &emotion.State{FragmentID: "b", Dominant: "trust", Vector: map[string]float64{}, ComputedAt: base}
	for _, st := range []*emotion.State{old, fresh} {
		if err := store.SaveState(ctx, st); err != nil {
			t.Fatalf("SaveState: %v", err)
		}
	}

	deleted, err := store.DeleteStatesBefore(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeleteStatesBefore: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted %d states, want 1", deleted)
	}

	left, err := store.StatesSince(ctx, "", time.Time{}, 0)
	if err != nil {
		t.Fatalf("StatesSince: %v", err)
	}
	if len(left) != 1 || left[0].Dominant != "trust" {
		t.Fatalf("wrong survivor: %+v", left)
	}
}

func TestSearchSubstring(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, in := range []IngestInput{
		{AgentName: "nova", Content: "quarterly report deadline is friday", RelevanceScore: 0.9},
		{AgentName: "nova", Content: "report the bug upstream", RelevanceScore: 0.5},
		{AgentName: "zephyr", Content: "quarterly numbers look fine", RelevanceScore: 0.8},
	} {
		if _, err := store.Ingest(ctx, in); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	hits, err := store.Search(ctx, "", "quarterly", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].RelevanceScore < hits[1].RelevanceScore {
		t.Fatal("expected hits ordered by relevance")
	}

	scoped, err := store.Search(ctx, "nova", "report", 10)
	if err != nil {
		t.Fatalf("Search scoped: %v", err)
	}
	if len(scoped) != 2 {
		t.Fatalf("scoped search returned %d, want 2", len(scoped))
	}
	for _, h := range scoped {
		if h.AgentName != "nova" {
			t.Fatalf("agent filter leaked %q", h.AgentName)
		}
	}

	none, err := store.Search(ctx, "", "unmentioned", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no hits, got %d", len(none))
	}

	empty, err := store.Search(ctx, "", "   ", 10)
	if err != nil {
		t.Fatalf("Search empty: %v", err)
	}
	if empty != nil {
		t.Fatalf("empty query should return nil, got %v", empty)
	}
}
