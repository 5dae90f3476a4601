package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stellarlinkco/mnemo/internal/config"
)

// Optimizer plans and applies tier transitions. Every pass works from a
// single snapshot, so a fragment moves at most one tier per pass; a
// fragment that belongs several tiers colder gets there across consecutive
// passes. Passes on a settled population plan nothing, which keeps repeated
// runs idempotent.
type Optimizer struct {
	store  *Store
	scorer *Scorer

	// passMu serializes passes so scheduled and manual runs never interleave.
	passMu sync.Mutex

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	stopWg  sync.WaitGroup

	now func() time.Time

	rebalanceEvery time.Duration
	cleanupEvery   time.Duration
	passTimeout    time.Duration

	promoteAt float64
	demoteAt  float64
	evictAt   float64

	maxAge    map[Tier]time.Duration
	capacity  map[Tier]int
	retention time.Duration

	reportMu   sync.Mutex
	lastReport *PassReport
}

// passSpec selects which planners a pass runs.
type passSpec struct {
	trigger      string
	thresholds   bool
	allowPromote bool
	ages         bool
	capacity     bool
	pruneStates  bool
}

func NewOptimizer(store *Store, cfg *config.Config) (*Optimizer, error) {
	scorer, err := NewScorer(cfg)
	if err != nil {
		return nil, err
	}

	promoteAt := cfg.Tiers.PromotionThreshold
	demoteAt := cfg.Tiers.DemotionThreshold
	evictAt := cfg.Tiers.EvictionThreshold
	if !(evictAt < demoteAt && demoteAt < promoteAt) {
		return nil, fmt.Errorf("tier thresholds must satisfy eviction < demotion < promotion, got %.2f/%.2f/%.2f",
			evictAt, demoteAt, promoteAt)
	}

	rebalanceEvery, err := time.ParseDuration(cfg.Maintenance.RebalanceInterval)
	if err != nil {
		return nil, fmt.Errorf("parse rebalance interval: %w", err)
	}
	cleanupEvery, err := time.ParseDuration(cfg.Maintenance.CleanupInterval)
	if err != nil {
		return nil, fmt.Errorf("parse cleanup interval: %w", err)
	}

	maxAge, err := parseTierAges(cfg)
	if err != nil {
		return nil, err
	}

	return &Optimizer{
		store:          store,
		scorer:         scorer,
		now:            time.Now,
		rebalanceEvery: rebalanceEvery,
		cleanupEvery:   cleanupEvery,
		passTimeout:    time.Duration(cfg.Storage.TimeoutMs) * time.Millisecond,
		promoteAt:      promoteAt,
		demoteAt:       demoteAt,
		evictAt:        evictAt,
		maxAge:         maxAge,
		capacity: map[Tier]int{
			TierHot:      cfg.Tiers.HotCapacity,
			TierWarm:     cfg.Tiers.WarmCapacity,
			TierSemantic: cfg.Tiers.SemanticCapacity,
		},
		retention: time.Duration(cfg.Maintenance.RetentionDays) * 24 * time.Hour,
	}, nil
}

func parseTierAges(cfg *config.Config) (map[Tier]time.Duration, error) {
	ages := make(map[Tier]time.Duration, len(Tiers))
	entries := []struct {
		tier Tier
		raw  string
	}{
		{TierHot, cfg.Tiers.MaxAge.Hot},
		{TierWarm, cfg.Tiers.MaxAge.Warm},
		{TierSemantic, cfg.Tiers.MaxAge.Semantic},
	}
	for _, e := range entries {
		raw := strings.TrimSpace(e.raw)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s max age: %w", e.tier, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%s max age must be positive, got %s", e.tier, d)
		}
		ages[e.tier] = d
	}
	if cfg.Maintenance.RetentionDays > 0 {
		ages[TierCold] = time.Duration(cfg.Maintenance.RetentionDays) * 24 * time.Hour
	}
	return ages, nil
}

// Rebalance runs one score-driven pass: promote what earned its way up,
// demote what cooled off, evict what the coldest tier no longer justifies.
func (o *Optimizer) Rebalance(ctx context.Context) (*PassReport, error) {
	return o.runPass(ctx, passSpec{
		trigger:      "rebalance",
		thresholds:   true,
		allowPromote: true,
	})
}

// Cleanup ages out idle fragments, trims tiers back under capacity and
// prunes expired emotional states. It never promotes.
func (o *Optimizer) Cleanup(ctx context.Context) (*PassReport, error) {
	return o.runPass(ctx, passSpec{
		trigger:     "cleanup",
		ages:        true,
		capacity:    true,
		pruneStates: true,
	})
}

// EmergencyCleanup sheds load now: threshold demotions and evictions plus
// capacity enforcement in a single pass, with promotions suppressed. It
// takes the same pass lock as the scheduled runs, so it cannot race them.
func (o *Optimizer) EmergencyCleanup(ctx context.Context) (*PassReport, error) {
	return o.runPass(ctx, passSpec{
		trigger:    "emergency",
		thresholds: true,
		capacity:   true,
	})
}

// LastReport returns the most recent pass report, or nil before any pass.
func (o *Optimizer) LastReport() *PassReport {
	o.reportMu.Lock()
	defer o.reportMu.Unlock()
	if o.lastReport == nil {
		return nil
	}
	copied := *o.lastReport
	return &copied
}

func (o *Optimizer) runPass(ctx context.Context, spec passSpec) (*PassReport, error) {
	o.passMu.Lock()
	defer o.passMu.Unlock()

	if o.passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.passTimeout)
		defer cancel()
	}

	now := o.now().UTC()
	report := &PassReport{Trigger: spec.trigger, StartedAt: now}

	snaps, scanned, err := o.snapshot(ctx, now)
	if err != nil {
		return nil, err
	}
	report.Scanned = scanned

	planned := make(map[string]Transition)
	if spec.thresholds {
		o.planThresholds(snaps, spec.allowPromote, planned)
	}
	if spec.ages {
		o.planAges(snaps, now, planned)
	}
	if spec.capacity {
		o.planCapacity(snaps, planned)
	}

	for _, tier := range Tiers {
		batch := batchForTier(planned, tier)
		if len(batch) == 0 {
			continue
		}
		applied, err := o.store.ApplyTransitions(ctx, tier, batch)
		if err != nil {
			return nil, fmt.Errorf("%s pass: %w", spec.trigger, err)
		}
		for _, t := range applied {
			switch t.Kind {
			case TransitionPromote:
				report.Promoted++
			case TransitionDemote:
				report.Demoted++
			case TransitionEvict:
				report.Evicted++
			}
		}
		report.Transitions = append(report.Transitions, applied...)
	}

	if spec.pruneStates && o.retention > 0 {
		deleted, err := o.store.DeleteStatesBefore(ctx, now.Add(-o.retention))
		if err != nil {
			return nil, fmt.Errorf("%s pass: %w", spec.trigger, err)
		}
		if deleted > 0 {
			log.Printf("[optimizer] pruned %d expired emotional states", deleted)
		}
	}

	report.Duration = o.now().UTC().Sub(now)

	o.reportMu.Lock()
	o.lastReport = report
	o.reportMu.Unlock()

	return report, nil
}

type scoredFragment struct {
	frag  Fragment
	score float64
}

type tierSnapshot struct {
	tier  Tier
	frags []scoredFragment
}

// snapshot reads every tier once and scores each fragment against the same
// clock, so all planners in a pass judge identical state.
func (o *Optimizer) snapshot(ctx context.Context, now time.Time) ([]tierSnapshot, int, error) {
	snaps := make([]tierSnapshot, 0, len(Tiers))
	total := 0
	for _, tier := range Tiers {
		frags, err := o.store.ListByTier(ctx, "", tier, 0)
		if err != nil {
			return nil, 0, fmt.Errorf("snapshot %s: %w", tier, err)
		}
		scored := make([]scoredFragment, len(frags))
		for i := range frags {
			scored[i] = scoredFragment{frag: frags[i], score: o.scorer.Score(&frags[i], now)}
		}
		snaps = append(snaps, tierSnapshot{tier: tier, frags: scored})
		total += len(frags)
	}
	return snaps, total, nil
}

func (o *Optimizer) planThresholds(snaps []tierSnapshot, allowPromote bool, planned map[string]Transition) {
	for _, snap := range snaps {
		for _, sf := range snap.frags {
			if _, ok := planned[sf.frag.ID]; ok {
				continue
			}
			switch {
			case snap.tier == TierCold && sf.score <= o.evictAt:
				planned[sf.frag.ID] = Transition{
					FragmentID: sf.frag.ID, Kind: TransitionEvict, From: snap.tier,
					Score: sf.score, Reason: "below eviction threshold",
				}
			case snap.tier != TierCold && sf.score <= o.demoteAt:
				planned[sf.frag.ID] = Transition{
					FragmentID: sf.frag.ID, Kind: TransitionDemote, From: snap.tier, To: snap.tier.Colder(),
					Score: sf.score, Reason: "below demotion threshold",
				}
			case allowPromote && snap.tier != TierHot && sf.score >= o.promoteAt:
				planned[sf.frag.ID] = Transition{
					FragmentID: sf.frag.ID, Kind: TransitionPromote, From: snap.tier, To: snap.tier.Warmer(),
					Score: sf.score, Reason: "above promotion threshold",
				}
			}
		}
	}
}

func (o *Optimizer) planAges(snaps []tierSnapshot, now time.Time, planned map[string]Transition) {
	for _, snap := range snaps {
		limit := o.maxAge[snap.tier]
		if limit <= 0 {
			continue
		}
		for _, sf := range snap.frags {
			if _, ok := planned[sf.frag.ID]; ok {
				continue
			}
			if now.Sub(sf.frag.LastAccessedAt) <= limit {
				continue
			}
			if snap.tier == TierCold {
				planned[sf.frag.ID] = Transition{
					FragmentID: sf.frag.ID, Kind: TransitionEvict, From: snap.tier,
					Score: sf.score, Reason: "retention expired",
				}
			} else {
				planned[sf.frag.ID] = Transition{
					FragmentID: sf.frag.ID, Kind: TransitionDemote, From: snap.tier, To: snap.tier.Colder(),
					Score: sf.score, Reason: "idle past tier max age",
				}
			}
		}
	}
}

// planCapacity demotes the lowest-scored overflow out of each bounded tier.
// Fragments already planned to move count as departures, so they are not
// demoted twice. In-pass arrivals are ignored; an overfull target settles
// on the next pass.
func (o *Optimizer) planCapacity(snaps []tierSnapshot, planned map[string]Transition) {
	for _, snap := range snaps {
		limit := o.capacity[snap.tier]
		if limit <= 0 || snap.tier == TierCold {
			continue
		}

		staying := make([]scoredFragment, 0, len(snap.frags))
		for _, sf := range snap.frags {
			if _, ok := planned[sf.frag.ID]; ok {
				continue
			}
			staying = append(staying, sf)
		}
		over := len(staying) - limit
		if over <= 0 {
			continue
		}

		sort.Slice(staying, func(i, j int) bool {
			if staying[i].score != staying[j].score {
				return staying[i].score < staying[j].score
			}
			return staying[i].frag.ID < staying[j].frag.ID
		})
		for _, sf := range staying[:over] {
			planned[sf.frag.ID] = Transition{
				FragmentID: sf.frag.ID, Kind: TransitionDemote, From: snap.tier, To: snap.tier.Colder(),
				Score: sf.score, Reason: "over tier capacity",
			}
		}
	}
}

func batchForTier(planned map[string]Transition, tier Tier) []Transition {
	var batch []Transition
	for _, t := range planned {
		if t.From == tier {
			batch = append(batch, t)
		}
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].FragmentID < batch[j].FragmentID })
	return batch
}

// Start launches the maintenance loop. Safe to call once; a second call is
// a no-op until Stop.
func (o *Optimizer) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.stopCh = make(chan struct{})
	o.mu.Unlock()

	o.stopWg.Add(1)
	go o.loop(ctx, o.stopCh)

	log.Printf("[optimizer] started: rebalance every %s, cleanup every %s", o.rebalanceEvery, o.cleanupEvery)
}

func (o *Optimizer) loop(ctx context.Context, stopCh chan struct{}) {
	defer o.stopWg.Done()

	rebalance := time.NewTicker(o.rebalanceEvery)
	defer rebalance.Stop()
	cleanup := time.NewTicker(o.cleanupEvery)
	defer cleanup.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-rebalance.C:
			if report, err := o.Rebalance(ctx); err != nil {
				log.Printf("[optimizer] rebalance: %v", err)
			} else if report.Changed() > 0 {
				log.Printf("[optimizer] rebalance moved %d fragments (%d promoted, %d demoted, %d evicted)",
					report.Changed(), report.Promoted, report.Demoted, report.Evicted)
			}
		case <-cleanup.C:
			if report, err := o.Cleanup(ctx); err != nil {
				log.Printf("[optimizer] cleanup: %v", err)
			} else if report.Changed() > 0 {
				log.Printf("[optimizer] cleanup moved %d fragments (%d demoted, %d evicted)",
					report.Changed(), report.Demoted, report.Evicted)
			}
		}
	}
}

// Stop halts the maintenance loop and waits for an in-flight pass to finish.
func (o *Optimizer) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	close(o.stopCh)
	o.mu.Unlock()

	o.stopWg.Wait()
	log.Printf("[optimizer] stopped")
}
