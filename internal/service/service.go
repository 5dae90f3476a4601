// Package service wires the storage backends, stores and background
// maintenance into one facade. Transports (CLI today, anything else
// tomorrow) talk to this surface and never to the stores directly. Every
// operation leaves a row in the operation log.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/stellarlinkco/mnemo/internal/config"
	"github.com/stellarlinkco/mnemo/internal/cron"
	"github.com/stellarlinkco/mnemo/internal/emotion"
	"github.com/stellarlinkco/mnemo/internal/feedback"
	"github.com/stellarlinkco/mnemo/internal/memory"
	"github.com/stellarlinkco/mnemo/internal/profile"
	"github.com/stellarlinkco/mnemo/internal/storage"
)

const retentionSweepInterval = 24 * time.Hour

// Service owns the wired engine: backends, domain stores, the feedback
// processor and the maintenance schedule.
type Service struct {
	cfg       *config.Config
	backends  *storage.Backends
	fragments *memory.Store
	optimizer *memory.Optimizer
	analyzer  *emotion.Analyzer
	halfLives emotion.HalfLives
	profiles  *profile.Store
	analyses  *feedback.Store
	processor *feedback.Processor
	oplog     *OperationLog
	scheduler *cron.Service

	mu         sync.Mutex
	started    bool
	registered bool
}

// New opens the configured backends and wires every component. The caller
// owns the result and must Close it.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	backends, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	s, err := build(backends, cfg)
	if err != nil {
		backends.Close()
		return nil, err
	}
	return s, nil
}

func build(backends *storage.Backends, cfg *config.Config) (*Service, error) {
	fragments, err := memory.NewStore(backends, cfg)
	if err != nil {
		return nil, fmt.Errorf("wire fragment store: %w", err)
	}
	optimizer, err := memory.NewOptimizer(fragments, cfg)
	if err != nil {
		return nil, fmt.Errorf("wire optimizer: %w", err)
	}
	analyzer, err := emotion.NewAnalyzer(cfg.Emotion)
	if err != nil {
		return nil, fmt.Errorf("wire analyzer: %w", err)
	}
	halfLives, err := emotion.NewHalfLives(cfg.Emotion)
	if err != nil {
		return nil, fmt.Errorf("wire decay: %w", err)
	}
	profiles, err := profile.NewStore(backends.DB, cfg)
	if err != nil {
		return nil, fmt.Errorf("wire profile store: %w", err)
	}
	analyses, err := feedback.NewStore(backends.DB)
	if err != nil {
		return nil, fmt.Errorf("wire feedback store: %w", err)
	}
	oplog, err := NewOperationLog(backends.DB)
	if err != nil {
		return nil, fmt.Errorf("wire operation log: %w", err)
	}

	return &Service{
		cfg:       cfg,
		backends:  backends,
		fragments: fragments,
		optimizer: optimizer,
		analyzer:  analyzer,
		halfLives: halfLives,
		profiles:  profiles,
		analyses:  analyses,
		processor: feedback.NewProcessor(analyzer, profiles, analyses, cfg),
		oplog:     oplog,
		scheduler: cron.NewService(),
	}, nil
}

// Start registers the maintenance jobs and starts the scheduler. One-shot
// callers (the CLI subcommands) never Start; they call the surface directly.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if !s.registered {
		jobs := []struct {
			name     string
			interval string
			run      func(ctx context.Context) (string, error)
		}{
			{"rebalance", s.cfg.Maintenance.RebalanceInterval, s.rebalanceJob},
			{"cleanup", s.cfg.Maintenance.CleanupInterval, s.cleanupJob},
			{"snapshot", s.cfg.Maintenance.SnapshotInterval, s.snapshotJob},
			{"retention", retentionSweepInterval.String(), s.retentionJob},
		}
		for _, job := range jobs {
			interval, err := time.ParseDuration(job.interval)
			if err != nil {
				return fmt.Errorf("parse %s interval: %w", job.name, err)
			}
			if err := s.scheduler.Register(cron.Job{Name: job.name, Interval: interval, Run: job.run}); err != nil {
				return err
			}
		}
		s.registered = true
	}
	if err := s.scheduler.Start(ctx); err != nil {
		return err
	}

	s.started = true
	log.Printf("[service] started (backends %s/%s/%s)",
		s.cfg.Storage.Structured, s.cfg.Storage.HotCache, s.cfg.Storage.Semantic)
	return nil
}

// Stop halts the schedule. Safe to call without Start.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.scheduler.Stop()
	log.Printf("[service] stopped")
}

// Close stops the schedule and releases the backends.
func (s *Service) Close() error {
	s.Stop()
	return s.backends.Close()
}

// Jobs exposes the maintenance schedule state.
func (s *Service) Jobs() []cron.JobStatus {
	return s.scheduler.Jobs()
}

// record writes one operation-log row. Failure to record never fails the
// operation itself.
func (s *Service) record(ctx context.Context, name, agentName string, started time.Time, opErr error, detail string) {
	op := Operation{
		Name:      name,
		AgentName: agentName,
		Status:    opStatusOK,
		Detail:    detail,
		Duration:  time.Since(started),
	}
	if opErr != nil {
		op.Status = opStatusError
		op.Detail = opErr.Error()
	}
	if err := s.oplog.Record(ctx, op); err != nil {
		log.Printf("[service] record %s: %v", name, err)
	}
}

// MemoryStatus reports per-tier fragment counts and the last optimizer
// pass.
type MemoryStatus struct {
	Counts   map[memory.Tier]int `json:"counts"`
	Total    int                 `json:"total"`
	LastPass *memory.PassReport  `json:"lastPass,omitempty"`
}

func (s *Service) MemoryStatus(ctx context.Context) (*MemoryStatus, error) {
	started := time.Now()
	counts, err := s.fragments.TierCounts(ctx)
	if err != nil {
		s.record(ctx, "memory_status", "", started, err, "")
		return nil, err
	}

	status := &MemoryStatus{Counts: counts, LastPass: s.optimizer.LastReport()}
	for _, n := range counts {
		status.Total += n
	}
	s.record(ctx, "memory_status", "", started, nil, fmt.Sprintf("%d fragments", status.Total))
	return status, nil
}

// Optimize runs one synchronous rebalance pass.
func (s *Service) Optimize(ctx context.Context) (*memory.PassReport, error) {
	started := time.Now()
	report, err := s.optimizer.Rebalance(ctx)
	s.record(ctx, "optimize", "", started, err, passDetail(report))
	return report, err
}

// Cleanup runs one age, capacity and retention pass.
func (s *Service) Cleanup(ctx context.Context) (*memory.PassReport, error) {
	started := time.Now()
	report, err := s.optimizer.Cleanup(ctx)
	s.record(ctx, "cleanup", "", started, err, passDetail(report))
	return report, err
}

// EmergencyCleanup cools and evicts without promoting anything.
func (s *Service) EmergencyCleanup(ctx context.Context) (*memory.PassReport, error) {
	started := time.Now()
	report, err := s.optimizer.EmergencyCleanup(ctx)
	s.record(ctx, "emergency_cleanup", "", started, err, passDetail(report))
	return report, err
}

func passDetail(report *memory.PassReport) string {
	if report == nil {
		return ""
	}
	return fmt.Sprintf("scanned %d, promoted %d, demoted %d, evicted %d",
		report.Scanned, report.Promoted, report.Demoted, report.Evicted)
}

// ReindexFragments rebuilds the semantic index from the structured store.
// Without an embedder configured it indexes nothing.
func (s *Service) ReindexFragments(ctx context.Context) (int, error) {
	started := time.Now()
	indexed, err := s.fragments.ReindexSemantic(ctx, s.cfg.Storage.Embedding.BatchSize)
	s.record(ctx, "reindex", "", started, err, fmt.Sprintf("%d fragments indexed", indexed))
	return indexed, err
}

// IngestFragment analyzes the content, derives its emotional weight and
// stores both the fragment and its emotion state.
func (s *Service) IngestFragment(ctx context.Context, agentName, content string, relevance float64) (*memory.Fragment, error) {
	started := time.Now()

	st := s.analyzer.Analyze(content)
	in := memory.IngestInput{
		AgentName:       agentName,
		Content:         content,
		RelevanceScore:  relevance,
		EmotionalWeight: s.analyzer.FragmentWeight(st),
	}
	if st != nil {
		in.DominantEmotion = st.Dominant
	}

	frag, err := s.fragments.Ingest(ctx, in)
	if err != nil {
		s.record(ctx, "ingest", agentName, started, err, "")
		return nil, err
	}
	if st != nil {
		st.FragmentID = frag.ID
		if err := s.fragments.SaveState(ctx, st); err != nil {
			log.Printf("[service] save emotion state for %s: %v", frag.ID, err)
		}
	}

	s.record(ctx, "ingest", agentName, started, nil, fmt.Sprintf("fragment %s (%s)", frag.ID, frag.DominantEmotion))
	return frag, nil
}

// TouchFragment records an access.
func (s *Service) TouchFragment(ctx context.Context, id string) error {
	started := time.Now()
	err := s.fragments.Touch(ctx, id)
	s.record(ctx, "touch", "", started, err, id)
	return err
}

// GetFragment loads one fragment.
func (s *Service) GetFragment(ctx context.Context, id string) (*memory.Fragment, error) {
	return s.fragments.Get(ctx, id)
}

// SearchFragments searches and touches every hit, so retrieval feeds the
// frequency signal the scorer uses.
func (s *Service) SearchFragments(ctx context.Context, agentName, query string, limit int) ([]memory.Fragment, error) {
	started := time.Now()
	hits, err := s.fragments.Search(ctx, agentName, query, limit)
	if err != nil {
		s.record(ctx, "search", agentName, started, err, "")
		return nil, err
	}
	for i := range hits {
		if err := s.fragments.Touch(ctx, hits[i].ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Printf("[service] touch %s after search: %v", hits[i].ID, err)
		}
	}
	s.record(ctx, "search", agentName, started, nil, fmt.Sprintf("%d hits for %q", len(hits), query))
	return hits, nil
}

// EmotionalStatus returns the newest emotion state for an agent, decayed
// to now.
func (s *Service) EmotionalStatus(ctx context.Context, agentName string) (*emotion.State, error) {
	started := time.Now()
	states, err := s.fragments.StatesSince(ctx, agentName, time.Time{}, 1)
	if err != nil {
		s.record(ctx, "emotional_status", agentName, started, err, "")
		return nil, err
	}
	if len(states) == 0 {
		err := fmt.Errorf("emotional state for %s: %w", agentName, storage.ErrNotFound)
		s.record(ctx, "emotional_status", agentName, started, err, "")
		return nil, err
	}

	decayed := s.halfLives.DecayState(&states[0], time.Now().UTC())
	s.record(ctx, "emotional_status", agentName, started, nil,
		fmt.Sprintf("%s at %.2f", decayed.Dominant, decayed.Confidence))
	return decayed, nil
}

// EmotionalSummary aggregates an agent's decayed states over a window.
type EmotionalSummary struct {
	AgentName     string         `json:"agentName"`
	Window        time.Duration  `json:"window"`
	Total         int            `json:"total"`
	ByEmotion     map[string]int `json:"byEmotion"`
	AvgValence    float64        `json:"avgValence"`
	AvgArousal    float64        `json:"avgArousal"`
	AvgConfidence float64        `json:"avgConfidence"`
	Strongest     *emotion.State `json:"strongest,omitempty"`
}

func (s *Service) EmotionalSummary(ctx context.Context, agentName string, window time.Duration) (*EmotionalSummary, error) {
	started := time.Now()
	if window <= 0 {
		window = 24 * time.Hour
	}
	now := time.Now().UTC()

	states, err := s.fragments.StatesSince(ctx, agentName, now.Add(-window), 500)
	if err != nil {
		s.record(ctx, "emotional_summary", agentName, started, err, "")
		return nil, err
	}

	summary := &EmotionalSummary{
		AgentName: strings.TrimSpace(agentName),
		Window:    window,
		Total:     len(states),
		ByEmotion: make(map[string]int),
	}
	var valence, arousal, confidence float64
	for i := range states {
		decayed := s.halfLives.DecayState(&states[i], now)
		summary.ByEmotion[decayed.Dominant]++
		valence += decayed.Valence
		arousal += decayed.Arousal
		confidence += decayed.Confidence
		if summary.Strongest == nil || decayed.Confidence > summary.Strongest.Confidence {
			summary.Strongest = decayed
		}
	}
	if summary.Total > 0 {
		n := float64(summary.Total)
		summary.AvgValence = valence / n
		summary.AvgArousal = arousal / n
		summary.AvgConfidence = confidence / n
	}

	s.record(ctx, "emotional_summary", agentName, started, nil, fmt.Sprintf("%d states", summary.Total))
	return summary, nil
}

// ProcessFeedback runs one piece of feedback through the processor.
func (s *Service) ProcessFeedback(ctx context.Context, agentName, text string) (*feedback.Result, error) {
	started := time.Now()
	result, err := s.processor.Process(ctx, agentName, text)
	detail := ""
	if result != nil {
		detail = string(result.Outcome)
	}
	s.record(ctx, "process_feedback", agentName, started, err, detail)
	return result, err
}

// Profile returns the agent's live profile, creating defaults on first
// touch.
func (s *Service) Profile(ctx context.Context, agentName string) (*profile.Profile, error) {
	return s.profiles.GetCurrent(ctx, agentName)
}

// ProfileChanges returns the agent's change log, newest first.
func (s *Service) ProfileChanges(ctx context.Context, agentName string, limit int) ([]profile.Change, error) {
	return s.profiles.Changes(ctx, agentName, limit)
}

// PendingChanges lists proposals awaiting review.
func (s *Service) PendingChanges(ctx context.Context, agentName string) ([]profile.Change, error) {
	return s.profiles.PendingChanges(ctx, agentName)
}

// ReviewChange approves or rejects a proposed change.
func (s *Service) ReviewChange(ctx context.Context, changeID string, approve bool) (*profile.Change, error) {
	started := time.Now()
	change, err := s.profiles.Review(ctx, changeID, approve)
	verdict := "rejected"
	if approve {
		verdict = "approved"
	}
	agentName := ""
	if change != nil {
		agentName = change.AgentName
	}
	s.record(ctx, "review_change", agentName, started, err, fmt.Sprintf("%s %s", verdict, changeID))
	return change, err
}

// CreateSnapshot forces a manual profile snapshot.
func (s *Service) CreateSnapshot(ctx context.Context, agentName string) (string, error) {
	started := time.Now()
	id, err := s.profiles.Snapshot(ctx, agentName, profile.TriggerManual)
	s.record(ctx, "create_snapshot", agentName, started, err, id)
	return id, err
}

// RollbackProfile restores the newest snapshot at or before target.
func (s *Service) RollbackProfile(ctx context.Context, agentName string, target time.Time) (*profile.Profile, error) {
	started := time.Now()
	prof, err := s.profiles.Rollback(ctx, agentName, target)
	detail := ""
	if prof != nil {
		detail = fmt.Sprintf("restored v%d", prof.Version)
	}
	s.record(ctx, "rollback_profile", agentName, started, err, detail)
	return prof, err
}

// ProfileEvolution aggregates change statistics since a point in time.
func (s *Service) ProfileEvolution(ctx context.Context, agentName string, since time.Time) (*profile.Evolution, error) {
	return s.profiles.Evolution(ctx, agentName, since)
}

// FeedbackEffectiveness aggregates feedback outcomes since a point in time.
func (s *Service) FeedbackEffectiveness(ctx context.Context, agentName string, since time.Time) (*feedback.Effectiveness, error) {
	return s.analyses.Effectiveness(ctx, agentName, since)
}

// Operations returns recent operation-log rows, optionally filtered by
// name.
func (s *Service) Operations(ctx context.Context, name string, limit int) ([]Operation, error) {
	return s.oplog.Recent(ctx, name, limit)
}

// Maintenance jobs. Each wraps a surface operation so scheduled and manual
// runs hit the same code and the same operation log.

func (s *Service) rebalanceJob(ctx context.Context) (string, error) {
	report, err := s.Optimize(ctx)
	if err != nil {
		return "", err
	}
	return passDetail(report), nil
}

func (s *Service) cleanupJob(ctx context.Context) (string, error) {
	report, err := s.Cleanup(ctx)
	if err != nil {
		return "", err
	}
	return passDetail(report), nil
}

func (s *Service) snapshotJob(ctx context.Context) (string, error) {
	started := time.Now()
	agents, err := s.profiles.Agents(ctx)
	if err != nil {
		s.record(ctx, "scheduled_snapshot", "", started, err, "")
		return "", err
	}

	taken := 0
	for _, agent := range agents {
		if _, err := s.profiles.Snapshot(ctx, agent, profile.TriggerScheduled); err != nil {
			s.record(ctx, "scheduled_snapshot", agent, started, err, "")
			return "", fmt.Errorf("snapshot %s: %w", agent, err)
		}
		taken++
	}
	detail := fmt.Sprintf("%d snapshots", taken)
	s.record(ctx, "scheduled_snapshot", "", started, nil, detail)
	return detail, nil
}

// retentionJob prunes resolved profile history, old feedback analyses and
// old operation-log rows past the retention window.
func (s *Service) retentionJob(ctx context.Context) (string, error) {
	started := time.Now()
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.Maintenance.RetentionDays)

	var total int64
	n, err := s.profiles.CleanupOldData(ctx, cutoff)
	if err != nil {
		s.record(ctx, "retention", "", started, err, "")
		return "", err
	}
	total += n

	n, err = s.analyses.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.record(ctx, "retention", "", started, err, "")
		return "", err
	}
	total += n

	n, err = s.oplog.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.record(ctx, "retention", "", started, err, "")
		return "", err
	}
	total += n

	detail := fmt.Sprintf("pruned %d rows before %s", total, cutoff.Format(time.RFC3339))
	s.record(ctx, "retention", "", started, nil, detail)
	return detail, nil
}
