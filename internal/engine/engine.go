// Package engine implements the incremental recompute engine. It tracks
// which users are affected when a profile, signal, or catalog changes,
// recomputes only the stale subset through the scoring and selection
// pipeline, and publishes each user's recommendation set atomically.
//
// Per user the engine runs a three-state machine (fresh, stale,
// recomputing) with a pending-dirty flag: triggers arriving during an
// in-flight pass coalesce into exactly one follow-up pass instead of
// queueing. Users are independent fault domains; passes for different users
// run in parallel on a bounded worker pool.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/strategy-advisor/internal/catalog"
	"github.com/yourorg/strategy-advisor/internal/model"
	"github.com/yourorg/strategy-advisor/internal/profile"
	"github.com/yourorg/strategy-advisor/internal/scoring"
	"github.com/yourorg/strategy-advisor/internal/selection"
	"github.com/yourorg/strategy-advisor/internal/store"
)

// SetsCollection is the document collection holding published sets.
const SetsCollection = "recommendation_sets"

// ErrPending is returned by GetRecommendations when the user's first
// recompute is still in flight.
var ErrPending = errors.New("recommendations not yet computed")

// AllocationSource supplies a user's existing allocations for the
// selector's concentration constraints. It is an external collaborator;
// NoAllocations is the default.
type AllocationSource interface {
	Allocations(ctx context.Context, userID string) ([]model.Allocation, error)
}

// NoAllocations is an AllocationSource for users with no tracked portfolio.
type NoAllocations struct{}

// Allocations implements AllocationSource.
func (NoAllocations) Allocations(context.Context, string) ([]model.Allocation, error) {
	return nil, nil
}

// PublishHook observes every published recommendation set, e.g. for signing
// or export. Hooks run synchronously after publication; they must not block
// for long.
type PublishHook func(set model.RecommendationSet, skipped []model.SkipRecord)

// Config sizes the engine.
type Config struct {
	Workers   int
	QueueSize int
}

type userStatus int

const (
	statusFresh userStatus = iota
	statusStale
	statusRecomputing
)

type userState struct {
	status  userStatus
	pending bool
	cancel  context.CancelFunc
}

type cachedResult struct {
	set     model.RecommendationSet
	skipped []model.SkipRecord
}

// Engine coordinates incremental recomputation.
type Engine struct {
	profiles    *profile.Store
	catalog     *catalog.Catalog
	backend     store.Store
	allocations AllocationSource
	deps        *depIndex
	metrics     *engineMetrics
	log         *logrus.Entry
	hooks       []PublishHook

	workers int
	queue   chan string

	mu    sync.Mutex
	users map[string]*userState

	vecMu   sync.RWMutex
	vectors map[string]model.SignalVector // latest per instrument

	resMu   sync.RWMutex
	results map[string]*cachedResult

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an engine. The store handle is shared with the profile store;
// its lifecycle belongs to the caller.
func New(cfg Config, profiles *profile.Store, cat *catalog.Catalog, backend store.Store, reg prometheus.Registerer) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Engine{
		profiles:    profiles,
		catalog:     cat,
		backend:     backend,
		allocations: NoAllocations{},
		deps:        newDepIndex(),
		metrics:     newEngineMetrics(reg),
		log:         logrus.WithField("component", "recompute_engine"),
		workers:     cfg.Workers,
		queue:       make(chan string, cfg.QueueSize),
		users:       make(map[string]*userState),
		vectors:     make(map[string]model.SignalVector),
		results:     make(map[string]*cachedResult),
	}
}

// SetAllocationSource overrides the default empty allocation source.
func (e *Engine) SetAllocationSource(src AllocationSource) {
	e.allocations = src
}

// AddPublishHook registers a hook. Must be called before Start.
func (e *Engine) AddPublishHook(hook PublishHook) {
	e.hooks = append(e.hooks, hook)
}

// Start launches the worker pool.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case userID := <-e.queue:
					e.recomputeUser(e.runCtx, userID)
				case <-e.runCtx.Done():
					return
				}
			}
		}()
	}
	e.log.WithField("workers", e.workers).Info("recompute engine started")
}

// Stop cancels in-flight passes and waits for workers to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.log.Info("recompute engine stopped")
}

// PublishVector installs a normalized vector as the latest for its
// instrument and triggers recomputation of the users depending on any of
// its features. An out-of-order vector (lower sequence than the installed
// one) is dropped: vectors supersede, they never regress.
func (e *Engine) PublishVector(vector model.SignalVector) {
	e.vecMu.Lock()
	current, ok := e.vectors[vector.Instrument]
	if ok && current.Seq >= vector.Seq {
		e.vecMu.Unlock()
		e.log.WithFields(logrus.Fields{
			"instrument": vector.Instrument,
			"seq":        vector.Seq,
			"current":    current.Seq,
		}).Debug("dropping superseded signal vector")
		return
	}
	e.vectors[vector.Instrument] = vector
	e.vecMu.Unlock()

	e.metrics.signalUpdates.Inc()
	e.OnSignalUpdated(vector.Instrument, vector.FeatureNames())
}

// OnSignalUpdated marks every user whose recommendation set depends on one
// of the updated (instrument, feature) pairs as stale.
func (e *Engine) OnSignalUpdated(instrument string, featureKeys []string) {
	keys := make([]string, 0, len(featureKeys))
	for _, f := range featureKeys {
		keys = append(keys, depKey(instrument, f))
	}
	for userID := range e.deps.Affected(keys) {
		e.markStale(userID)
	}
}

// OnProfileUpdated marks the user stale after a profile revision bump.
func (e *Engine) OnProfileUpdated(userID string) {
	e.markStale(userID)
}

// OnProfileDeleted cancels any in-flight pass for the user and drops all
// cached and persisted state. A pass cancelled here discards its partial
// results; nothing computed for a deleted user is ever published.
func (e *Engine) OnProfileDeleted(userID string) {
	e.mu.Lock()
	if st, ok := e.users[userID]; ok {
		if st.cancel != nil {
			st.cancel()
		}
		delete(e.users, userID)
	}
	e.mu.Unlock()

	e.deps.RemoveUser(userID)

	e.resMu.Lock()
	delete(e.results, userID)
	e.resMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.backend.Delete(ctx, SetsCollection, userID, store.AnyRevision); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.log.WithError(err).WithField("user_id", userID).Warn("failed to drop persisted recommendation set")
	}
	e.log.WithField("user_id", userID).Info("user state dropped")
}

// OnCatalogChanged marks every known user stale.
func (e *Engine) OnCatalogChanged() {
	e.mu.Lock()
	userIDs := make([]string, 0, len(e.users))
	for userID := range e.users {
		userIDs = append(userIDs, userID)
	}
	e.mu.Unlock()

	for _, userID := range userIDs {
		e.markStale(userID)
	}
	e.log.WithField("users", len(userIDs)).Info("catalog change invalidated all users")
}

// SweepStale re-enqueues users stuck in the stale state, typically those
// whose passes were deferred waiting for signal data. Driven by a cron job
// in the wiring layer.
func (e *Engine) SweepStale() int {
	e.mu.Lock()
	var stale []string
	for userID, st := range e.users {
		if st.status == statusStale {
			stale = append(stale, userID)
		}
	}
	e.mu.Unlock()

	for _, userID := range stale {
		e.enqueue(userID)
	}
	return len(stale)
}

// GetRecommendations returns the user's current recommendation set. On a
// cache miss it recomputes synchronously; ErrPending is returned only when
// another pass for the user is already in flight.
func (e *Engine) GetRecommendations(ctx context.Context, userID string) (model.RecommendationSet, error) {
	e.resMu.RLock()
	cached, ok := e.results[userID]
	e.resMu.RUnlock()
	if ok {
		return cached.set, nil
	}

	// Confirm the user exists before doing any work.
	if _, err := e.profiles.Get(ctx, userID); err != nil {
		return model.RecommendationSet{}, err
	}

	e.recomputeUser(ctx, userID)

	e.resMu.RLock()
	cached, ok = e.results[userID]
	e.resMu.RUnlock()
	if !ok {
		return model.RecommendationSet{}, ErrPending
	}
	return cached.set, nil
}

// Audit returns the constraint-skip records from the user's last pass.
func (e *Engine) Audit(userID string) []model.SkipRecord {
	e.resMu.RLock()
	defer e.resMu.RUnlock()
	if cached, ok := e.results[userID]; ok {
		return cached.skipped
	}
	return nil
}

// markStale transitions a user toward recomputation. A user already queued
// stays queued; a user mid-pass gets the pending-dirty flag instead of a
// second queue entry, which is what bounds work under trigger storms.
func (e *Engine) markStale(userID string) {
	e.mu.Lock()
	st, ok := e.users[userID]
	if !ok {
		st = &userState{status: statusFresh}
		e.users[userID] = st
	}
	switch st.status {
	case statusRecomputing:
		st.pending = true
		e.mu.Unlock()
		e.metrics.coalescedTriggers.Inc()
	case statusStale:
		e.mu.Unlock()
	default:
		st.status = statusStale
		e.mu.Unlock()
		e.metrics.staleUsers.Inc()
		e.enqueue(userID)
	}
}

func (e *Engine) enqueue(userID string) {
	select {
	case e.queue <- userID:
	default:
		// Queue full: leave the user stale; the sweep will retry.
		e.log.WithField("user_id", userID).Warn("recompute queue full")
	}
}

type passOutcome string

const (
	passPublished passOutcome = "published"
	passUnchanged passOutcome = "unchanged"
	passDeferred  passOutcome = "deferred"
	passDiscarded passOutcome = "discarded"
	passGone      passOutcome = "gone"
	passError     passOutcome = "error"
)

// recomputeUser runs at most one pass for the user, serializing against
// concurrent passes for the same user via the state machine.
func (e *Engine) recomputeUser(ctx context.Context, userID string) {
	e.mu.Lock()
	st, ok := e.users[userID]
	if !ok {
		st = &userState{}
		e.users[userID] = st
	}
	if st.status == statusRecomputing {
		st.pending = true
		e.mu.Unlock()
		e.metrics.coalescedTriggers.Inc()
		return
	}
	wasStale := st.status == statusStale
	st.status = statusRecomputing
	st.pending = false
	passCtx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	e.mu.Unlock()
	if !wasStale {
		e.metrics.staleUsers.Inc()
	}

	start := time.Now()
	outcome := e.pass(passCtx, userID)
	cancel()
	e.metrics.recomputeTotal.WithLabelValues(string(outcome)).Inc()
	e.metrics.recomputeDuration.Observe(time.Since(start).Seconds())

	e.mu.Lock()
	st, ok = e.users[userID]
	if !ok {
		// Deleted mid-pass; nothing to transition.
		e.mu.Unlock()
		return
	}
	st.cancel = nil
	rerun := st.pending || outcome == passDiscarded
	switch {
	case rerun:
		// Inputs changed during the pass: a result computed from superseded
		// inputs is never served, so go straight back through the pipeline.
		st.status = statusStale
		st.pending = false
		e.mu.Unlock()
		e.enqueue(userID)
	case outcome == passDeferred || outcome == passError:
		st.status = statusStale
		e.mu.Unlock()
	default:
		st.status = statusFresh
		e.mu.Unlock()
		e.metrics.staleUsers.Dec()
	}
}

// pass executes one scoring-to-selection pipeline run for the user.
func (e *Engine) pass(ctx context.Context, userID string) passOutcome {
	tracer := otel.Tracer("strategy-advisor")
	ctx, span := tracer.Start(ctx, "recompute_pass")
	span.SetAttributes(attribute.String("user_id", userID))
	defer span.End()

	log := e.log.WithField("user_id", userID)

	p, err := e.profiles.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return passGone
		}
		log.WithError(err).Warn("profile read failed")
		return passError
	}

	snap := e.catalog.Current()

	// Register dependency keys for every strategy the profile could use, so
	// signal arrivals re-trigger this user even when today's vector left
	// the strategy unscorable.
	e.deps.Register(userID, profileDepKeys(p, snap.Definitions))

	byInstrument := make(map[string][]model.StrategyDefinition)
	for _, def := range snap.Definitions {
		byInstrument[def.Instrument] = append(byInstrument[def.Instrument], def)
	}

	usedSeqs := make(map[string]int64)
	var scores []model.SuitabilityScore
	haveAnyVector := false
	for instrument, defs := range byInstrument {
		vector, ok := e.latestVector(instrument)
		if ok {
			haveAnyVector = true
			usedSeqs[instrument] = vector.Seq
		} else {
			// An empty vector makes every required feature missing, which
			// the scorer records as an auditable ineligibility.
			vector = model.NewSignalVector(instrument, "", "", 0, time.Now().UTC(), nil)
		}
		scores = append(scores, scoring.Score(p, vector, defs, snap.Calibration)...)
	}

	if !haveAnyVector {
		log.Debug("no signal vectors yet, deferring recompute")
		return passDeferred
	}
	scoring.Sort(scores)

	allocations, err := e.allocations.Allocations(ctx, userID)
	if err != nil {
		log.WithError(err).Warn("allocation source failed, selecting without existing allocations")
		allocations = nil
	}

	set, skipped, err := selection.Select(scores, snap.ByID(), allocations, snap.Constraints)
	if errors.Is(err, selection.ErrEmptyEligibleSet) {
		// Terminal but non-fatal: publish an empty set so callers see "no
		// suitable strategies" instead of an error.
		set = model.RecommendationSet{UserID: userID, GeneratedAt: time.Now().UTC()}
	} else if err != nil {
		log.WithError(err).Warn("selection failed")
		return passError
	}

	// The engine owns the input stamps: the set must record every
	// instrument consulted, not just the top strategy's.
	set.BasedOnProfileRevision = p.Revision
	set.BasedOnSignalSeqs = usedSeqs

	// Revalidate inputs before publishing. A result computed from
	// superseded inputs is discarded, never served.
	if ctx.Err() != nil {
		return passDiscarded
	}
	if !e.inputsCurrent(ctx, userID, p.Revision, usedSeqs) {
		log.Debug("inputs superseded during pass, discarding result")
		return passDiscarded
	}

	// Identical inputs produce an identical set; keep the published one.
	e.resMu.RLock()
	cached, ok := e.results[userID]
	e.resMu.RUnlock()
	if ok && cached.set.BasedOnProfileRevision == p.Revision && equalSeqs(cached.set.BasedOnSignalSeqs, usedSeqs) {
		return passUnchanged
	}

	if err := e.publish(ctx, set, skipped); err != nil {
		log.WithError(err).Warn("publish failed")
		return passError
	}

	log.WithFields(logrus.Fields{
		"set_id":  set.SetID,
		"entries": len(set.Entries),
		"skipped": len(skipped),
	}).Info("recommendation set published")
	return passPublished
}

// publish atomically replaces the user's set in memory and in the store.
func (e *Engine) publish(ctx context.Context, set model.RecommendationSet, skipped []model.SkipRecord) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode recommendation set: %w", err)
	}
	if _, err := e.backend.Put(ctx, SetsCollection, set.UserID, data, store.AnyRevision); err != nil {
		return err
	}

	e.resMu.Lock()
	e.results[set.UserID] = &cachedResult{set: set, skipped: skipped}
	e.resMu.Unlock()
	e.metrics.publishedSets.Inc()

	for _, hook := range e.hooks {
		hook(set, skipped)
	}
	return nil
}

// inputsCurrent re-reads the profile revision and compares signal sequences
// against the latest installed vectors.
func (e *Engine) inputsCurrent(ctx context.Context, userID string, revision int64, usedSeqs map[string]int64) bool {
	current, err := e.profiles.Get(ctx, userID)
	if err != nil || current.Revision != revision {
		return false
	}

	e.vecMu.RLock()
	defer e.vecMu.RUnlock()
	for instrument, seq := range usedSeqs {
		if v, ok := e.vectors[instrument]; !ok || v.Seq != seq {
			return false
		}
	}
	return true
}

func (e *Engine) latestVector(instrument string) (model.SignalVector, bool) {
	e.vecMu.RLock()
	defer e.vecMu.RUnlock()
	v, ok := e.vectors[instrument]
	return v, ok
}

// profileDepKeys lists the (instrument, feature) pairs whose updates should
// re-trigger this user: every required feature of every strategy the user
// passes the risk/goal gate for.
func profileDepKeys(p model.UserProfile, defs []model.StrategyDefinition) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, def := range defs {
		if !p.RiskTolerance.AtLeast(def.MinRiskTolerance) || !def.AppliesToGoal(p.Goal) {
			continue
		}
		for _, feature := range def.RequiredFeatures {
			key := depKey(def.Instrument, feature)
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}
	}
	return keys
}

func equalSeqs(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
