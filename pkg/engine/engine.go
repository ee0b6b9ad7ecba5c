package engine

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/cachewire/cachewire-go/pkg/cache"
	"github.com/cachewire/cachewire-go/pkg/connection"
	"github.com/cachewire/cachewire-go/pkg/log"
	"github.com/cachewire/cachewire-go/pkg/model"
)

// Engine errors.
var (
	ErrStoreRequired   = errors.New("cache store is required")
	ErrFetcherRequired = errors.New("fetcher is required")
	ErrInvalidMutation = errors.New("invalid mutation")
	ErrMutationTimeout = errors.New("mutation confirmation timed out")
	ErrEngineClosed    = errors.New("engine closed")
)

// Engine defaults.
const (
	// DefaultResultTTL is the freshness window for refetched results.
	DefaultResultTTL = 5 * time.Minute

	// DefaultRollbackTimeout bounds how long an unconfirmed optimistic
	// patch may live.
	DefaultRollbackTimeout = 10 * time.Second

	// DefaultMaxRefetchAttempts bounds refetch retries before the entry
	// is left stale.
	DefaultMaxRefetchAttempts = 5
)

// Fetcher loads a query result from the backing store. Implementations
// must honor the context and return the tags the result depends on.
type Fetcher interface {
	Fetch(ctx context.Context, queryKey string) (data any, tags []model.Tag, err error)
}

// MutationCallback is notified when a mutation is confirmed (err nil)
// or rolled back. Invoked from internal goroutines; it must not block.
type MutationCallback func(m *Mutation, err error)

// Config configures an Engine. Zero values are replaced with defaults.
type Config struct {
	// Store is the cache the engine maintains. Required.
	Store *cache.Store

	// Fetcher loads query results on refetch. Required.
	Fetcher Fetcher

	// Epoch returns the current connection epoch. Optional; without it
	// refetch results are never discarded as cross-epoch.
	Epoch func() string

	// ResultTTL is the freshness window applied to refetched results.
	ResultTTL time.Duration

	// RollbackTimeout for unconfirmed optimistic mutations.
	RollbackTimeout time.Duration

	// MaxRefetchAttempts before a refetch gives up.
	MaxRefetchAttempts int

	// Logger receives dispatch and error events. Optional.
	Logger log.Logger
}

func (c *Config) fixup() error {
	if c.Store == nil {
		return ErrStoreRequired
	}
	if c.Fetcher == nil {
		return ErrFetcherRequired
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = DefaultResultTTL
	}
	if c.RollbackTimeout <= 0 {
		c.RollbackTimeout = DefaultRollbackTimeout
	}
	if c.MaxRefetchAttempts <= 0 {
		c.MaxRefetchAttempts = DefaultMaxRefetchAttempts
	}
	c.Logger = log.OrNoop(c.Logger)
	return nil
}

// Engine applies change events and local mutations to the cache.
type Engine struct {
	config Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.Mutex

	// Pending optimistic mutations by id.
	pending map[string]*pendingMutation

	// Mutations issued while disconnected, in issue order.
	queue []*Mutation

	// Query keys with a refetch in flight.
	inflight map[string]struct{}

	// Active connection sender, nil while disconnected.
	sender MutationSender

	onMutation MutationCallback
	closed     bool
}

// NewEngine creates an engine over the given store and fetcher.
func NewEngine(config Config) (*Engine, error) {
	if err := config.fixup(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*pendingMutation),
		inflight: make(map[string]struct{}),
	}, nil
}

// OnMutationResult sets the mutation outcome callback.
func (e *Engine) OnMutationResult(cb MutationCallback) {
	e.mu.Lock()
	e.onMutation = cb
	e.mu.Unlock()
}

// SetSender installs the active connection's mutation sender. Called on
// every transition into connected.
func (e *Engine) SetSender(s MutationSender) {
	e.mu.Lock()
	e.sender = s
	e.mu.Unlock()
}

// Disconnected clears the sender. Pending mutations keep their rollback
// timers: a mutation whose outcome is unknown still rolls back on
// timeout.
func (e *Engine) Disconnected() {
	e.mu.Lock()
	e.sender = nil
	e.mu.Unlock()
}

// Close stops refetches and rollback timers. Queued mutations remain
// readable via QueuedMutations for persistence.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, p := range e.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// HandleEvent runs one change event through the pipeline. Must be
// called from a single goroutine (the dispatch loop). Returns false if
// the event was dropped as stale or malformed.
func (e *Engine) HandleEvent(ev *model.ChangeEvent) bool {
	rec := canonicalRecord(ev)
	if rec == nil {
		e.config.Logger.Log(log.NewError(e.epoch(), log.LayerDispatch,
			errors.New("change event without usable record"), "handle event"))
		return false
	}

	touched, applied := e.config.Store.ApplyEntityVersion(rec)
	e.logDispatch(ev, rec, !applied, len(touched))
	if !applied {
		return false
	}

	if ev.MutationID != "" {
		e.confirm(ev.MutationID)
	} else if id := e.matchConfirmation(ev.EntityType, rec); id != "" {
		// Backends that do not echo mutation ids still confirm by
		// value: an update whose payload subsumes the delta.
		e.confirm(id)
	}

	for _, key := range touched {
		res, ok := e.config.Store.PeekQueryResult(key)
		if !ok {
			continue
		}
		newData, err := patchData(res.Data, rec, ev.Type)
		if err != nil {
			// Unpatchable shapes fall back to invalidate-and-refetch.
			e.config.Store.MarkStale(key)
			e.ScheduleRefetch(key)
			continue
		}
		e.config.Store.ReplaceQueryData(key, newData)
		if ev.Type == model.EventDelete {
			// The entry no longer contains the entity; recompute its tag
			// set so later version bumps for the dead id skip it.
			e.config.Store.RemoveTag(key, rec.Tag())
		}
	}
	return true
}

// canonicalRecord derives the record to offer the store: the after
// image, or a versioned tombstone built from the before image for
// deletes. The deletion carries its own version, assigned by the
// server, so late updates lose against the tombstone.
func canonicalRecord(ev *model.ChangeEvent) *model.EntityRecord {
	if ev == nil {
		return nil
	}
	if ev.Type == model.EventDelete {
		if ev.Before == nil {
			return nil
		}
		return &model.EntityRecord{
			EntityType: ev.EntityType,
			ID:         ev.Before.ID,
			Version:    ev.Before.Version,
			Deleted:    true,
		}
	}
	return ev.After
}

// Mutate issues an optimistic mutation: dependent cache entries are
// patched immediately and the mutation is sent, or queued when
// disconnected. The returned mutation's outcome arrives through the
// OnMutationResult callback.
func (e *Engine) Mutate(entityType model.EntityType, entityID string, delta map[string]any) (*Mutation, error) {
	if entityType == "" || entityID == "" || len(delta) == 0 {
		return nil, ErrInvalidMutation
	}

	m := &Mutation{
		ID:         NewMutationID(),
		EntityType: entityType,
		EntityID:   entityID,
		Delta:      cloneDelta(delta),
		IssuedAt:   time.Now(),
	}
	patched := e.applyOptimistic(m)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	p := &pendingMutation{mutation: m, keys: patched}
	e.pending[m.ID] = p
	sender := e.sender
	if sender == nil {
		e.queue = append(e.queue, m)
		e.mu.Unlock()
		return m, nil
	}
	p.timer = e.newRollbackTimer(m.ID)
	e.mu.Unlock()

	if err := sender.SendMutate(m); err != nil {
		// The connection raced away mid-send; queue for replay.
		e.mu.Lock()
		if p, ok := e.pending[m.ID]; ok && p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		e.queue = append(e.queue, m)
		e.mu.Unlock()
	}
	return m, nil
}

// applyOptimistic patches every dependent entry whose shape supports it
// with the delta merged over the canonical record. Entries that cannot
// be patched are left alone; the confirming event sorts them out.
func (e *Engine) applyOptimistic(m *Mutation) []string {
	store := e.config.Store

	rec := &model.EntityRecord{
		EntityType: m.EntityType,
		ID:         m.EntityID,
		Payload:    cloneDelta(m.Delta),
	}
	if base, ok := store.Entity(m.EntityType, m.EntityID); ok && !base.Deleted {
		rec = base.Clone()
		if rec.Payload == nil {
			rec.Payload = make(map[string]any, len(m.Delta))
		}
		for k, v := range m.Delta {
			rec.Payload[k] = v
		}
	}

	var patched []string
	for _, key := range store.KeysForTags(model.NewTag(m.EntityType, m.EntityID)) {
		res, ok := store.PeekQueryResult(key)
		if !ok {
			continue
		}
		data, err := patchData(res.Data, rec, model.EventUpdate)
		if err != nil {
			continue
		}
		if store.ApplyPatch(key, m.ID, data) {
			patched = append(patched, key)
		}
	}
	return patched
}

// HandleMutateAck records the backend's response to a mutation. A nil
// reason is acceptance only; the patch stays pending until the change
// event echoing the mutation id confirms it. A rejection rolls the
// mutation back immediately. Either way a replay waiting on this
// mutation's ack is released.
func (e *Engine) HandleMutateAck(mutationID string, reason error) {
	e.mu.Lock()
	if p, ok := e.pending[mutationID]; ok {
		releaseAckLocked(p)
	}
	e.mu.Unlock()

	if reason != nil {
		e.rollback(mutationID, reason)
	}
}

// releaseAckLocked unblocks a replay waiting on the mutation's ack.
// Caller holds e.mu.
func releaseAckLocked(p *pendingMutation) {
	if p.ackCh != nil {
		close(p.ackCh)
		p.ackCh = nil
	}
}

// PendingCount returns the number of unconfirmed mutations.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// QueuedMutations returns the offline queue in issue order.
func (e *Engine) QueuedMutations() []*Mutation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Mutation, len(e.queue))
	copy(out, e.queue)
	return out
}

// RestoreQueue loads previously persisted mutations into the offline
// queue. No optimistic patches are applied for restored mutations; the
// confirming events update the cache.
func (e *Engine) RestoreQueue(ms []*Mutation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range ms {
		if m == nil || m.ID == "" {
			continue
		}
		if _, ok := e.pending[m.ID]; ok {
			continue
		}
		e.pending[m.ID] = &pendingMutation{mutation: m}
		e.queue = append(e.queue, m)
	}
}

// ReplayQueue drains the offline queue over the current sender, one
// mutation at a time: each send waits for the backend's ack before the
// next goes out, so replays land in issue order. Called after
// resubscription completes. Mutations that fail to send are requeued.
func (e *Engine) ReplayQueue() {
	e.mu.Lock()
	if e.closed || e.sender == nil || len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	queue := e.queue
	e.queue = nil
	e.mu.Unlock()

	// ULIDs sort by issue time; restored and fresh mutations interleave
	// correctly.
	sort.Slice(queue, func(i, j int) bool { return queue[i].ID < queue[j].ID })

	e.wg.Add(1)
	go e.replay(queue)
}

func (e *Engine) replay(queue []*Mutation) {
	defer e.wg.Done()

	for i, m := range queue {
		e.mu.Lock()
		p, ok := e.pending[m.ID]
		if !ok {
			// Resolved while queued.
			e.mu.Unlock()
			continue
		}
		sender := e.sender
		if sender == nil || e.closed {
			e.mu.Unlock()
			e.requeue(queue[i:])
			return
		}
		ackCh := make(chan struct{})
		p.ackCh = ackCh
		if p.timer == nil {
			p.timer = e.newRollbackTimer(m.ID)
		}
		e.mu.Unlock()

		if err := sender.SendMutate(m); err != nil {
			e.mu.Lock()
			if p, ok := e.pending[m.ID]; ok {
				if p.timer != nil {
					p.timer.Stop()
					p.timer = nil
				}
				p.ackCh = nil
			}
			e.mu.Unlock()
			e.requeue(queue[i:])
			e.config.Logger.Log(log.NewError(e.epoch(), log.LayerDispatch, err, "replay mutation queue"))
			return
		}

		select {
		case <-ackCh:
		case <-time.After(e.config.RollbackTimeout):
			// The rollback timer resolves the silent mutation; move on.
		case <-e.ctx.Done():
			e.requeue(queue[i+1:])
			return
		}
	}
}

func (e *Engine) requeue(ms []*Mutation) {
	e.mu.Lock()
	e.queue = append(ms, e.queue...)
	e.mu.Unlock()
}

// matchConfirmation finds the oldest pending mutation for the record's
// entity whose delta is fully reflected in the record's payload.
// Returns its id, or empty. Queued (unsent) mutations never match.
func (e *Engine) matchConfirmation(entityType model.EntityType, rec *model.EntityRecord) string {
	if rec == nil || rec.Deleted || rec.Payload == nil {
		return ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	queued := make(map[string]struct{}, len(e.queue))
	for _, m := range e.queue {
		queued[m.ID] = struct{}{}
	}

	best := ""
	for id, p := range e.pending {
		m := p.mutation
		if m.EntityType != entityType || m.EntityID != rec.ID {
			continue
		}
		if _, isQueued := queued[id]; isQueued {
			continue
		}
		if !deltaReflected(m.Delta, rec.Payload) {
			continue
		}
		if best == "" || id < best {
			best = id
		}
	}
	return best
}

// deltaReflected reports whether every delta field appears in the
// payload with an equal value. Numeric values are compared across
// types: wire decoding widens payload integers to int64 while local
// deltas may hold plain ints.
func deltaReflected(delta, payload map[string]any) bool {
	for k, want := range delta {
		got, ok := payload[k]
		if !ok || !valueEqual(got, want) {
			return false
		}
	}
	return len(delta) > 0
}

func valueEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// confirm resolves a pending mutation: the optimistic patch records are
// dropped and the patched data stays, about to be superseded by the
// confirming event's canonical apply anyway.
func (e *Engine) confirm(mutationID string) {
	e.mu.Lock()
	p, ok := e.pending[mutationID]
	if ok {
		releaseAckLocked(p)
		delete(e.pending, mutationID)
	}
	cb := e.onMutation
	e.mu.Unlock()
	if !ok {
		return
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	e.config.Store.ConfirmPatch(mutationID)
	if cb != nil {
		cb(p.mutation, nil)
	}
}

// rollback unwinds a pending mutation's patches and refetches the
// affected entries.
func (e *Engine) rollback(mutationID string, cause error) {
	e.mu.Lock()
	p, ok := e.pending[mutationID]
	if ok {
		releaseAckLocked(p)
		delete(e.pending, mutationID)
		for i, m := range e.queue {
			if m.ID == mutationID {
				e.queue = append(e.queue[:i], e.queue[i+1:]...)
				break
			}
		}
	}
	cb := e.onMutation
	e.mu.Unlock()
	if !ok {
		return
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	for _, key := range e.config.Store.RollbackPatch(mutationID) {
		e.ScheduleRefetch(key)
	}
	e.config.Logger.Log(log.NewError(e.epoch(), log.LayerCache, cause, "rollback mutation "+mutationID))
	if cb != nil {
		cb(p.mutation, cause)
	}
}

func (e *Engine) newRollbackTimer(mutationID string) *time.Timer {
	return time.AfterFunc(e.config.RollbackTimeout, func() {
		e.rollback(mutationID, ErrMutationTimeout)
	})
}

// ScheduleRefetch starts a background refetch for a query key unless
// one is already in flight.
func (e *Engine) ScheduleRefetch(queryKey string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if _, ok := e.inflight[queryKey]; ok {
		e.mu.Unlock()
		return
	}
	e.inflight[queryKey] = struct{}{}
	e.mu.Unlock()

	e.wg.Add(1)
	go e.refetch(queryKey)
}

func (e *Engine) refetch(queryKey string) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, queryKey)
		e.mu.Unlock()
	}()

	epoch := e.epoch()
	backoff := connection.NewBackoffWithConfig(connection.BackoffConfig{
		Initial: 250 * time.Millisecond,
		Max:     5 * time.Second,
	})

	var lastErr error
	for attempt := 0; attempt < e.config.MaxRefetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(backoff.Next()):
			}
		}

		data, tags, err := e.config.Fetcher.Fetch(e.ctx, queryKey)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			lastErr = err
			continue
		}

		// A result fetched against a previous connection's view must
		// not overwrite post-reconnect state; the reconnect's own
		// invalidation cycle covers the entry.
		if e.epoch() != epoch {
			return
		}
		e.config.Store.UpsertQueryResult(queryKey, data, tags, e.config.ResultTTL)
		return
	}

	if lastErr != nil {
		e.config.Logger.Log(log.NewError(epoch, log.LayerCache, lastErr, "refetch "+queryKey))
	}
}

func (e *Engine) epoch() string {
	if e.config.Epoch == nil {
		return ""
	}
	return e.config.Epoch()
}

func (e *Engine) logDispatch(ev *model.ChangeEvent, rec *model.EntityRecord, dropped bool, matched int) {
	e.config.Logger.Log(log.Event{
		Timestamp: time.Now(),
		Epoch:     e.epoch(),
		Direction: log.DirectionIn,
		Layer:     log.LayerCache,
		Category:  log.CategoryMessage,
		Dispatch: &log.DispatchEvent{
			EntityType: string(ev.EntityType),
			EntityID:   rec.ID,
			EventType:  ev.Type.String(),
			Sequence:   ev.Sequence,
			Version:    rec.Version,
			Dropped:    dropped,
			Matched:    matched,
		},
	})
}

func cloneDelta(delta map[string]any) map[string]any {
	out := make(map[string]any, len(delta))
	for k, v := range delta {
		out[k] = v
	}
	return out
}
