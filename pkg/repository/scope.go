package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"repobatch/pkg/domain"
)

// ScopeState describes where a scope's shared transaction is in its lifecycle.
type ScopeState int

const (
	// ScopeActive accepts new participants and operations.
	ScopeActive ScopeState = iota
	// ScopeCommitted means every participant was asked to commit.
	ScopeCommitted
	// ScopeDiscarded means the scope ended without completion.
	ScopeDiscarded
	// ScopeAborted means a nested scope ended without completion and the
	// whole transaction was discarded.
	ScopeAborted
)

func (s ScopeState) String() string {
	switch s {
	case ScopeActive:
		return "active"
	case ScopeCommitted:
		return "committed"
	case ScopeDiscarded:
		return "discarded"
	case ScopeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Participant is a unit of deferred work joined to a scope. Batches are the
// participants repositories enlist.
type Participant interface {
	Commit(ctx context.Context) error
	Discard()
}

type enlistment struct {
	key         any
	participant Participant
}

// transaction is the state shared by a root scope and every scope nested in it.
type transaction struct {
	mu           sync.Mutex
	id           string
	settings     settings
	participants []enlistment
	byKey        map[any]Participant
	doomed       bool
	state        ScopeState
}

// Scope is one level of an ambient transaction carried through a
// context.Context. Every Scope returned by BeginScope must be ended with End,
// normally via defer. Only the outermost End commits or discards.
type Scope struct {
	tx        *transaction
	parent    *Scope
	depth     int
	mu        sync.Mutex
	completed bool
	ended     bool
}

type scopeContextKey struct{}

// BeginScope opens a scope and returns a context carrying it. When ctx already
// carries an active scope the new scope nests inside it and shares its
// transaction; options are only honoured by the outermost scope.
func BeginScope(ctx context.Context, opts ...Option) (context.Context, *Scope) {
	if parent, ok := ScopeFromContext(ctx); ok {
		child := &Scope{tx: parent.tx, parent: parent, depth: parent.depth + 1}
		parent.tx.settings.logger.Debug("scope nested", "scope_id", parent.tx.id, "depth", child.depth)
		return context.WithValue(ctx, scopeContextKey{}, child), child
	}
	tx := &transaction{
		id:       uuid.NewString(),
		settings: newSettings(opts),
		byKey:    make(map[any]Participant),
		state:    ScopeActive,
	}
	tx.settings.logger.Debug("scope begin", "scope_id", tx.id)
	root := &Scope{tx: tx}
	return context.WithValue(ctx, scopeContextKey{}, root), root
}

// ScopeFromContext returns the innermost active scope carried by ctx. Scopes
// that already ended are skipped in favour of their still-active parent, and
// a finished transaction yields no scope at all.
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, _ := ctx.Value(scopeContextKey{}).(*Scope)
	for s != nil {
		if s.isEnded() {
			s = s.parent
			continue
		}
		if s.tx.currentState() != ScopeActive {
			return nil, false
		}
		return s, true
	}
	return nil, false
}

// ID returns the identifier shared by every level of the transaction.
func (s *Scope) ID() string { return s.tx.id }

// Depth is 0 for the outermost scope and increases with nesting.
func (s *Scope) Depth() int { return s.depth }

// State reports the lifecycle state of the shared transaction.
func (s *Scope) State() ScopeState { return s.tx.currentState() }

// Participants reports how many participants have joined so far.
func (s *Scope) Participants() int {
	s.tx.mu.Lock()
	defer s.tx.mu.Unlock()
	return len(s.tx.participants)
}

// Enlist registers the participant for key, creating it with factory on the
// first call. Later calls with the same key return the existing participant.
// Keys must be comparable; repositories use their record store value.
func (s *Scope) Enlist(key any, factory func() Participant) (Participant, error) {
	tx := s.tx
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != ScopeActive {
		return nil, fmt.Errorf("enlist in scope %s: %w", tx.id, domain.ErrScopeEnded)
	}
	if p, ok := tx.byKey[key]; ok {
		return p, nil
	}
	p := factory()
	tx.byKey[key] = p
	tx.participants = append(tx.participants, enlistment{key: key, participant: p})
	tx.settings.logger.Debug("scope participant joined", "scope_id", tx.id, "participant", participantName(key), "position", len(tx.participants))
	return p, nil
}

// Complete marks this scope level as successful. It has no effect on any
// store until the outermost scope ends, and fails once this level or the
// whole transaction has ended.
func (s *Scope) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.tx.currentState() != ScopeActive {
		return fmt.Errorf("complete scope %s: %w", s.tx.id, domain.ErrScopeEnded)
	}
	s.completed = true
	return nil
}

// End closes this scope level. A nested scope that was not completed dooms
// the transaction. The outermost scope commits every participant in join
// order when it was completed and nothing doomed it, and discards them all
// otherwise. Participant commit failures do not stop the remaining commits;
// the first error is returned. End is idempotent.
func (s *Scope) End(ctx context.Context) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	completed := s.completed
	s.mu.Unlock()

	if s.parent != nil {
		if !completed {
			s.tx.doom()
			s.tx.settings.logger.Warn("nested scope ended without completion", "scope_id", s.tx.id, "depth", s.depth)
		}
		return nil
	}
	return s.tx.finish(ctx, completed)
}

func (s *Scope) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func participantName(key any) string {
	if named, ok := key.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", key)
}

func (tx *transaction) currentState() ScopeState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

func (tx *transaction) doom() {
	tx.mu.Lock()
	tx.doomed = true
	tx.mu.Unlock()
}

func (tx *transaction) finish(ctx context.Context, completed bool) (err error) {
	tx.mu.Lock()
	participants := tx.participants
	doomed := tx.doomed
	tx.participants = nil
	tx.byKey = nil
	commit := completed && !doomed
	switch {
	case commit:
		tx.state = ScopeCommitted
	case doomed:
		tx.state = ScopeAborted
	default:
		tx.state = ScopeDiscarded
	}
	tx.mu.Unlock()

	operation := "scope.discard"
	if commit {
		operation = "scope.commit"
	}
	started := tx.settings.clock.Now()
	ctx, span := tx.settings.tracer.Start(ctx, operation)
	defer func() {
		span.End(err)
		tx.settings.observe(ctx, operation, started, err)
	}()

	if !commit {
		for _, e := range participants {
			e.participant.Discard()
		}
		tx.settings.logger.Info("scope discarded", "scope_id", tx.id, "participants", len(participants), "aborted", doomed)
		if doomed && completed {
			return fmt.Errorf("end scope %s: %w", tx.id, domain.ErrScopeAborted)
		}
		return nil
	}

	var failed int
	for i, e := range participants {
		if cErr := e.participant.Commit(ctx); cErr != nil {
			failed++
			tx.settings.logger.Error("scope participant commit failed",
				"scope_id", tx.id, "participant", participantName(e.key), "position", i, "error", cErr)
			if err == nil {
				err = fmt.Errorf("end scope %s: %w", tx.id, cErr)
			}
		}
	}
	tx.settings.logger.Info("scope committed", "scope_id", tx.id, "participants", len(participants), "failed", failed)
	return err
}

// RunInScope runs fn inside a scope, completing it when fn returns nil and
// ending it in every case, including panics. fn's error takes precedence over
// an error from End.
func RunInScope(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) (err error) {
	scopeCtx, scope := BeginScope(ctx, opts...)
	defer func() {
		if endErr := scope.End(scopeCtx); err == nil {
			err = endErr
		}
	}()
	if err = fn(scopeCtx); err != nil {
		return err
	}
	return scope.Complete()
}
