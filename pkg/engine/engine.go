// Package engine implements the challenge lifecycle and stake-settlement
// core: escrow accounting, access control, participation, proof logging,
// verifier consensus and resumable settlement. All state is materialized
// from an append-only journal and is reproducible by replaying it.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/proofofgood/engine/pkg/journal"
	"github.com/proofofgood/engine/pkg/model"
	"github.com/proofofgood/engine/pkg/policy"
)

// Publisher receives committed events for real-time fan-out (websocket
// feeds). Publishing is best-effort and never fails an operation.
type Publisher interface {
	PublishEvent(ctx context.Context, ev model.Event)
}

// Config wires the engine's collaborators. Journal is required; the rest
// default to safe values.
type Config struct {
	Logger      *zap.Logger
	Clock       Clock
	Journal     journal.Journal
	Eligibility policy.Eligibility
	Publisher   Publisher

	// BootstrapAdmin is granted admin once, at initialization, when the
	// replayed state contains no admin at all.
	BootstrapAdmin string

	// DefaultGraceWindow applies to challenges created without an explicit
	// grace window.
	DefaultGraceWindow time.Duration

	// SettleBatchSize bounds the work of a single finalize invocation.
	SettleBatchSize int

	// MinVerifierTrust, when positive, additionally requires the
	// eligibility policy's trust score to reach this value before an
	// unassigned verifier may vote on open challenges.
	MinVerifierTrust float64
}

const (
	defaultGraceWindow    = 24 * time.Hour
	defaultSettleBatch    = 256
	maxEvidenceRefLen     = 512
	challengeIDPrefix     = "c"
	challengeIDNumberBase = 10
)

// Engine is the single authoritative ledger for challenges. Mutations on a
// given challenge are serialized by a per-challenge lock; reads are served
// from lock-free snapshots.
type Engine struct {
	logger      *zap.Logger
	clock       Clock
	journal     journal.Journal
	eligibility policy.Eligibility
	publisher   Publisher

	access   *AccessControl
	accounts *Accounting

	challenges *xsync.Map[string, *challengeState]

	createMu sync.Mutex
	nextID   uint64

	graceWindow time.Duration
	batchSize   int
	minTrust    float64
}

// New builds an engine, replays the journal to rebuild materialized state
// and applies the one-time bootstrap admin grant if configured and needed.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Journal == nil {
		return nil, fmt.Errorf("engine: journal is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Eligibility == nil {
		cfg.Eligibility = policy.NewStatic()
	}
	if cfg.DefaultGraceWindow <= 0 {
		cfg.DefaultGraceWindow = defaultGraceWindow
	}
	if cfg.SettleBatchSize <= 0 {
		cfg.SettleBatchSize = defaultSettleBatch
	}

	e := &Engine{
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		journal:     cfg.Journal,
		eligibility: cfg.Eligibility,
		publisher:   cfg.Publisher,
		access:      NewAccessControl(),
		accounts:    NewAccounting(),
		challenges:  xsync.NewMap[string, *challengeState](),
		nextID:      1,
		graceWindow: cfg.DefaultGraceWindow,
		batchSize:   cfg.SettleBatchSize,
		minTrust:    cfg.MinVerifierTrust,
	}

	if err := e.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("engine: replay journal: %w", err)
	}

	if cfg.BootstrapAdmin != "" && !e.access.HasAnyAdmin() {
		if err := e.bootstrapAdmin(ctx, cfg.BootstrapAdmin); err != nil {
			return nil, fmt.Errorf("engine: bootstrap admin: %w", err)
		}
	}

	return e, nil
}

// Now exposes the engine clock so callers share its notion of time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// stateFor loads the materialized state of a challenge.
func (e *Engine) stateFor(id string) (*challengeState, *Error) {
	st, ok := e.challenges.Load(id)
	if !ok {
		return nil, newError(KindState, CodeNotFound, "challenge %s not found", id)
	}
	return st, nil
}

// newChallengeID assigns the next sequential id under the creation lock.
func (e *Engine) newChallengeID() string {
	id := fmt.Sprintf("%s%06d", challengeIDPrefix, e.nextID)
	e.nextID++
	return id
}

// observeChallengeID advances the id counter past a replayed id so fresh
// ids never collide with journaled ones.
func (e *Engine) observeChallengeID(id string) {
	n, err := strconv.ParseUint(strings.TrimPrefix(id, challengeIDPrefix), challengeIDNumberBase, 64)
	if err != nil {
		return
	}
	if n >= e.nextID {
		e.nextID = n + 1
	}
}

// commit journals an event, applies it to the materialized state and fans
// it out to the publisher. The caller holds the relevant challenge lock,
// so journal order matches application order for that challenge.
func (e *Engine) commit(ctx context.Context, ev model.Event) (model.Event, *Error) {
	stored, err := e.journal.Append(ctx, ev)
	if err != nil {
		return model.Event{}, wrapExternal(CodeExternalDependency, err, "append %s", ev.Kind)
	}
	if applyErr := e.apply(stored); applyErr != nil {
		// Validation runs before the append, so a failing apply means the
		// materialized state diverged from the journal. Surface it loudly.
		e.logger.Error("apply committed event failed",
			zap.Uint64("seq", stored.Seq),
			zap.String("kind", string(stored.Kind)),
			zap.String("challenge", stored.ChallengeID),
			zap.Error(applyErr))
		return stored, applyErr
	}
	if e.publisher != nil {
		e.publisher.PublishEvent(ctx, stored)
	}
	return stored, nil
}

// event builds a journal record stamped with the injected clock.
func (e *Engine) event(kind model.EventKind, challengeID string, payload any) (model.Event, *Error) {
	ev, err := model.NewEvent(kind, challengeID, e.clock.Now(), payload)
	if err != nil {
		return model.Event{}, newError(KindValidation, CodeInvalidParameter, "encode %s: %v", kind, err)
	}
	return ev, nil
}

func (e *Engine) bootstrapAdmin(ctx context.Context, target string) error {
	ev, eerr := e.event(model.EventRoleGranted, "", &model.RoleGrantedPayload{
		Role:   model.RoleAdmin,
		Target: target,
		By:     target, // one-time self-grant permitted at system initialization
	})
	if eerr != nil {
		return eerr
	}
	if _, cerr := e.commit(ctx, ev); cerr != nil {
		return cerr
	}
	e.logger.Info("bootstrap admin granted", zap.String("admin", target))
	return nil
}
