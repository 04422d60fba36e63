// Package coordinator implements the coordinator engine: the
// transaction state machine driving the prepare and decide phases
// across participants, backed by a durable decision log, with
// concurrent prepare fan-out and indefinite commit retry.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/twopc/commit/domain"
	"github.com/twopc/commit/metrics"
	"github.com/twopc/commit/pkg/journal"
	"github.com/twopc/commit/service/registry"
	"github.com/twopc/commit/transport"
)

// Record is the durable unit appended to the decision log. It is
// written once, before the decide phase dispatches to any participant,
// so a coordinator restart can resume dispatch without re-polling votes.
type Record struct {
	TxID        string
	Decision    domain.Decision
	Assignments []domain.Assignment
}

type coordTx struct {
	spec     domain.TxSpec
	state    domain.CoordinatorState
	decision domain.Decision
	votes    map[string]domain.Vote // keyed by participant id, last vote wins
}

// Config bundles the engine's tunables.
type Config struct {
	DefaultTimeout time.Duration // applied when a TxSpec omits timeout_ms
	AbortRetries   uint64        // bounded best-effort abort retry count
}

// Engine is the coordinator process's transaction engine. One Engine
// per process; participants are resolved through the shared registry
// rather than held directly, so registration can change between calls.
type Engine struct {
	mu       sync.Mutex
	txs      map[string]*coordTx
	registry *registry.Registry
	client   *transport.Client
	journal  *journal.Journal[Record]
	logger   *zap.Logger
	cfg      Config
}

func New(reg *registry.Registry, client *transport.Client, j *journal.Journal[Record], cfg Config, logger *zap.Logger) *Engine {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.AbortRetries == 0 {
		cfg.AbortRetries = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		txs:      make(map[string]*coordTx),
		registry: reg,
		client:   client,
		journal:  j,
		cfg:      cfg,
		logger:   logger,
	}
}

// Execute runs one transaction to completion: begin, prepare fan-out,
// vote aggregation, decide and dispatch. It returns once the decision
// has been durably logged; commit/abort dispatch runs in a background
// goroutine, so on return participants may not have received it yet
// and commit keeps retrying there until every participant acknowledges.
func (e *Engine) Execute(ctx context.Context, spec domain.TxSpec) (domain.TxStatus, error) {
	if spec.TxID == "" {
		spec.TxID = uuid.NewString()
	}
	if len(spec.Assignments) == 0 {
		return domain.TxStatus{}, domain.NewError(domain.KindInvalidRequest, "transaction has no assignments")
	}

	tx := &coordTx{spec: spec, state: domain.StateInit, votes: make(map[string]domain.Vote)}
	e.mu.Lock()
	if _, exists := e.txs[spec.TxID]; exists {
		e.mu.Unlock()
		return domain.TxStatus{}, domain.NewError(domain.KindIllegalState, "transaction already exists: "+spec.TxID)
	}
	e.txs[spec.TxID] = tx
	e.mu.Unlock()

	deadline := spec.Deadline(e.cfg.DefaultTimeout)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if err := e.beginAll(runCtx, tx); err != nil {
		e.setState(tx, domain.StateAborted, domain.DecisionAborted)
		e.logger.Warn("begin failed, aborting without prepare", zap.String("tx_id", spec.TxID), zap.Error(err))
		metrics.TransactionsTotal.WithLabelValues("aborted").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.statusLocked(spec.TxID), nil
	}

	e.setState(tx, domain.StatePreparing, domain.DecisionNone)
	allYes := e.prepareAll(runCtx, tx)

	decision := domain.DecisionAborted
	if allYes {
		decision = domain.DecisionCommitted
	}

	if err := e.logDecision(tx, decision); err != nil {
		return domain.TxStatus{}, err
	}

	if decision == domain.DecisionCommitted {
		e.setState(tx, domain.StateCommitting, decision)
		go e.dispatchCommit(tx)
		metrics.TransactionsTotal.WithLabelValues("committed").Inc()
	} else {
		e.setState(tx, domain.StateAborting, decision)
		go e.dispatchAbort(tx)
		metrics.TransactionsTotal.WithLabelValues("aborted").Inc()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked(spec.TxID), nil
}

// beginAll sends begin to every assigned participant sequentially —
// cheap, and a failure here means no prepare has been attempted yet so
// there is nothing to unwind beyond the begin calls already sent.
func (e *Engine) beginAll(ctx context.Context, tx *coordTx) error {
	for _, a := range tx.spec.Assignments {
		endpoint, ok := e.registry.Resolve(a.ParticipantID)
		if !ok {
			return domain.NewError(domain.KindInvalidRequest, "unknown participant: "+a.ParticipantID)
		}
		if err := e.client.Begin(ctx, endpoint, tx.spec.TxID); err != nil {
			return err
		}
	}
	return nil
}

// prepareAll fans the prepare call out concurrently to every assigned
// participant and aggregates votes by participant identity. It returns
// true only if every participant voted YES; any NO, transport failure
// or context deadline counts as an abort signal — the coordinator never
// waits past the transaction timeout for a vote.
func (e *Engine) prepareAll(ctx context.Context, tx *coordTx) bool {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	allYes := true

	for _, a := range tx.spec.Assignments {
		a := a
		endpoint, ok := e.registry.Resolve(a.ParticipantID)
		if !ok {
			mu.Lock()
			allYes = false
			tx.votes[a.ParticipantID] = domain.Vote{ParticipantID: a.ParticipantID, Decision: domain.VoteNo, Reason: "unregistered participant"}
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			callCtx, cancelCall := context.WithTimeout(gctx, 10*time.Second) // per-call prepare RPC timeout
			defer cancelCall()
			resp, err := e.client.Prepare(callCtx, endpoint, tx.spec.TxID, a.Ops)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				allYes = false
				tx.votes[a.ParticipantID] = domain.Vote{ParticipantID: a.ParticipantID, Decision: domain.VoteNo, Reason: err.Error()}
				e.logger.Warn("prepare call failed", zap.String("tx_id", tx.spec.TxID), zap.String("participant", a.ParticipantID), zap.Error(err))
				return nil // do not cancel siblings: we still want every vote we can get
			}
			tx.votes[a.ParticipantID] = domain.Vote{ParticipantID: a.ParticipantID, Decision: resp.Vote, Reason: resp.Reason}
			if resp.Vote != domain.VoteYes {
				allYes = false
			}
			return nil
		})
	}

	_ = g.Wait()

	if ctx.Err() != nil {
		mu.Lock()
		allYes = false
		mu.Unlock()
	}

	return allYes
}

// logDecision durably appends the decision before any commit/abort is
// dispatched, so a coordinator crash after this point can be resumed
// by Recover without re-polling participants for votes.
func (e *Engine) logDecision(tx *coordTx, decision domain.Decision) error {
	if err := e.journal.Append(Record{TxID: tx.spec.TxID, Decision: decision, Assignments: tx.spec.Assignments}); err != nil {
		return domain.WrapInternal(err, "failed to journal decision")
	}
	tx.decision = decision
	return nil
}

// dispatchCommit sends commit to every participant, retrying each
// indefinitely with capped exponential backoff: once committed is
// logged, every participant must eventually receive it.
func (e *Engine) dispatchCommit(tx *coordTx) {
	var wg sync.WaitGroup
	for _, a := range tx.spec.Assignments {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			endpoint, ok := e.registry.Resolve(a.ParticipantID)
			if !ok {
				e.logger.Error("cannot dispatch commit: participant deregistered",
					zap.String("tx_id", tx.spec.TxID), zap.String("participant", a.ParticipantID))
				return
			}
			policy := backoff.NewExponentialBackOff()
			policy.InitialInterval = 100 * time.Millisecond
			policy.MaxInterval = 5 * time.Second
			policy.MaxElapsedTime = 0 // unbounded: commit must not be abandoned
			_ = backoff.Retry(func() error {
				err := e.client.Commit(context.Background(), endpoint, tx.spec.TxID)
				if err != nil {
					metrics.CommitRetriesTotal.Inc()
					e.logger.Warn("commit dispatch retrying", zap.String("tx_id", tx.spec.TxID),
						zap.String("participant", a.ParticipantID), zap.Error(err))
				}
				return err
			}, policy)
		}()
	}
	wg.Wait()
	e.setState(tx, domain.StateCommitted, domain.DecisionCommitted)
	e.logger.Info("transaction committed on all participants", zap.String("tx_id", tx.spec.TxID))
}

// dispatchAbort sends abort to every participant, with a bounded retry
// count. A participant that already voted YES and never receives the
// abort stays PREPARED, holding its locks, until its prepare-timeout
// inquiry learns the ABORTED decision from this coordinator.
func (e *Engine) dispatchAbort(tx *coordTx) {
	var wg sync.WaitGroup
	for _, a := range tx.spec.Assignments {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			endpoint, ok := e.registry.Resolve(a.ParticipantID)
			if !ok {
				return
			}
			base := backoff.NewExponentialBackOff()
			base.InitialInterval = 100 * time.Millisecond
			base.MaxInterval = 5 * time.Second
			policy := backoff.WithMaxRetries(base, e.cfg.AbortRetries)
			_ = backoff.Retry(func() error {
				return e.client.Abort(context.Background(), endpoint, tx.spec.TxID)
			}, policy)
		}()
	}
	wg.Wait()
	e.setState(tx, domain.StateAborted, domain.DecisionAborted)
	e.logger.Info("transaction aborted", zap.String("tx_id", tx.spec.TxID))
}

func (e *Engine) setState(tx *coordTx, state domain.CoordinatorState, decision domain.Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx.state = state
	if decision != domain.DecisionNone {
		tx.decision = decision
	}
}

// Status reports a transaction's current state, decision and votes.
func (e *Engine) Status(txID string) (domain.TxStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.txs[txID]; !exists {
		return domain.TxStatus{}, domain.NewError(domain.KindUnknownTransaction, "no such transaction: "+txID)
	}
	return e.statusLocked(txID), nil
}

func (e *Engine) statusLocked(txID string) domain.TxStatus {
	tx := e.txs[txID]
	votes := make([]domain.Vote, 0, len(tx.votes))
	for _, v := range tx.votes {
		votes = append(votes, v)
	}
	return domain.TxStatus{TxID: txID, State: tx.state, Decision: tx.decision, Votes: votes}
}

// List returns the status of every transaction the coordinator has
// handled since startup.
func (e *Engine) List() []domain.TxStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.TxStatus, 0, len(e.txs))
	for txID := range e.txs {
		out = append(out, e.statusLocked(txID))
	}
	return out
}

// Recover replays the decision log at startup. Every logged decision
// is resumed by re-dispatching commit or abort — safe because both are
// idempotent on the participant side. Transactions that never reached
// a logged decision are not recorded anywhere durable, so Recover does
// not know them and sends them no abort; a participant that had already
// voted YES for such a transaction stays PREPARED.
func (e *Engine) Recover() error {
	records, err := e.journal.ReadAll()
	if err != nil {
		return domain.WrapInternal(err, "failed to read decision log")
	}

	latest := make(map[string]Record)
	for _, rec := range records {
		latest[rec.TxID] = rec
	}

	e.mu.Lock()
	for txID, rec := range latest {
		state := domain.StateAborted
		if rec.Decision == domain.DecisionCommitted {
			state = domain.StateCommitted
		}
		e.txs[txID] = &coordTx{
			spec:     domain.TxSpec{TxID: txID, Assignments: rec.Assignments},
			state:    state,
			decision: rec.Decision,
			votes:    make(map[string]domain.Vote),
		}
	}
	e.mu.Unlock()

	for txID, rec := range latest {
		tx := e.txs[txID]
		e.logger.Info("resuming logged decision", zap.String("tx_id", txID), zap.String("decision", string(rec.Decision)))
		if rec.Decision == domain.DecisionCommitted {
			go e.dispatchCommit(tx)
		} else {
			go e.dispatchAbort(tx)
		}
	}
	return nil
}
