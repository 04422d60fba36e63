// Package participant implements the participant engine: the local
// transaction state machine built on the lock table (pkg/lock), the
// durable store (repository/store) and a prepared journal, exposing
// begin/prepare/commit/abort/status/get.
package participant

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/twopc/commit/domain"
	"github.com/twopc/commit/metrics"
	"github.com/twopc/commit/pkg/journal"
	"github.com/twopc/commit/pkg/lock"
	"github.com/twopc/commit/repository/store"
)

// Record is the durable unit appended to the prepared journal. A
// PREPARED record carries the buffered ops needed to restore locks on
// recovery; COMMITTED/ABORTED records are tombstones superseding an
// earlier PREPARED record for the same TxID.
type Record struct {
	TxID   string
	Status domain.ParticipantState
	Ops    []domain.Operation
}

// Inquirer lets a participant ask the coordinator for a transaction's
// decision when its prepare_timeout expires. Implemented by
// transport.Client; kept as an interface here so this package never
// imports the transport package — the participant holds only the
// coordinator's address and calls it as a client, with no shared
// mutable graph between the two.
type Inquirer interface {
	InquireStatus(ctx context.Context, coordinatorEndpoint, txID string) (domain.Decision, error)
}

type localTx struct {
	id          string
	state       domain.ParticipantState
	ops         []domain.Operation
	lockedKeys  []string
	updatedAt   time.Time
	timer       *time.Timer
}

// Config bundles the engine's tunables.
type Config struct {
	PrepareTimeout      time.Duration // default 30s
	CoordinatorEndpoint string        // for the recovery inquiry
}

// Engine is one participant process's transaction engine.
type Engine struct {
	mu       sync.Mutex
	txs      map[string]*localTx
	locks    *lock.Table
	store    *store.Store
	journal  *journal.Journal[Record]
	logger   *zap.Logger
	cfg      Config
	inquirer Inquirer
}

func New(st *store.Store, j *journal.Journal[Record], cfg Config, inquirer Inquirer, logger *zap.Logger) *Engine {
	if cfg.PrepareTimeout <= 0 {
		cfg.PrepareTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		txs:      make(map[string]*localTx),
		locks:    lock.NewTable(),
		store:    st,
		journal:  j,
		cfg:      cfg,
		inquirer: inquirer,
		logger:   logger,
	}
}

// Begin creates an ACTIVE entry for txID. Fails if it already exists.
func (e *Engine) Begin(txID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.txs[txID]; exists {
		return domain.NewError(domain.KindIllegalState, "transaction already exists: "+txID)
	}

	e.txs[txID] = &localTx{id: txID, state: domain.PStateActive, updatedAt: time.Now()}
	return nil
}

// Prepare acquires locks for every op, validates WRITE values, buffers
// the ops, journals PREPARED durably and returns YES — or, on any
// conflict or validation failure, releases whatever it acquired, marks
// the transaction ABORTED and returns NO with a reason. Idempotent: a
// repeated prepare for a tx already PREPARED returns YES without
// reacquiring.
func (e *Engine) Prepare(txID string, ops []domain.Operation) (domain.VoteDecision, string, error) {
	start := time.Now()
	defer func() { metrics.PrepareDurationSeconds.Observe(time.Since(start).Seconds()) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, exists := e.txs[txID]
	if !exists {
		tx = &localTx{id: txID, state: domain.PStateActive}
		e.txs[txID] = tx
	}

	switch tx.state {
	case domain.PStatePrepared:
		metrics.VotesTotal.WithLabelValues(string(domain.VoteYes)).Inc()
		return domain.VoteYes, "", nil // idempotent
	case domain.PStateCommitted, domain.PStateAborted:
		return "", "", domain.NewError(domain.KindIllegalState, "prepare on terminal transaction: "+txID)
	}

	if reason := validateOps(ops); reason != "" {
		e.abortLocked(tx)
		metrics.VotesTotal.WithLabelValues(string(domain.VoteNo)).Inc()
		return domain.VoteNo, reason, nil
	}

	acquired := make([]string, 0, len(ops))
	for _, op := range ops {
		ok, owner := e.locks.Acquire(txID, op.Key)
		if !ok {
			e.locks.ReleaseAll(txID)
			tx.state = domain.PStateAborted
			tx.ops = nil
			tx.lockedKeys = nil
			metrics.LockConflictsTotal.Inc()
			metrics.VotesTotal.WithLabelValues(string(domain.VoteNo)).Inc()
			e.logger.Info("prepare vote NO: lock conflict",
				zap.String("tx_id", txID), zap.String("key", op.Key), zap.String("owner", owner))
			return domain.VoteNo, "LockConflict: key " + op.Key + " held by " + owner, nil
		}
		acquired = append(acquired, op.Key)
	}

	if err := e.journal.Append(Record{TxID: txID, Status: domain.PStatePrepared, Ops: ops}); err != nil {
		e.locks.ReleaseAll(txID)
		tx.state = domain.PStateAborted
		return "", "", domain.WrapInternal(err, "failed to journal prepared transaction")
	}

	tx.state = domain.PStatePrepared
	tx.ops = ops
	tx.lockedKeys = acquired
	tx.updatedAt = time.Now()
	e.armPrepareTimeout(tx)

	metrics.VotesTotal.WithLabelValues(string(domain.VoteYes)).Inc()
	e.logger.Info("prepare vote YES", zap.String("tx_id", txID), zap.Int("ops", len(ops)))
	return domain.VoteYes, "", nil
}

// Commit applies the buffered ops to the store as one atomic batch,
// journals the COMMITTED tombstone, releases locks and transitions to
// COMMITTED. Idempotent on an already-COMMITTED tx.
func (e *Engine) Commit(txID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, exists := e.txs[txID]
	if !exists {
		return domain.NewError(domain.KindUnknownTransaction, "no such transaction: "+txID)
	}

	switch tx.state {
	case domain.PStateCommitted:
		return nil // idempotent no-op
	case domain.PStateAborted:
		return domain.NewError(domain.KindIllegalState, "commit on aborted transaction: "+txID)
	case domain.PStateActive:
		return domain.NewError(domain.KindIllegalState, "commit before prepare: "+txID)
	}

	disarm(tx)

	if err := e.store.ApplyBatch(txID, tx.ops); err != nil {
		return err // leave PREPARED: the coordinator will retry commit
	}

	if err := e.journal.Append(Record{TxID: txID, Status: domain.PStateCommitted}); err != nil {
		return domain.WrapInternal(err, "failed to journal committed transaction")
	}

	e.locks.ReleaseAll(txID)
	tx.state = domain.PStateCommitted
	tx.ops = nil
	tx.lockedKeys = nil
	e.logger.Info("committed", zap.String("tx_id", txID))
	return nil
}

// Abort discards buffered ops, releases locks and transitions to
// ABORTED. Idempotent: safe on ABORTED or absent tx.
func (e *Engine) Abort(txID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, exists := e.txs[txID]
	if !exists {
		return nil // idempotent on absent tx
	}

	switch tx.state {
	case domain.PStateAborted:
		return nil // idempotent
	case domain.PStateCommitted:
		return domain.NewError(domain.KindIllegalState, "abort on committed transaction: "+txID)
	}

	e.abortLocked(tx)
	if err := e.journal.Append(Record{TxID: txID, Status: domain.PStateAborted}); err != nil {
		return domain.WrapInternal(err, "failed to journal aborted transaction")
	}
	e.logger.Info("aborted", zap.String("tx_id", txID))
	return nil
}

func (e *Engine) abortLocked(tx *localTx) {
	disarm(tx)
	e.locks.ReleaseAll(tx.id)
	tx.state = domain.PStateAborted
	tx.ops = nil
	tx.lockedKeys = nil
}

// Status reports the local state of a transaction.
func (e *Engine) Status(txID string) (domain.ParticipantState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, exists := e.txs[txID]
	if !exists {
		return "", domain.NewError(domain.KindUnknownTransaction, "no such transaction: "+txID)
	}
	return tx.state, nil
}

// Get reads the last committed value for key directly from the store,
// bypassing the lock table by design.
func (e *Engine) Get(key string) ([]byte, bool) {
	return e.store.Get(key)
}

func validateOps(ops []domain.Operation) (reason string) {
	for _, op := range ops {
		if op.Key == "" {
			return "InvalidRequest: empty key"
		}
		if op.Kind == domain.OpWrite {
			if op.Value == nil {
				return "InvalidRequest: missing value for WRITE " + op.Key
			}
			if len(op.Value) > domain.MaxValueSize {
				return "InvalidRequest: value exceeds size bound for " + op.Key
			}
		}
	}
	return ""
}

func disarm(tx *localTx) {
	if tx.timer != nil {
		tx.timer.Stop()
		tx.timer = nil
	}
}

// armPrepareTimeout starts the "block until contacted" clock: if no
// decision arrives within PrepareTimeout, the participant sends one
// inquiry to the coordinator and applies the decision it reports; if
// the coordinator is unreachable or has no decision yet, the
// participant remains PREPARED (it never aborts on its own after YES).
func (e *Engine) armPrepareTimeout(tx *localTx) {
	if e.cfg.PrepareTimeout <= 0 || e.inquirer == nil || e.cfg.CoordinatorEndpoint == "" {
		return
	}
	txID := tx.id
	tx.timer = time.AfterFunc(e.cfg.PrepareTimeout, func() { e.inquireAndResolve(txID) })
}

func (e *Engine) inquireAndResolve(txID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	decision, err := e.inquirer.InquireStatus(ctx, e.cfg.CoordinatorEndpoint, txID)
	if err != nil {
		e.logger.Warn("recovery inquiry failed, remaining blocked",
			zap.String("tx_id", txID), zap.Error(err))
		return
	}

	switch decision {
	case domain.DecisionCommitted:
		if err := e.Commit(txID); err != nil {
			e.logger.Error("failed to apply inquiry-driven commit", zap.String("tx_id", txID), zap.Error(err))
		}
	case domain.DecisionAborted:
		if err := e.Abort(txID); err != nil {
			e.logger.Error("failed to apply inquiry-driven abort", zap.String("tx_id", txID), zap.Error(err))
		}
	default:
		e.logger.Info("coordinator has no decision yet, remaining blocked", zap.String("tx_id", txID))
	}
}

// Recover replays the prepared journal at startup: every PREPARED
// record not superseded by a later COMMITTED/ABORTED tombstone for the
// same tx id has its locks restored and is re-armed for the recovery
// timeout. Terminal tombstones are kept so status/commit/abort stay
// idempotent after a restart.
func (e *Engine) Recover() error {
	records, err := e.journal.ReadAll()
	if err != nil {
		return domain.WrapInternal(err, "failed to read prepared journal")
	}

	latest := make(map[string]Record)
	for _, rec := range records {
		latest[rec.TxID] = rec
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for txID, rec := range latest {
		tx := &localTx{id: txID, state: rec.Status, updatedAt: time.Now()}
		if rec.Status == domain.PStatePrepared {
			tx.ops = rec.Ops
			for _, op := range rec.Ops {
				if acquired, _ := e.locks.Acquire(txID, op.Key); acquired {
					tx.lockedKeys = append(tx.lockedKeys, op.Key)
				}
			}
			e.armPrepareTimeout(tx)
			e.logger.Info("recovered PREPARED transaction, awaiting decision",
				zap.String("tx_id", txID), zap.Int("locked_keys", len(tx.lockedKeys)))
		}
		e.txs[txID] = tx
	}
	return nil
}
