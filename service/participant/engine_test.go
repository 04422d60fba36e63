package participant

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twopc/commit/domain"
	"github.com/twopc/commit/pkg/journal"
	"github.com/twopc/commit/repository/store"
)

func newTestEngine(t *testing.T) *Engine {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "store.log"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	j, err := journal.Open[Record](filepath.Join(dir, "prepared.log"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	return New(st, j, Config{PrepareTimeout: time.Hour}, nil, nil)
}

func writeOp(key string, value string) domain.Operation {
	return domain.Operation{Kind: domain.OpWrite, Key: key, Value: []byte(value)}
}

func TestPrepareCommit_HappyPath(t *testing.T) {
	e := newTestEngine(t)

	vote, reason, err := e.Prepare("tx1", []domain.Operation{writeOp("x", "1")})
	require.NoError(t, err)
	assert.Equal(t, domain.VoteYes, vote)
	assert.Empty(t, reason)

	require.NoError(t, e.Commit("tx1"))

	v, ok := e.Get("x")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	state, err := e.Status("tx1")
	require.NoError(t, err)
	assert.Equal(t, domain.PStateCommitted, state)
}

func TestPrepare_IsIdempotentOnceYes(t *testing.T) {
	e := newTestEngine(t)

	vote1, _, err := e.Prepare("tx1", []domain.Operation{writeOp("x", "1")})
	require.NoError(t, err)
	require.Equal(t, domain.VoteYes, vote1)

	vote2, _, err := e.Prepare("tx1", []domain.Operation{writeOp("x", "1")})
	require.NoError(t, err)
	assert.Equal(t, domain.VoteYes, vote2)
}

func TestPrepare_VotesNoOnLockConflict(t *testing.T) {
	e := newTestEngine(t)

	vote1, _, err := e.Prepare("tx1", []domain.Operation{writeOp("x", "1")})
	require.NoError(t, err)
	require.Equal(t, domain.VoteYes, vote1)

	vote2, reason, err := e.Prepare("tx2", []domain.Operation{writeOp("x", "2")})
	require.NoError(t, err)
	assert.Equal(t, domain.VoteNo, vote2)
	assert.Contains(t, reason, "LockConflict")

	state, err := e.Status("tx2")
	require.NoError(t, err)
	assert.Equal(t, domain.PStateAborted, state)
}

func TestPrepare_RejectsMissingWriteValue(t *testing.T) {
	e := newTestEngine(t)

	vote, reason, err := e.Prepare("tx1", []domain.Operation{{Kind: domain.OpWrite, Key: "x"}})
	require.NoError(t, err)
	assert.Equal(t, domain.VoteNo, vote)
	assert.Contains(t, reason, "InvalidRequest")
}

func TestPrepare_RejectsOversizedValue(t *testing.T) {
	e := newTestEngine(t)

	big := make([]byte, domain.MaxValueSize+1)
	vote, reason, err := e.Prepare("tx1", []domain.Operation{{Kind: domain.OpWrite, Key: "x", Value: big}})
	require.NoError(t, err)
	assert.Equal(t, domain.VoteNo, vote)
	assert.Contains(t, reason, "InvalidRequest")
}

func TestCommit_IsIdempotentOnceCommitted(t *testing.T) {
	e := newTestEngine(t)

	_, _, err := e.Prepare("tx1", []domain.Operation{writeOp("x", "1")})
	require.NoError(t, err)
	require.NoError(t, e.Commit("tx1"))
	require.NoError(t, e.Commit("tx1")) // no-op
}

func TestCommit_OnAbortedReturnsIllegalState(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Abort("tx1")) // absent tx, idempotent
	require.Error(t, e.Commit("tx1"))

	vote, _, err := e.Prepare("tx2", []domain.Operation{writeOp("x", "1")})
	require.NoError(t, err)
	require.Equal(t, domain.VoteYes, vote)
	require.NoError(t, e.Abort("tx2"))

	err = e.Commit("tx2")
	require.Error(t, err)
	assert.Equal(t, domain.KindIllegalState, domain.KindOf(err))
}

func TestAbort_ReleasesLocksForSubsequentTransaction(t *testing.T) {
	e := newTestEngine(t)

	_, _, err := e.Prepare("tx1", []domain.Operation{writeOp("x", "1")})
	require.NoError(t, err)
	require.NoError(t, e.Abort("tx1"))

	vote, _, err := e.Prepare("tx2", []domain.Operation{writeOp("x", "2")})
	require.NoError(t, err)
	assert.Equal(t, domain.VoteYes, vote)
}

func TestStatus_UnknownTransactionIsDistinguishable(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Status("ghost")
	require.Error(t, err)
	assert.Equal(t, domain.KindUnknownTransaction, domain.KindOf(err))
}

// TestRecover_RestoresPreparedLocksAfterRestart asserts that a
// participant that restarts immediately after journaling YES is
// observed PREPARED with its locks held.
func TestRecover_RestoresPreparedLocksAfterRestart(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "store.log")
	journalPath := filepath.Join(dir, "prepared.log")

	st, err := store.Open(storePath)
	require.NoError(t, err)
	j, err := journal.Open[Record](journalPath)
	require.NoError(t, err)

	e1 := New(st, j, Config{PrepareTimeout: time.Hour}, nil, nil)
	vote, _, err := e1.Prepare("tx1", []domain.Operation{writeOp("x", "1")})
	require.NoError(t, err)
	require.Equal(t, domain.VoteYes, vote)

	require.NoError(t, st.Close())
	require.NoError(t, j.Close())

	st2, err := store.Open(storePath)
	require.NoError(t, err)
	defer st2.Close()
	j2, err := journal.Open[Record](journalPath)
	require.NoError(t, err)
	defer j2.Close()

	e2 := New(st2, j2, Config{PrepareTimeout: time.Hour}, nil, nil)
	require.NoError(t, e2.Recover())

	state, err := e2.Status("tx1")
	require.NoError(t, err)
	assert.Equal(t, domain.PStatePrepared, state)

	// Locks were restored: a conflicting prepare from another tx votes NO.
	vote2, reason, err := e2.Prepare("tx2", []domain.Operation{writeOp("x", "2")})
	require.NoError(t, err)
	assert.Equal(t, domain.VoteNo, vote2)
	assert.Contains(t, reason, "LockConflict")

	require.NoError(t, e2.Commit("tx1"))
	v, ok := e2.Get("x")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
}

type stubInquirer struct {
	decision domain.Decision
	err      error
}

func (s *stubInquirer) InquireStatus(ctx context.Context, endpoint, txID string) (domain.Decision, error) {
	return s.decision, s.err
}

func TestPrepareTimeout_CommitsWhenCoordinatorSaysCommitted(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "store.log"))
	require.NoError(t, err)
	defer st.Close()
	j, err := journal.Open[Record](filepath.Join(dir, "prepared.log"))
	require.NoError(t, err)
	defer j.Close()

	inq := &stubInquirer{decision: domain.DecisionCommitted}
	e := New(st, j, Config{PrepareTimeout: 20 * time.Millisecond, CoordinatorEndpoint: "http://coordinator"}, inq, nil)

	vote, _, err := e.Prepare("tx1", []domain.Operation{writeOp("x", "1")})
	require.NoError(t, err)
	require.Equal(t, domain.VoteYes, vote)

	require.Eventually(t, func() bool {
		state, err := e.Status("tx1")
		return err == nil && state == domain.PStateCommitted
	}, time.Second, 5*time.Millisecond)
}
