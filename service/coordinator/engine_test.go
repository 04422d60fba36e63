package coordinator

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiparticipant "github.com/twopc/commit/api/participant"
	"github.com/twopc/commit/domain"
	"github.com/twopc/commit/metrics"
	"github.com/twopc/commit/pkg/journal"
	"github.com/twopc/commit/repository/store"
	"github.com/twopc/commit/service/registry"
	svcparticipant "github.com/twopc/commit/service/participant"
	"github.com/twopc/commit/transport"
)

// liveParticipant is a real participant engine served over a real
// httptest.Server, so coordinator integration tests exercise the
// actual HTTP wire path rather than a hand-rolled stub.
type liveParticipant struct {
	id     string
	server *httptest.Server
	engine *svcparticipant.Engine
}

func newLiveParticipant(t *testing.T, id string) *liveParticipant {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "store.log"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	j, err := journal.Open[svcparticipant.Record](filepath.Join(dir, "prepared.log"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	engine := svcparticipant.New(st, j, svcparticipant.Config{PrepareTimeout: time.Hour}, nil, nil)
	router := apiparticipant.NewRouter(engine, metrics.Registry())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &liveParticipant{id: id, server: srv, engine: engine}
}

func newTestEngine(t *testing.T, participantIDs ...string) (*Engine, map[string]*liveParticipant) {
	reg := registry.New()
	participants := make(map[string]*liveParticipant, len(participantIDs))
	for _, id := range participantIDs {
		p := newLiveParticipant(t, id)
		reg.Register(id, p.server.URL)
		participants[id] = p
	}

	dir := t.TempDir()
	j, err := journal.Open[Record](filepath.Join(dir, "decisions.log"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	e := New(reg, transport.New(), j, Config{DefaultTimeout: 5 * time.Second}, nil)
	return e, participants
}

func writeAssignment(participantID, key, value string) domain.Assignment {
	return domain.Assignment{
		ParticipantID: participantID,
		Ops:           []domain.Operation{{Kind: domain.OpWrite, Key: key, Value: []byte(value)}},
	}
}

// TestExecute_AllParticipantsCommit covers scenario S1: every
// participant votes YES and the transaction commits everywhere.
func TestExecute_AllParticipantsCommit(t *testing.T) {
	e, participants := newTestEngine(t, "p1", "p2")

	status, err := e.Execute(context.Background(), domain.TxSpec{
		TxID: "tx1",
		Assignments: []domain.Assignment{
			writeAssignment("p1", "x", "1"),
			writeAssignment("p2", "y", "2"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionCommitted, status.Decision)

	require.Eventually(t, func() bool {
		s, err := e.Status("tx1")
		return err == nil && s.State == domain.StateCommitted
	}, 2*time.Second, 10*time.Millisecond)

	v, ok := participants["p1"].engine.Get("x")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	v, ok = participants["p2"].engine.Get("y")
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}

// TestExecute_OneParticipantVotesNo covers scenario S2: a single NO
// vote aborts the whole transaction and no participant applies its ops.
func TestExecute_OneParticipantVotesNo(t *testing.T) {
	e, participants := newTestEngine(t, "p1", "p2")

	// Pre-lock key "y" on p2 under a foreign tx so p2 votes NO.
	_, _, err := participants["p2"].engine.Prepare("other-tx", []domain.Operation{{Kind: domain.OpWrite, Key: "y", Value: []byte("z")}})
	require.NoError(t, err)

	status, err := e.Execute(context.Background(), domain.TxSpec{
		TxID: "tx2",
		Assignments: []domain.Assignment{
			writeAssignment("p1", "x", "1"),
			writeAssignment("p2", "y", "2"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAborted, status.Decision)

	require.Eventually(t, func() bool {
		s, err := e.Status("tx2")
		return err == nil && s.State == domain.StateAborted
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := participants["p1"].engine.Get("x")
	assert.False(t, ok)
}

// TestExecute_UnregisteredParticipantAborts covers the case where a
// transaction names a participant the coordinator has no endpoint for.
func TestExecute_UnregisteredParticipantAborts(t *testing.T) {
	e, _ := newTestEngine(t, "p1")

	status, err := e.Execute(context.Background(), domain.TxSpec{
		TxID: "tx3",
		Assignments: []domain.Assignment{
			writeAssignment("p1", "x", "1"),
			writeAssignment("ghost", "y", "2"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAborted, status.Decision)
}

// TestExecute_RejectsEmptyAssignments asserts a transaction with no
// participant assignments is rejected before any begin call is sent.
func TestExecute_RejectsEmptyAssignments(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Execute(context.Background(), domain.TxSpec{TxID: "tx4"})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))
}

// TestExecute_GeneratesTxIDWhenAbsent covers the supplemented behavior
// of uuid-generating a transaction id when the caller omits one.
func TestExecute_GeneratesTxIDWhenAbsent(t *testing.T) {
	e, _ := newTestEngine(t, "p1")

	status, err := e.Execute(context.Background(), domain.TxSpec{
		Assignments: []domain.Assignment{writeAssignment("p1", "x", "1")},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, status.TxID)
}

// TestStatus_UnknownTransactionIsDistinguishable mirrors the
// participant-side equivalent for the coordinator's own status query.
func TestStatus_UnknownTransactionIsDistinguishable(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Status("ghost")
	require.Error(t, err)
	assert.Equal(t, domain.KindUnknownTransaction, domain.KindOf(err))
}

// TestRecover_ResumesLoggedCommitAfterRestart covers scenario S6: a
// coordinator that crashes after logging COMMITTED but before every
// participant acknowledged resumes dispatch on restart.
func TestRecover_ResumesLoggedCommitAfterRestart(t *testing.T) {
	reg := registry.New()
	p1 := newLiveParticipant(t, "p1")
	reg.Register("p1", p1.server.URL)

	dir := t.TempDir()
	journalPath := filepath.Join(dir, "decisions.log")
	j, err := journal.Open[Record](journalPath)
	require.NoError(t, err)

	// Simulate a coordinator that logged COMMITTED but crashed before dispatch.
	require.NoError(t, j.Append(Record{
		TxID:        "tx5",
		Decision:    domain.DecisionCommitted,
		Assignments: []domain.Assignment{writeAssignment("p1", "x", "1")},
	}))
	require.NoError(t, j.Close())

	_, _, err = p1.engine.Prepare("tx5", []domain.Operation{{Kind: domain.OpWrite, Key: "x", Value: []byte("1")}})
	require.NoError(t, err)

	j2, err := journal.Open[Record](journalPath)
	require.NoError(t, err)
	defer j2.Close()

	e2 := New(reg, transport.New(), j2, Config{DefaultTimeout: 5 * time.Second}, nil)
	require.NoError(t, e2.Recover())

	require.Eventually(t, func() bool {
		v, ok := p1.engine.Get("x")
		return ok && string(v) == "1"
	}, 2*time.Second, 10*time.Millisecond)

	status, err := e2.Status("tx5")
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionCommitted, status.Decision)
}
