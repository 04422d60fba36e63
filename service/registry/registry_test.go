package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_UnknownParticipantReportsNotOK(t *testing.T) {
	r := New()

	_, ok := r.Resolve("p1")
	assert.False(t, ok)
}

func TestRegister_ThenResolveReturnsEndpoint(t *testing.T) {
	r := New()

	r.Register("p1", "http://localhost:9001")
	endpoint, ok := r.Resolve("p1")
	assert.True(t, ok)
	assert.Equal(t, "http://localhost:9001", endpoint)
}

func TestRegister_OverwritesPriorEndpointForSameParticipant(t *testing.T) {
	r := New()

	r.Register("p1", "http://localhost:9001")
	r.Register("p1", "http://localhost:9002")

	endpoint, ok := r.Resolve("p1")
	assert.True(t, ok)
	assert.Equal(t, "http://localhost:9002", endpoint)
}

func TestList_ReturnsEverySnapshottedEntry(t *testing.T) {
	r := New()

	r.Register("p1", "http://localhost:9001")
	r.Register("p2", "http://localhost:9002")

	entries := r.List()
	assert.Len(t, entries, 2)

	byID := make(map[string]Entry)
	for _, e := range entries {
		byID[e.ParticipantID] = e
	}
	assert.Equal(t, "http://localhost:9001", byID["p1"].Endpoint)
	assert.Equal(t, "http://localhost:9002", byID["p2"].Endpoint)
	assert.False(t, byID["p1"].LastSeen.IsZero())
}
