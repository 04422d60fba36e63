package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_GrantsFreeResource(t *testing.T) {
	tbl := NewTable()

	acquired, conflict := tbl.Acquire("tx1", "x")
	require.True(t, acquired)
	assert.Empty(t, conflict)
	assert.True(t, tbl.IsLocked("x"))
}

func TestAcquire_IsIdempotentForSameOwner(t *testing.T) {
	tbl := NewTable()

	_, _ = tbl.Acquire("tx1", "x")
	acquired, conflict := tbl.Acquire("tx1", "x")
	require.True(t, acquired)
	assert.Empty(t, conflict)
}

func TestAcquire_ReportsConflictForDifferentOwner(t *testing.T) {
	tbl := NewTable()

	_, _ = tbl.Acquire("tx1", "x")
	acquired, conflict := tbl.Acquire("tx2", "x")
	assert.False(t, acquired)
	assert.Equal(t, "tx1", conflict)
}

func TestReleaseAll_IsIdempotentAndScopedToOwner(t *testing.T) {
	tbl := NewTable()

	_, _ = tbl.Acquire("tx1", "x")
	_, _ = tbl.Acquire("tx1", "y")
	_, _ = tbl.Acquire("tx2", "z")

	tbl.ReleaseAll("tx1")
	assert.False(t, tbl.IsLocked("x"))
	assert.False(t, tbl.IsLocked("y"))
	assert.True(t, tbl.IsLocked("z"))

	tbl.ReleaseAll("tx1") // idempotent
	tbl.ReleaseAll("unknown-tx")
}

// TestLockExclusivity asserts that at any instant, no resource key
// appears owned by two distinct tx ids.
func TestLockExclusivity(t *testing.T) {
	tbl := NewTable()
	const key = "hot"

	var wg sync.WaitGroup
	grantCount := int32(0)
	var mu sync.Mutex

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := "tx-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
			if acquired, _ := tbl.Acquire(tx, key); acquired {
				mu.Lock()
				grantCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), grantCount, "exactly one transaction should win an exclusive lock")
}
