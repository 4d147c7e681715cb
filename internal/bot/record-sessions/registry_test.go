package recordsessions

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertIndexesConsistent(t *testing.T, r *Registry) {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	require.Equal(t, len(r.bySSRC), len(r.byUser))

	for ssrc, slot := range r.bySSRC {
		back, found := r.byUser[slot.UserID]
		require.True(t, found, "user index misses ssrc %d", ssrc)
		require.Equal(t, ssrc, back)
	}

	for userID, ssrc := range r.byUser {
		slot, found := r.bySSRC[ssrc]
		require.True(t, found, "ssrc index misses user %d", userID)
		require.Equal(t, userID, slot.UserID)
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry(4, 10, nopLogger())

	slot, count, err := r.Register(100, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, count, err = r.Register(101, 43)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, found := r.LookupBySSRC(42)
	require.True(t, found)
	assert.Same(t, slot, got)

	ssrc, found := r.LookupByUser(100)
	require.True(t, found)
	assert.EqualValues(t, 42, ssrc)

	assert.Equal(t, 2, r.ActiveCount())
	assertIndexesConsistent(t, r)
}

func TestRegistryDuplicateNeverReplaces(t *testing.T) {
	r := NewRegistry(4, 10, nopLogger())

	slot, _, err := r.Register(100, 42)
	require.NoError(t, err)

	_, _, err = r.Register(200, 42)
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	_, _, err = r.Register(100, 43)
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	got, _ := r.LookupBySSRC(42)
	assert.Same(t, slot, got)
	assert.Equal(t, 1, r.ActiveCount())
	assertIndexesConsistent(t, r)
}

func TestRegistryRemoveUnknownUser(t *testing.T) {
	r := NewRegistry(4, 10, nopLogger())

	_, _, err := r.Register(100, 42)
	require.NoError(t, err)

	slot, remaining, found := r.RemoveByUser(999)
	assert.False(t, found)
	assert.Nil(t, slot)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, 1, r.ActiveCount())
	assertIndexesConsistent(t, r)
}

func TestRegistryRemoveByUser(t *testing.T) {
	r := NewRegistry(4, 10, nopLogger())

	registered, _, err := r.Register(100, 42)
	require.NoError(t, err)
	_, _, err = r.Register(101, 43)
	require.NoError(t, err)

	slot, remaining, found := r.RemoveByUser(100)
	require.True(t, found)
	assert.Same(t, registered, slot)
	assert.Equal(t, 1, remaining)

	_, found = r.LookupBySSRC(42)
	assert.False(t, found)

	// The SSRC can be reused once it is free.
	_, _, err = r.Register(102, 42)
	require.NoError(t, err)
	assertIndexesConsistent(t, r)
}

func TestRegistryDiscardExactSlot(t *testing.T) {
	r := NewRegistry(4, 10, nopLogger())

	old, _, err := r.Register(100, 42)
	require.NoError(t, err)
	_, _, _ = r.RemoveByUser(100)

	current, _, err := r.Register(100, 42)
	require.NoError(t, err)

	assert.False(t, r.Discard(old))
	got, found := r.LookupBySSRC(42)
	require.True(t, found)
	assert.Same(t, current, got)

	assert.True(t, r.Discard(current))
	assert.Zero(t, r.ActiveCount())
	assertIndexesConsistent(t, r)
}

func TestRegistryCloseDrains(t *testing.T) {
	r := NewRegistry(4, 10, nopLogger())

	for i := range 3 {
		_, _, err := r.Register(snowflake.ID(100+i), uint32(40+i))
		require.NoError(t, err)
	}

	slots := r.Close()
	assert.Len(t, slots, 3)
	assert.Zero(t, r.ActiveCount())

	_, _, err := r.Register(200, 50)
	require.ErrorIs(t, err, ErrRegistryClosed)
	assertIndexesConsistent(t, r)
}

func TestRegistryConcurrentConsistency(t *testing.T) {
	r := NewRegistry(4, 10, nopLogger())

	wg := &sync.WaitGroup{}
	for worker := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			rnd := rand.New(rand.NewSource(int64(worker)))
			for range 500 {
				user := snowflake.ID(rnd.Intn(16) + 1)
				ssrc := uint32(rnd.Intn(16) + 1)

				if rnd.Intn(2) == 0 {
					_, _, _ = r.Register(user, ssrc)
				} else {
					_, _, _ = r.RemoveByUser(user)
				}
			}
		}()
	}
	wg.Wait()

	assertIndexesConsistent(t, r)
}
