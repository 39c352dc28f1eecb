package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLease(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	lease, err := AcquireLease(ctx, m, "worker-1", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", lease.Holder)
	assert.True(t, lease.Expires.After(lease.Acquired))

	var stored Lease
	require.NoError(t, GetJSON(ctx, m, LeaseKey, &stored))
	assert.Equal(t, "worker-1", stored.Holder)
}

func TestAcquireLeaseHeld(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := AcquireLease(ctx, m, "worker-1", 30*time.Minute)
	require.NoError(t, err)

	_, err = AcquireLease(ctx, m, "worker-2", 30*time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	// The holder itself can renew.
	_, err = AcquireLease(ctx, m, "worker-1", 30*time.Minute)
	assert.NoError(t, err)
}

func TestAcquireLeaseExpired(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	stale := Lease{
		Holder:   "crashed-worker",
		Acquired: time.Now().Add(-2 * time.Hour),
		Expires:  time.Now().Add(-90 * time.Minute),
	}
	require.NoError(t, PutJSON(ctx, m, LeaseKey, &stale))

	lease, err := AcquireLease(ctx, m, "worker-1", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", lease.Holder)
}

func TestReleaseLease(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := AcquireLease(ctx, m, "worker-1", 30*time.Minute)
	require.NoError(t, err)
	require.NoError(t, ReleaseLease(ctx, m, "worker-1"))

	// Released means immediately acquirable by anyone.
	_, err = AcquireLease(ctx, m, "worker-2", 30*time.Minute)
	assert.NoError(t, err)
}

func TestReleaseLeaseRespectsTakeover(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := AcquireLease(ctx, m, "worker-1", 30*time.Minute)
	require.NoError(t, err)

	// worker-1 outlived its TTL and worker-2 took over.
	takeover := Lease{
		Holder:   "worker-2",
		Acquired: time.Now(),
		Expires:  time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, PutJSON(ctx, m, LeaseKey, &takeover))

	require.NoError(t, ReleaseLease(ctx, m, "worker-1"))

	_, err = AcquireLease(ctx, m, "worker-3", 30*time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld, "the usurper's lease survives the late release")
}

func TestReleaseLeaseWithoutOne(t *testing.T) {
	assert.NoError(t, ReleaseLease(context.Background(), NewMemory(), "worker-1"))
}

// hookStore lets a test interleave writes the way a second process would.
type hookStore struct {
	ObjectStore
	afterPut func(key string)
}

func (h *hookStore) Put(ctx context.Context, key string, data []byte) error {
	if err := h.ObjectStore.Put(ctx, key, data); err != nil {
		return err
	}
	if h.afterPut != nil {
		h.afterPut(key)
	}
	return nil
}

func TestAcquireLeaseLosesRace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rival := Lease{
		Holder:   "worker-2",
		Acquired: time.Now(),
		Expires:  time.Now().Add(30 * time.Minute),
	}
	raced := &hookStore{ObjectStore: m, afterPut: func(key string) {
		if key == LeaseKey {
			// worker-2's write lands between our write and read back.
			_ = PutJSON(ctx, m, LeaseKey, &rival)
		}
	}}

	_, err := AcquireLease(ctx, raced, "worker-1", 30*time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	var final Lease
	require.NoError(t, GetJSON(ctx, m, LeaseKey, &final))
	assert.Equal(t, "worker-2", final.Holder)
}
