package kvutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	helixtest "github.com/arloliu/helix/testing"
)

func TestEnsureBucket(t *testing.T) {
	_, nc := helixtest.StartEmbeddedNATS(t)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	t.Run("creates bucket", func(t *testing.T) {
		kv, err := EnsureBucket(t.Context(), js, jetstream.KeyValueConfig{Bucket: "create-once"}, 3)
		require.NoError(t, err)
		require.Equal(t, "create-once", kv.Bucket())
	})

	t.Run("concurrent creators share the bucket", func(t *testing.T) {
		const workers = 5

		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := range workers {
			wg.Go(func() {
				_, errs[i] = EnsureBucket(t.Context(), js, jetstream.KeyValueConfig{
					Bucket: "shared",
					TTL:    5 * time.Second,
				}, 5)
			})
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}
	})

	t.Run("cancelled context fails", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		_, err := EnsureBucket(ctx, js, jetstream.KeyValueConfig{Bucket: "never"}, 2)
		require.Error(t, err)
	})
}

func TestConflictAndNotFound(t *testing.T) {
	_, nc := helixtest.StartEmbeddedNATS(t)

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	kv, err := EnsureBucket(t.Context(), js, jetstream.KeyValueConfig{Bucket: "conflicts"}, 3)
	require.NoError(t, err)
	ctx := t.Context()

	rev, err := kv.Create(ctx, "a", []byte("1"))
	require.NoError(t, err)

	_, err = kv.Create(ctx, "a", []byte("2"))
	require.True(t, IsConflict(err))

	_, err = kv.Update(ctx, "a", []byte("3"), rev+10)
	require.True(t, IsConflict(err))

	_, err = kv.Get(ctx, "missing")
	require.True(t, IsNotFound(err))

	require.NoError(t, kv.Delete(ctx, "a"))
	_, err = kv.Get(ctx, "a")
	require.True(t, IsNotFound(err))

	require.False(t, IsConflict(nil))
	require.False(t, IsNotFound(nil))
}
