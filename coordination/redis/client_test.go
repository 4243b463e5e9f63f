package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/helix/internal/logging"
	"github.com/arloliu/helix/types"
)

func startRedis(t *testing.T) (*miniredis.Miniredis, goredis.UniversalClient) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

func newClient(t *testing.T, rdb goredis.UniversalClient, ttl time.Duration) *Client {
	t.Helper()

	c, err := New(rdb, Config{KeyPrefix: "test", SessionTTL: ttl, Logger: logging.NewTest(t)})
	require.NoError(t, err)

	return c
}

func connected(t *testing.T, rdb goredis.UniversalClient) *Client {
	t.Helper()

	c := newClient(t, rdb, 5*time.Second)
	_, err := c.Connect(t.Context())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	return c
}

func TestNew_RequiresConnection(t *testing.T) {
	_, err := New(nil, Config{})
	require.ErrorIs(t, err, ErrConnectionRequired)
}

func TestClient_Connect(t *testing.T) {
	mr, rdb := startRedis(t)
	c := newClient(t, rdb, 5*time.Second)

	sid, err := c.Connect(t.Context())
	require.NoError(t, err)
	require.True(t, c.IsConnected())
	require.True(t, mr.Exists("test:session:"+sid))

	again, err := c.Connect(t.Context())
	require.NoError(t, err)
	require.Equal(t, sid, again)
	require.Equal(t, types.SessionEstablished, (<-c.SessionEvents()).Type)

	require.NoError(t, c.Close(t.Context()))
	require.False(t, c.IsConnected())
	require.False(t, mr.Exists("test:session:"+sid))
	require.Equal(t, types.SessionClosed, (<-c.SessionEvents()).Type)

	_, err = c.Get(t.Context(), "/foo")
	require.ErrorIs(t, err, types.ErrClientClosed)
}

func TestClient_Nodes(t *testing.T) {
	mr, rdb := startRedis(t)
	c := connected(t, rdb)
	ctx := t.Context()

	const path = "/foo/INSTANCES/bar/MESSAGES/m1"

	require.NoError(t, c.Create(ctx, path, []byte("one"), types.Persistent))
	require.ErrorIs(t, c.Create(ctx, path, nil, types.Persistent), types.ErrNodeExists)
	require.ErrorIs(t, c.Create(ctx, path, nil, types.Ephemeral), types.ErrNodeExists)
	require.True(t, mr.Exists("test:node:"+path))

	ok, err := c.Exists(ctx, path)
	require.NoError(t, err)
	require.True(t, ok)

	data, err := c.Get(ctx, path)
	require.NoError(t, err)
	require.Equal(t, "one", string(data))

	require.NoError(t, c.Set(ctx, path, []byte("uno")))
	data, err = c.Get(ctx, path)
	require.NoError(t, err)
	require.Equal(t, "uno", string(data))

	require.NoError(t, c.Delete(ctx, path))
	ok, err = c.Exists(ctx, path)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = c.Get(ctx, path)
	require.ErrorIs(t, err, types.ErrNoNode)
	require.ErrorIs(t, c.Set(ctx, path, nil), types.ErrNoNode)
	require.ErrorIs(t, c.Delete(ctx, path), types.ErrNoNode)

	t.Run("delete prunes empty ancestors", func(t *testing.T) {
		require.False(t, mr.Exists("test:children:/foo"))
		require.False(t, mr.Exists("test:children:/"))
	})

	t.Run("invalid paths", func(t *testing.T) {
		require.ErrorIs(t, c.Create(ctx, "relative", nil, types.Persistent), types.ErrInvalidPath)
		require.ErrorIs(t, c.Create(ctx, "/", nil, types.Persistent), types.ErrInvalidPath)
	})
}

func TestClient_SetKeepsTTL(t *testing.T) {
	mr, rdb := startRedis(t)
	c := connected(t, rdb)
	ctx := t.Context()

	require.NoError(t, c.Create(ctx, "/foo/LIVEINSTANCES/bar", []byte("a"), types.Ephemeral))
	require.NoError(t, c.Set(ctx, "/foo/LIVEINSTANCES/bar", []byte("b")))
	require.Greater(t, mr.TTL("test:node:/foo/LIVEINSTANCES/bar"), time.Duration(0))
}

func TestClient_Children(t *testing.T) {
	_, rdb := startRedis(t)
	c := connected(t, rdb)
	ctx := t.Context()

	_, err := c.Children(ctx, "/foo/INSTANCES/bar/CURRENTSTATES")
	require.ErrorIs(t, err, types.ErrNoNode)

	root, err := c.Children(ctx, "/")
	require.NoError(t, err)
	require.Empty(t, root)

	require.NoError(t, c.Create(ctx, "/foo/INSTANCES/bar/CURRENTSTATES/s2/db", nil, types.Persistent))
	require.NoError(t, c.Create(ctx, "/foo/INSTANCES/bar/CURRENTSTATES/s1/db", nil, types.Persistent))
	require.NoError(t, c.Create(ctx, "/foo/INSTANCES/bar/CURRENTSTATES/s1/cache", nil, types.Persistent))

	sessions, err := c.Children(ctx, "/foo/INSTANCES/bar/CURRENTSTATES")
	require.NoError(t, err)
	require.Equal(t, []string{"s1", "s2"}, sessions)

	resources, err := c.Children(ctx, "/foo/INSTANCES/bar/CURRENTSTATES/s1")
	require.NoError(t, err)
	require.Equal(t, []string{"cache", "db"}, resources)

	leaf, err := c.Children(ctx, "/foo/INSTANCES/bar/CURRENTSTATES/s1/db")
	require.NoError(t, err)
	require.Empty(t, leaf)

	require.NoError(t, c.Delete(ctx, "/foo/INSTANCES/bar/CURRENTSTATES/s2/db"))
	sessions, err = c.Children(ctx, "/foo/INSTANCES/bar/CURRENTSTATES")
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, sessions)
}

func TestClient_EphemeralLifetime(t *testing.T) {
	_, rdb := startRedis(t)
	owner := newClient(t, rdb, 5*time.Second)
	other := connected(t, rdb)
	ctx := t.Context()

	_, err := owner.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, owner.Create(ctx, "/foo/LIVEINSTANCES/bar", nil, types.Ephemeral))

	live, err := other.Children(ctx, "/foo/LIVEINSTANCES")
	require.NoError(t, err)
	require.Equal(t, []string{"bar"}, live)

	require.NoError(t, owner.Close(ctx))

	ok, err := other.Exists(ctx, "/foo/LIVEINSTANCES/bar")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = other.Children(ctx, "/foo/LIVEINSTANCES")
	require.ErrorIs(t, err, types.ErrNoNode)
}

func TestClient_WatchChildren(t *testing.T) {
	_, rdb := startRedis(t)
	c := connected(t, rdb)
	ctx := t.Context()

	const queue = "/foo/INSTANCES/bar/MESSAGES"
	require.NoError(t, c.Create(ctx, queue+"/m1", nil, types.Persistent))

	children, events, err := c.WatchChildren(ctx, queue)
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, children)

	require.NoError(t, c.Set(ctx, queue+"/m1", []byte("x")))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, c.Create(ctx, queue+"/m2", nil, types.Persistent))
	select {
	case ev := <-events:
		require.NoError(t, ev.Err)
		require.Equal(t, queue, ev.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not fire on create")
	}
	_, open := <-events
	require.False(t, open)

	_, events, err = c.WatchChildren(ctx, queue)
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, queue+"/m1"))
	select {
	case ev := <-events:
		require.NoError(t, ev.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not fire on delete")
	}

	t.Run("close cancels watch", func(t *testing.T) {
		other := newClient(t, rdb, 5*time.Second)
		_, err := other.Connect(ctx)
		require.NoError(t, err)

		_, events, err := other.WatchChildren(ctx, queue)
		require.NoError(t, err)
		require.NoError(t, other.Close(ctx))

		select {
		case ev := <-events:
			require.ErrorIs(t, ev.Err, types.ErrClientClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("watch was not cancelled")
		}
	})
}

func TestClient_SessionExpiry(t *testing.T) {
	mr, rdb := startRedis(t)
	c := newClient(t, rdb, 600*time.Millisecond)
	other := connected(t, rdb)
	ctx := t.Context()

	sid, err := c.Connect(ctx)
	require.NoError(t, err)
	require.Equal(t, types.SessionEstablished, (<-c.SessionEvents()).Type)
	require.NoError(t, c.Create(ctx, "/foo/LIVEINSTANCES/bar", nil, types.Ephemeral))

	// Let every key of the session lapse as if the process had stalled.
	mr.FastForward(time.Second)

	live, err := other.Children(ctx, "/foo/LIVEINSTANCES")
	require.ErrorIs(t, err, types.ErrNoNode)
	require.Empty(t, live)

	select {
	case ev := <-c.SessionEvents():
		require.Equal(t, types.SessionExpired, ev.Type)
		require.Equal(t, sid, ev.SessionID)
	case <-time.After(3 * time.Second):
		t.Fatal("session did not expire")
	}
	require.False(t, c.IsConnected())
}
