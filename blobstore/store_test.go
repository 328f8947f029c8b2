package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("put and get round-trip", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Put(ctx, "a/b", []byte("hello")))

		data, err := Get(ctx, s, "a/b")
		require.NoError(t, err)
		require.Equal(t, []byte("hello"), data)
	})

	t.Run("open missing returns ErrNotFound", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.Open(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("exists", func(t *testing.T) {
		s := NewMemoryStore()
		ok, err := Exists(ctx, s, "k")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, s.Put(ctx, "k", []byte("v")))
		ok, err = Exists(ctx, s, "k")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Put(ctx, "k", []byte("v")))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "k"))

		ok, err := Exists(ctx, s, "k")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("list by prefix sorted", func(t *testing.T) {
		s := NewMemoryStore()
		for _, k := range []string{"b/2", "a/1", "b/1", "c"} {
			require.NoError(t, s.Put(ctx, k, []byte("x")))
		}

		keys, err := s.List(ctx, "b/")
		require.NoError(t, err)
		require.Equal(t, []string{"b/1", "b/2"}, keys)
	})

	t.Run("read at offset", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Put(ctx, "k", []byte("0123456789")))

		b, err := s.Open(ctx, "k")
		require.NoError(t, err)
		defer b.Close()

		require.Equal(t, int64(10), b.Size())
		buf := make([]byte, 4)
		n, err := b.ReadAt(ctx, buf, 3)
		require.NoError(t, err)
		require.Equal(t, 4, n)
		require.Equal(t, []byte("3456"), buf)
	})
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()

	t.Run("create write and reopen", func(t *testing.T) {
		s, err := NewLocalStore(t.TempDir())
		require.NoError(t, err)

		w, err := s.Create(ctx, "images/x/data")
		require.NoError(t, err)
		_, err = w.Write([]byte("payload"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		data, err := Get(ctx, s, "images/x/data")
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), data)
	})

	t.Run("put overwrites atomically", func(t *testing.T) {
		s, err := NewLocalStore(t.TempDir())
		require.NoError(t, err)

		require.NoError(t, s.Put(ctx, "k", []byte("old")))
		require.NoError(t, s.Put(ctx, "k", []byte("new")))

		data, err := Get(ctx, s, "k")
		require.NoError(t, err)
		require.Equal(t, []byte("new"), data)
	})

	t.Run("list uses slash keys", func(t *testing.T) {
		s, err := NewLocalStore(t.TempDir())
		require.NoError(t, err)

		require.NoError(t, s.Put(ctx, "images/a/attrs.json", []byte("{}")))
		require.NoError(t, s.Put(ctx, "images/a/data", []byte("d")))
		require.NoError(t, s.Put(ctx, "attrs.json", []byte("{}")))

		keys, err := s.List(ctx, "images/")
		require.NoError(t, err)
		require.Equal(t, []string{"images/a/attrs.json", "images/a/data"}, keys)
	})

	t.Run("open missing returns ErrNotFound", func(t *testing.T) {
		s, err := NewLocalStore(t.TempDir())
		require.NoError(t, err)

		_, err = s.Open(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()

	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "k", []byte("v")))

	ro := ReadOnly(s)
	require.True(t, IsReadOnly(ro))
	require.False(t, IsReadOnly(s))

	t.Run("reads pass through", func(t *testing.T) {
		data, err := Get(ctx, ro, "k")
		require.NoError(t, err)
		require.Equal(t, []byte("v"), data)

		keys, err := ro.List(ctx, "")
		require.NoError(t, err)
		require.Equal(t, []string{"k"}, keys)
	})

	t.Run("writes fail", func(t *testing.T) {
		require.ErrorIs(t, ro.Put(ctx, "k2", []byte("x")), ErrReadOnly)
		require.ErrorIs(t, ro.Delete(ctx, "k"), ErrReadOnly)
		_, err := ro.Create(ctx, "k3")
		require.ErrorIs(t, err, ErrReadOnly)

		// Backing store untouched.
		ok, err := Exists(ctx, s, "k2")
		require.NoError(t, err)
		require.False(t, ok)
	})
}
