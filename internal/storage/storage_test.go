package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	logx "pindrop/pkg/logx"
)

func openBackends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	fileB, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "pins.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fileB.Close() })

	sqliteB, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "pins.sqlite")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteB.Close() })

	return map[string]Backend{
		"memory": NewMemory(),
		"file":   fileB,
		"sqlite": sqliteB,
	}
}

func TestBackendContract(t *testing.T) {
	for name, b := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := b.Get(ctx, "a1")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, b.Put(ctx, "a1", []byte(`{"v":1}`)))
			require.NoError(t, b.Put(ctx, "a2", []byte(`{"v":2}`)))

			// Unconditional replace.
			require.NoError(t, b.Put(ctx, "a1", []byte(`{"v":3}`)))

			v, ok, err := b.Get(ctx, "a1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, `{"v":3}`, string(v))

			all, err := b.GetAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			require.Equal(t, `{"v":2}`, string(all["a2"]))

			n, err := b.Count(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, n)

			removed, err := b.Delete(ctx, "a1")
			require.NoError(t, err)
			require.True(t, removed)

			removed, err = b.Delete(ctx, "a1")
			require.NoError(t, err)
			require.False(t, removed)

			require.NoError(t, b.Maintain(ctx))

			n, err = b.Count(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, n)
		})
	}
}

func TestFileBackendSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pins.db")
	ctx := context.Background()

	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "keep", []byte("v1")))
	require.NoError(t, b.Put(ctx, "drop", []byte("v2")))
	_, err = b.Delete(ctx, "drop")
	require.NoError(t, err)

	// Compact so both snapshot and journal paths are exercised on reload.
	require.NoError(t, b.Maintain(ctx))
	require.NoError(t, b.Put(ctx, "late", []byte("v3")))
	require.NoError(t, b.Close())

	b2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer b2.Close()

	all, err := b2.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "v1", string(all["keep"]))
	require.Equal(t, "v3", string(all["late"]))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "bogus", Path: "x"}, logx.Nop())
	require.Error(t, err)
}
