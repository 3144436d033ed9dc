package extract

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
	body string
}

func writeZip(t *testing.T, path string, entries ...entry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		if e.body != "" {
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func newTestEngine(t *testing.T, cfg PoolConfig, opts ...Option) *Engine {
	t.Helper()
	p := NewPool(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return NewEngine(NewRegistry(), p, opts...)
}

func waitTerminal(t *testing.T, e *Engine, id string) Task {
	t.Helper()
	require.Eventually(t, func() bool {
		s, ok := e.Status(id)
		return ok && s.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	s, _ := e.Status(id)
	return s
}

// blockPool occupies every worker of a single-worker pool until the returned
// release func is called.
func blockPool(t *testing.T, p *Pool) (release func()) {
	t.Helper()
	started := make(chan struct{})
	gate := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-gate
	}))
	<-started
	return func() { close(gate) }
}

func fixtureDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "uploads")
}
