//go:build !windows

package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sysconf "github.com/tklauser/go-sysconf"
)

func TestProcStatStart(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "42"), 0o750))
	// comm contains a space and a parenthesis
	stat := "42 (java (x) y) S 1 42 42 0 -1 4194560 100 0 0 0 10 5 0 0 20 0 30 0 500000 123456 789\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "42", "stat"), []byte(stat), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stat"), []byte("cpu 1 2 3\nbtime 1700000000\nprocesses 10\n"), 0o600))

	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	assert.Equal(t, int64(1700000000)+500000/clk, procStatStart(root, 42))

	assert.Zero(t, procStatStart(root, 43))
}

func TestProcStatStart_MissingBootTime(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "42"), 0o750))
	stat := "42 (java) S 1 42 42 0 -1 4194560 100 0 0 0 10 5 0 0 20 0 30 0 500000 123456 789\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "42", "stat"), []byte(stat), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stat"), []byte("cpu 1 2 3\n"), 0o600))
	assert.Zero(t, procStatStart(root, 42))
}
