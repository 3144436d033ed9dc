package scanner

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdirs(t *testing.T, base string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(base, n), 0o750))
	}
}

func TestScan_FiltersByPrefix(t *testing.T) {
	base := t.TempDir()
	mkdirs(t, base, "eap-app2", "eap-app1", "other", "EAP-upper")
	require.NoError(t, os.WriteFile(filepath.Join(base, "eap-file.txt"), []byte("x"), 0o600))

	got, err := New(base, "eap-", 0).Scan()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "eap-app1", got[0].Name)
	assert.Equal(t, "eap-app2", got[1].Name)
	for _, d := range got {
		assert.True(t, strings.HasPrefix(d.Name, "eap-"))
		assert.False(t, d.Running)
		assert.Nil(t, d.PID)
		assert.Equal(t, DefaultPort, d.Port)
		fi, err := os.Stat(d.Path)
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
}

func TestScan_CustomPort(t *testing.T) {
	base := t.TempDir()
	mkdirs(t, base, "srv-a")
	got, err := New(base, "srv-", 9080).Scan()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 9080, got[0].Port)
}

func TestScan_MissingBaseDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"), "x", 0).Scan()
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestScan_BaseIsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o600))
	_, err := New(f, "x", 0).Scan()
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestScan_FreshSliceEachCall(t *testing.T) {
	base := t.TempDir()
	mkdirs(t, base, "srv-a")
	s := New(base, "srv-", 0)
	first, err := s.Scan()
	require.NoError(t, err)
	first[0] = first[0].WithProcess(42)

	second, err := s.Scan()
	require.NoError(t, err)
	assert.False(t, second[0].Running)
	assert.Nil(t, second[0].PID)
}

func TestFind(t *testing.T) {
	base := t.TempDir()
	mkdirs(t, base, "srv-a", "srv-b")
	s := New(base, "srv-", 0)

	d, err := s.Find("srv-b")
	require.NoError(t, err)
	assert.Equal(t, "srv-b", d.Name)

	_, err = s.Find("srv-c")
	require.ErrorIs(t, err, ErrServerNotFound)
	assert.Contains(t, err.Error(), "srv-a, srv-b")
}

func TestDescriptor_WithProcess(t *testing.T) {
	d := Descriptor{Name: "a"}
	r := d.WithProcess(7)
	assert.False(t, d.Running)
	assert.True(t, r.Running)
	require.NotNil(t, r.PID)
	assert.Equal(t, int64(7), *r.PID)
}
