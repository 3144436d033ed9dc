package deployment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o750))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o600))
	}
}

func TestFindStandalone_Patterns(t *testing.T) {
	m := New("")

	direct := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(direct, "standalone"), 0o750))
	p, ok := m.FindStandalone(direct)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(direct, "standalone"), p)

	vendor := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(vendor, "jboss-eap-7.4", "standalone"), 0o750))
	p, ok = m.FindStandalone(vendor)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(vendor, "jboss-eap-7.4", "standalone"), p)

	nested := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(nested, "node1", "jboss-eap-7.4", "standalone"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(nested, "other", "standalone"), 0o750))
	p, ok = m.FindStandalone(nested)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(nested, "node1", "jboss-eap-7.4", "standalone"), p)

	_, ok = m.FindStandalone(t.TempDir())
	assert.False(t, ok)
	_, ok = m.FindStandalone(filepath.Join(t.TempDir(), "missing"))
	assert.False(t, ok)
}

func TestStartupStatus(t *testing.T) {
	m := New("jboss-eap")
	cases := []struct {
		name    string
		markers []string
		noDir   bool
		want    Status
	}{
		{name: "missing deployments", noDir: true, want: StatusStarting},
		{name: "empty", want: StatusRunning},
		{name: "deployed", markers: []string{"app.war", "app.war.deployed"}, want: StatusRunning},
		{name: "isdeploying", markers: []string{"app.war.isdeploying"}, want: StatusStarting},
		{name: "pending", markers: []string{"a.ear.pending"}, want: StatusStarting},
		{name: "deploying upper case", markers: []string{"a.ear.DEPLOYING"}, want: StatusStarting},
		{name: "failed", markers: []string{"a.war.deployed", "b.war.failed"}, want: StatusFailed},
		{name: "deploying wins over failed", markers: []string{"a.war.failed", "b.war.isdeploying"}, want: StatusStarting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			base := t.TempDir()
			standalone := filepath.Join(base, "jboss-eap-7.4", "standalone")
			require.NoError(t, os.MkdirAll(standalone, 0o750))
			if !tc.noDir {
				touch(t, filepath.Join(standalone, "deployments"), tc.markers...)
			}
			assert.Equal(t, tc.want, m.StartupStatus(base))
		})
	}
}

func TestStartupStatus_UnknownWithoutStandalone(t *testing.T) {
	assert.Equal(t, StatusUnknown, New("").StartupStatus(t.TempDir()))
}

func TestDetails(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "standalone", "deployments")
	touch(t, dir, "b.war.deployed", "a.war.deployed", "c.ear.failed", "d.jar.pending", "README.txt")

	d := New("").Details(base)
	assert.Equal(t, StatusStarting, d.Status)
	assert.True(t, d.StandaloneFound)
	assert.True(t, d.DeploymentsFound)
	assert.Equal(t, dir, d.DeploymentsPath)
	assert.Equal(t, []string{"a.war.deployed", "b.war.deployed"}, d.Deployed)
	assert.Equal(t, []string{"c.ear.failed"}, d.Failed)
	assert.Equal(t, []string{"d.jar.pending"}, d.Deploying)
	assert.True(t, d.StillDeploying)
}

func TestDetails_MissingDeployments(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "standalone"), 0o750))
	d := New("").Details(base)
	assert.Equal(t, StatusStarting, d.Status)
	assert.True(t, d.StandaloneFound)
	assert.False(t, d.DeploymentsFound)
	assert.Empty(t, d.Deploying)
	assert.NotNil(t, d.Deployed)
}

func TestLocateDeployments(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "webapps"), 0o750))
	p, ok := LocateDeployments(base)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(base, "webapps"), p)

	jb := filepath.Join(base, "JBoss-EAP-7.4", "standalone", "deployments")
	require.NoError(t, os.MkdirAll(jb, 0o750))
	p, ok = LocateDeployments(base)
	require.True(t, ok)
	assert.Equal(t, jb, p)

	_, ok = LocateDeployments(t.TempDir())
	assert.False(t, ok)
	_, ok = LocateDeployments("")
	assert.False(t, ok)
}
