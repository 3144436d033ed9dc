package resolver

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	out   map[string]string
	err   map[string]error
	calls []string
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, key)
	if e, ok := f.err[key]; ok {
		return nil, e
	}
	if o, ok := f.out[key]; ok {
		return []byte(o), nil
	}
	return nil, errors.New("executable not found: " + name)
}

type fakeSource struct {
	pid     int64
	cwd     string
	cmdline string
}

func (f fakeSource) ListenPID(context.Context, int) (int64, bool)  { return f.pid, f.pid > 0 }
func (f fakeSource) Cwd(context.Context, int64) (string, bool)     { return f.cwd, f.cwd != "" }
func (f fakeSource) Cmdline(context.Context, int64) (string, bool) { return f.cmdline, f.cmdline != "" }

const psGetConn = "powershell -Command Get-NetTCPConnection -LocalPort 8080 | Select-Object -ExpandProperty OwningProcess"

func TestNew_SelectsVariant(t *testing.T) {
	_, ok := New("windows", &fakeRunner{}).(*Windows)
	assert.True(t, ok)
	_, ok = New("linux", &fakeRunner{}).(*Unix)
	assert.True(t, ok)
	_, ok = New("darwin", nil).(*Unix)
	assert.True(t, ok)
}

func TestWindows_PIDFromNetstat(t *testing.T) {
	r := &fakeRunner{out: map[string]string{
		"netstat -ano": `
Active Connections

  Proto  Local Address          Foreign Address        State           PID
  TCP    127.0.0.1:8080         127.0.0.1:51000        ESTABLISHED     7
  TCP    0.0.0.0:8080           0.0.0.0:0              LISTENING       4242
`,
	}}
	pid, ok := NewWindows(r).PIDForPort(context.Background(), 8080)
	require.True(t, ok)
	assert.Equal(t, int64(4242), pid)
	assert.Equal(t, []string{"netstat -ano"}, r.calls)
}

func TestWindows_FallsBackToPowerShell(t *testing.T) {
	r := &fakeRunner{out: map[string]string{
		"netstat -ano": "  TCP    0.0.0.0:9090   0.0.0.0:0   LISTENING   1\n",
		psGetConn:      "\r\n5150\r\n",
	}}
	pid, ok := NewWindows(r).PIDForPort(context.Background(), 8080)
	require.True(t, ok)
	assert.Equal(t, int64(5150), pid)
}

func TestWindows_FallsBackToNetstatAon(t *testing.T) {
	r := &fakeRunner{
		out: map[string]string{
			"netstat -aon": "  TCP  0.0.0.0:80800  0.0.0.0:0  LISTENING  11\n  TCP  0.0.0.0:8080  0.0.0.0:0  LISTENING  12\n",
			psGetConn:      "not-a-number\n",
		},
		err: map[string]error{"netstat -ano": errors.New("boom")},
	}
	pid, ok := NewWindows(r).PIDForPort(context.Background(), 8080)
	require.True(t, ok)
	assert.Equal(t, int64(12), pid)
}

func TestListeningPID_ExactPort(t *testing.T) {
	out := []byte("  TCP    0.0.0.0:8080   0.0.0.0:0   LISTENING   4242\n" +
		"  TCP    [::]:8443      [::]:0      LISTENING   77\n" +
		"  TCP    127.0.0.1:80   10.0.0.2:80 ESTABLISHED 9\n")

	_, ok := listeningPID(out, "80")
	assert.False(t, ok, "port 80 must not match a listener on 8080")
	_, ok = listeningPID(out, "808")
	assert.False(t, ok)

	pid, ok := listeningPID(out, "8080")
	require.True(t, ok)
	assert.Equal(t, int64(4242), pid)

	pid, ok = listeningPID(out, "8443")
	require.True(t, ok)
	assert.Equal(t, int64(77), pid)
}

func TestWindows_PortPrefixDoesNotMatchLongerPort(t *testing.T) {
	r := &fakeRunner{out: map[string]string{
		"netstat -ano": "  TCP    0.0.0.0:8080   0.0.0.0:0   LISTENING   4242\n",
	}}
	pid, ok := NewWindows(r).PIDForPort(context.Background(), 80)
	assert.False(t, ok)
	assert.Zero(t, pid)
}

func TestWindows_NoListener(t *testing.T) {
	pid, ok := NewWindows(&fakeRunner{}).PIDForPort(context.Background(), 8080)
	assert.False(t, ok)
	assert.Zero(t, pid)
}

func TestWindows_CommandLineAndWorkingDirectory(t *testing.T) {
	cl := `"C:\java\bin\java.exe" -D[Standalone] -jar C:\servers\eap-a\jboss-eap-7.4\jboss-modules.jar -mp C:\servers\eap-a\jboss-eap-7.4\modules`
	r := &fakeRunner{out: map[string]string{
		"wmic process where processid=4242 get commandline /value": "\r\n\r\nCommandLine=" + cl + "\r\n\r\n",
	}}
	w := NewWindows(r)
	got, ok := w.CommandLine(context.Background(), 4242)
	require.True(t, ok)
	assert.Equal(t, cl, got)

	dir, ok := w.WorkingDirectory(context.Background(), 4242)
	require.True(t, ok)
	assert.Equal(t, `C:\servers\eap-a\jboss-eap-7.4`, dir)

	_, ok = w.CommandLine(context.Background(), 1)
	assert.False(t, ok)
	_, ok = w.WorkingDirectory(context.Background(), 0)
	assert.False(t, ok)
}

func TestWindows_WorkingDirectoryWithoutJar(t *testing.T) {
	r := &fakeRunner{out: map[string]string{
		"wmic process where processid=9 get commandline /value": "CommandLine=C:\\tools\\server.exe --port 8080\n",
	}}
	dir, ok := NewWindows(r).WorkingDirectory(context.Background(), 9)
	require.True(t, ok)
	assert.Equal(t, `C:\tools\server.exe --port 8080`, dir)
}

func TestJarDir(t *testing.T) {
	d, ok := JarDir("java -jar /opt/eap/jboss-modules.jar")
	require.True(t, ok)
	assert.Equal(t, "/opt/eap", d)

	d, ok = JarDir(`java -jar "C:\eap\jboss-modules.jar"`)
	require.True(t, ok)
	assert.Equal(t, `C:\eap`, d)

	_, ok = JarDir("java -jar")
	assert.False(t, ok)
	_, ok = JarDir("java -jar app.jar")
	assert.False(t, ok)
	_, ok = JarDir("java -cp x Main")
	assert.False(t, ok)
}

func TestJarDir_QuotedPathWithSpaces(t *testing.T) {
	d, ok := JarDir(`"C:\Program Files\Java\bin\java.exe" -Xmx1g -jar "C:\Program Files\other\tool.jar" --port 80`)
	require.True(t, ok)
	assert.Equal(t, `C:\Program Files\other`, d)

	d, ok = JarDir(`java -jar '/opt/my apps/eap/jboss-modules.jar'`)
	require.True(t, ok)
	assert.Equal(t, "/opt/my apps/eap", d)
}

func TestJarDir_RejectsVolumeAndRoot(t *testing.T) {
	_, ok := JarDir(`java -jar C:\tool.jar`)
	assert.False(t, ok)
	_, ok = JarDir(`java -jar "C:\tool.jar"`)
	assert.False(t, ok)
	_, ok = JarDir("java -jar /tool.jar")
	assert.False(t, ok)
}

func TestSplitArgs(t *testing.T) {
	assert.Equal(t, []string{"a", "b c", "d"}, splitArgs(`a  "b c"	d`))
	assert.Equal(t, []string{"x'y", "z"}, splitArgs(`"x'y" z`))
	assert.Empty(t, splitArgs("   "))
}

func newTestUnix(r Runner, src procSource, root string) *Unix {
	return &Unix{run: r, sys: src, procRoot: root}
}

func TestUnix_PIDFromLsof(t *testing.T) {
	r := &fakeRunner{out: map[string]string{"lsof -t -i:8080": "1234\n5678\n"}}
	pid, ok := newTestUnix(r, fakeSource{pid: 99}, t.TempDir()).PIDForPort(context.Background(), 8080)
	require.True(t, ok)
	assert.Equal(t, int64(1234), pid)
}

func TestUnix_LsofExitNonZeroMeansFree(t *testing.T) {
	r := &fakeRunner{err: map[string]error{"lsof -t -i:8080": &exec.ExitError{}}}
	_, ok := newTestUnix(r, fakeSource{pid: 99}, t.TempDir()).PIDForPort(context.Background(), 8080)
	assert.False(t, ok)
}

func TestUnix_MissingLsofFallsBackToConnections(t *testing.T) {
	pid, ok := newTestUnix(&fakeRunner{}, fakeSource{pid: 99}, t.TempDir()).PIDForPort(context.Background(), 8080)
	require.True(t, ok)
	assert.Equal(t, int64(99), pid)
}

func TestUnix_WorkingDirectoryChain(t *testing.T) {
	ctx := context.Background()

	r := &fakeRunner{out: map[string]string{"pwdx 1234": "1234: /srv/eap-a\n"}}
	dir, ok := newTestUnix(r, fakeSource{}, t.TempDir()).WorkingDirectory(ctx, 1234)
	require.True(t, ok)
	assert.Equal(t, "/srv/eap-a", dir)

	root := t.TempDir()
	target := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "1234"), 0o750))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "1234", "cwd")))
	dir, ok = newTestUnix(&fakeRunner{}, fakeSource{cwd: "/unused"}, root).WorkingDirectory(ctx, 1234)
	require.True(t, ok)
	assert.Equal(t, target, dir)

	dir, ok = newTestUnix(&fakeRunner{}, fakeSource{cwd: "/from/gopsutil"}, t.TempDir()).WorkingDirectory(ctx, 1234)
	require.True(t, ok)
	assert.Equal(t, "/from/gopsutil", dir)

	_, ok = newTestUnix(&fakeRunner{}, fakeSource{}, t.TempDir()).WorkingDirectory(ctx, 1234)
	assert.False(t, ok)
}

func TestUnix_CommandLine(t *testing.T) {
	ctx := context.Background()
	r := &fakeRunner{out: map[string]string{"ps -p 1234 -o args --no-headers": "java -jar /srv/eap-a/jboss-modules.jar\n"}}
	cl, ok := newTestUnix(r, fakeSource{}, t.TempDir()).CommandLine(ctx, 1234)
	require.True(t, ok)
	assert.Equal(t, "java -jar /srv/eap-a/jboss-modules.jar", cl)

	cl, ok = newTestUnix(&fakeRunner{}, fakeSource{cmdline: "java Main"}, t.TempDir()).CommandLine(ctx, 1234)
	require.True(t, ok)
	assert.Equal(t, "java Main", cl)

	_, ok = newTestUnix(&fakeRunner{}, fakeSource{}, t.TempDir()).CommandLine(ctx, -1)
	assert.False(t, ok)
}

func TestStartedAt_CurrentProcess(t *testing.T) {
	at, ok := NewUnix(&fakeRunner{}).StartedAt(context.Background(), int64(os.Getpid()))
	require.True(t, ok)
	assert.False(t, at.After(time.Now().Add(time.Second)))

	_, ok = NewUnix(&fakeRunner{}).StartedAt(context.Background(), 0)
	assert.False(t, ok)
}

func TestParsePID(t *testing.T) {
	for in, want := range map[string]int64{"42": 42, " 7 ": 7} {
		got, ok := parsePID(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	for _, in := range []string{"", "x", "0", "-3"} {
		_, ok := parsePID(in)
		assert.False(t, ok, in)
	}
}
