package matcher

import (
	"testing"

	"github.com/loykin/serverctl/internal/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descs() []scanner.Descriptor {
	return []scanner.Descriptor{
		{Name: "app1", Path: `C:\srv\app1`, Port: 8080},
		{Name: "app2", Path: `C:\srv\app2`, Port: 8080},
		{Name: "eap-core", Path: "/opt/servers/eap-core", Port: 8080},
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "c:/srv/app1", Normalize(`C:\SRV\App1\`))
	assert.Equal(t, "/opt/x", Normalize("/opt/x///"))
	assert.Equal(t, "", Normalize("/"))
}

func TestMatch_JarWinsOverWorkingDirectory(t *testing.T) {
	m, ok := Match(`C:\srv\app2`, `java -jar C:\srv\app1\app.jar`, descs())
	require.True(t, ok)
	assert.Equal(t, "app1", m.Descriptor.Name)
	assert.Equal(t, RuleJar, m.Rule)
}

func TestMatch_ExactIsCaseAndSeparatorInsensitive(t *testing.T) {
	m, ok := Match("c:/SRV/app2/", "", descs())
	require.True(t, ok)
	assert.Equal(t, "app2", m.Descriptor.Name)
	assert.Equal(t, RuleExact, m.Rule)
}

func TestMatch_ExactBeatsContainment(t *testing.T) {
	ds := []scanner.Descriptor{
		{Name: "outer", Path: "/srv/eap"},
		{Name: "inner", Path: "/srv/eap/node"},
	}
	m, ok := Match("/srv/eap/node", "", ds)
	require.True(t, ok)
	assert.Equal(t, "inner", m.Descriptor.Name)
	assert.Equal(t, RuleExact, m.Rule)
}

func TestMatch_ContainmentBothDirections(t *testing.T) {
	m, ok := Match("/opt/servers/eap-core/jboss-eap-7.4/bin", "", descs())
	require.True(t, ok)
	assert.Equal(t, "eap-core", m.Descriptor.Name)
	assert.Equal(t, RuleContains, m.Rule)

	ds := []scanner.Descriptor{{Name: "nested", Path: "/data/group/nested-install"}}
	m, ok = Match("/data/group", "", ds)
	require.True(t, ok)
	assert.Equal(t, RuleContains, m.Rule)
}

func TestMatch_CommandLineName(t *testing.T) {
	m, ok := Match("", `java -Djboss.server.base.dir=/elsewhere/EAP-CORE/standalone org.jboss.Main`, descs())
	require.True(t, ok)
	assert.Equal(t, "eap-core", m.Descriptor.Name)
	assert.Equal(t, RuleCommandLine, m.Rule)
}

func TestMatch_CommandLinePathVerbatim(t *testing.T) {
	ds := []scanner.Descriptor{{Name: "zzz", Path: "/x/Install"}}
	m, ok := Match("/unrelated", "run /x/Install/bin/start", ds)
	require.True(t, ok)
	assert.Equal(t, RuleCommandLine, m.Rule)
}

func TestMatch_NoMatch(t *testing.T) {
	_, ok := Match("/home/user/other", "python -m http.server 8080", descs())
	assert.False(t, ok)
	_, ok = Match("", "", descs())
	assert.False(t, ok)
	_, ok = Match("/srv/app", "x", nil)
	assert.False(t, ok)
}

func TestMatch_QuotedJarElsewhereOnSameDrive(t *testing.T) {
	cl := `"C:\Program Files\Java\bin\java.exe" -jar "C:\Program Files\other\tool.jar"`
	_, ok := Match("", cl, descs())
	assert.False(t, ok)
}

func TestMatch_VolumeCandidateIgnored(t *testing.T) {
	_, ok := Match(`C:\`, "", descs())
	assert.False(t, ok)
	_, ok = Match("/", "", descs())
	assert.False(t, ok)
}

func TestMarkActive(t *testing.T) {
	in := descs()
	m, ok := Match(`C:\srv\app2`, "", in)
	require.True(t, ok)

	out := MarkActive(in, m, 4242)
	require.Len(t, out, 3)
	assert.False(t, out[0].Running)
	assert.True(t, out[1].Running)
	require.NotNil(t, out[1].PID)
	assert.Equal(t, int64(4242), *out[1].PID)
	assert.False(t, out[2].Running)
	assert.Nil(t, out[2].PID)

	// input untouched
	assert.False(t, in[1].Running)
}
