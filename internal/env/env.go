package env

import (
	"os"
	"sort"
	"strings"
)

// Vars is a KEY -> VALUE environment map.
type Vars map[string]string

// Launch composes the environment a started server process receives.
type Launch struct {
	base Vars
}

// New returns a Launch whose base is the current OS environment when useOS is
// true, or empty otherwise.
func New(useOS bool) *Launch {
	l := &Launch{base: make(Vars)}
	if useOS {
		for _, kv := range os.Environ() {
			if k, v, ok := split(kv); ok {
				l.base[k] = v
			}
		}
	}
	return l
}

// Compose applies overrides (KEY=VALUE) on top of the base, in order, then
// expands ${VAR} references against the composed map. The result is sorted by key.
func (l *Launch) Compose(overrides []string) []string {
	m := make(Vars, len(l.base)+len(overrides))
	for k, v := range l.base {
		m[k] = v
	}
	for _, kv := range overrides {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

// expand replaces ${VAR} with its value from m; unknown names are left intact.
// No recursion: substituted values are not expanded again.
func expand(s string, m Vars) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			break
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			b.WriteString(s)
			break
		}
		name := s[i+2 : i+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+j+1])
		}
		s = s[i+j+1:]
	}
	return b.String()
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}
