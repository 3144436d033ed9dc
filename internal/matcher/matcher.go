package matcher

import (
	"strings"

	"github.com/loykin/serverctl/internal/resolver"
	"github.com/loykin/serverctl/internal/scanner"
)

// Rule names the precedence step that identified a process.
type Rule string

const (
	RuleJar         Rule = "jar"
	RuleExact       Rule = "exact"
	RuleContains    Rule = "contains"
	RuleCommandLine Rule = "command_line"
)

// Result is the descriptor a live process was attributed to.
type Result struct {
	Descriptor scanner.Descriptor `json:"descriptor"`
	Rule       Rule               `json:"rule"`
}

// Normalize lower-cases p, converts backslashes to slashes and drops trailing slashes.
func Normalize(p string) string {
	p = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(p), `\`, "/"))
	return strings.TrimRight(p, "/")
}

// Match attributes a process to one of descs. A -jar argument in cmdLine
// overrides workDir as the candidate path. Paths are compared exactly first,
// then by containment in either direction; finally the command line is
// searched for a descriptor name or path. No match is a normal outcome.
func Match(workDir, cmdLine string, descs []scanner.Descriptor) (Result, bool) {
	candidate, pathRule := workDir, Rule("")
	if dir, ok := resolver.JarDir(cmdLine); ok {
		candidate, pathRule = dir, RuleJar
	}

	// a bare root or drive letter would contain every install
	if c := Normalize(candidate); c != "" && !isVolume(c) {
		for _, d := range descs {
			if Normalize(d.Path) == c {
				return Result{Descriptor: d, Rule: orRule(pathRule, RuleExact)}, true
			}
		}
		for _, d := range descs {
			p := Normalize(d.Path)
			if p == "" {
				continue
			}
			if strings.Contains(c, p) || strings.Contains(p, c) {
				return Result{Descriptor: d, Rule: orRule(pathRule, RuleContains)}, true
			}
		}
	}

	if cmdLine != "" {
		lc := strings.ToLower(cmdLine)
		for _, d := range descs {
			if (d.Name != "" && strings.Contains(lc, strings.ToLower(d.Name))) ||
				(d.Path != "" && strings.Contains(cmdLine, d.Path)) {
				return Result{Descriptor: d, Rule: RuleCommandLine}, true
			}
		}
	}
	return Result{}, false
}

// MarkActive returns a copy of descs where only the matched descriptor is
// marked running under pid.
func MarkActive(descs []scanner.Descriptor, m Result, pid int64) []scanner.Descriptor {
	out := make([]scanner.Descriptor, len(descs))
	for i, d := range descs {
		if d.Name == m.Descriptor.Name && d.Path == m.Descriptor.Path {
			out[i] = d.WithProcess(pid)
			continue
		}
		d.Running, d.PID = false, nil
		out[i] = d
	}
	return out
}

func isVolume(p string) bool {
	return len(p) == 2 && p[1] == ':'
}

func orRule(r, def Rule) Rule {
	if r != "" {
		return r
	}
	return def
}
