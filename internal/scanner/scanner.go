package scanner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultPort is the HTTP port every scanned installation is assumed to bind.
const DefaultPort = 8080

var (
	// ErrConfiguration reports an unusable base directory. It is not retried.
	ErrConfiguration = errors.New("invalid server base directory")
	// ErrServerNotFound reports a lookup by name that matched no installation.
	ErrServerNotFound = errors.New("server not found")
)

// Descriptor describes one installation found on disk. Running and PID are
// only ever set by callers that matched the descriptor against a live process.
type Descriptor struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Port    int    `json:"port"`
	Running bool   `json:"running"`
	PID     *int64 `json:"pid"`
}

// WithProcess returns a copy of d marked as running under pid.
func (d Descriptor) WithProcess(pid int64) Descriptor {
	p := pid
	d.Running = true
	d.PID = &p
	return d
}

// Scanner lists installation directories under BaseDir whose name starts with Prefix.
type Scanner struct {
	BaseDir string
	Prefix  string
	Port    int
}

// New returns a Scanner; port <= 0 selects DefaultPort.
func New(baseDir, prefix string, port int) *Scanner {
	if port <= 0 {
		port = DefaultPort
	}
	return &Scanner{BaseDir: baseDir, Prefix: prefix, Port: port}
}

// Scan returns one descriptor per matching subdirectory, sorted by name.
// A fresh slice is built on every call.
func (s *Scanner) Scan() ([]Descriptor, error) {
	info, err := os.Stat(s.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfiguration, s.BaseDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrConfiguration, s.BaseDir)
	}
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfiguration, s.BaseDir, err)
	}
	abs, err := filepath.Abs(s.BaseDir)
	if err != nil {
		abs = s.BaseDir
	}
	port := s.Port
	if port <= 0 {
		port = DefaultPort
	}

	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), s.Prefix) {
			continue
		}
		p := filepath.Join(abs, e.Name())
		// follow symlinks so linked installs count as directories
		fi, err := os.Stat(p)
		if err != nil || !fi.IsDir() {
			continue
		}
		out = append(out, Descriptor{Name: e.Name(), Path: p, Port: port})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Find scans and returns the descriptor whose name equals name exactly.
func (s *Scanner) Find(name string) (Descriptor, error) {
	all, err := s.Scan()
	if err != nil {
		return Descriptor{}, err
	}
	names := make([]string, 0, len(all))
	for _, d := range all {
		if d.Name == name {
			return d, nil
		}
		names = append(names, d.Name)
	}
	return Descriptor{}, fmt.Errorf("%w: %q (available: %s)", ErrServerNotFound, name, strings.Join(names, ", "))
}
