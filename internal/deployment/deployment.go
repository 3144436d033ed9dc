package deployment

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loykin/serverctl/internal/layout"
)

// Status classifies an installation's readiness.
type Status string

const (
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusFailed   Status = "FAILED"
	StatusStopped  Status = "STOPPED"
	StatusUnknown  Status = "UNKNOWN"
)

var (
	deployingSuffixes = []string{".isdeploying", ".pending", ".deploying"}
	deployedSuffix    = ".deployed"
	failedSuffix      = ".failed"
)

// Details lists marker files grouped by suffix class.
type Details struct {
	Status           Status   `json:"status"`
	StandaloneFound  bool     `json:"standalone_found"`
	DeploymentsFound bool     `json:"deployments_folder_found"`
	DeploymentsPath  string   `json:"deployments_path,omitempty"`
	Deploying        []string `json:"deploying_files"`
	Deployed         []string `json:"deployed_files"`
	Failed           []string `json:"failed_files"`
	StillDeploying   bool     `json:"is_still_deploying"`
}

// Monitor classifies installations from the marker files in their
// standalone/deployments directory. It keeps no state between calls.
type Monitor struct {
	VendorPrefix string
}

func New(vendorPrefix string) *Monitor {
	if vendorPrefix == "" {
		vendorPrefix = "jboss-eap"
	}
	return &Monitor{VendorPrefix: vendorPrefix}
}

// FindStandalone returns the first existing directory among path/standalone,
// path/<vendor>*/standalone and path/<sub>/<vendor>*/standalone.
func (m *Monitor) FindStandalone(path string) (string, bool) {
	if !layout.IsDir(path) {
		return "", false
	}
	if p := filepath.Join(path, "standalone"); layout.IsDir(p) {
		return p, true
	}
	return layout.FindInVendor(path, m.VendorPrefix, "standalone", layout.IsDir)
}

// StartupStatus classifies path. Deploying markers win over failed ones.
func (m *Monitor) StartupStatus(path string) Status {
	return m.Details(path).Status
}

// Details inspects the deployments directory of path. A missing standalone
// directory yields UNKNOWN; a missing deployments directory yields STARTING.
func (m *Monitor) Details(path string) Details {
	d := Details{Status: StatusUnknown, Deploying: []string{}, Deployed: []string{}, Failed: []string{}}
	standalone, ok := m.FindStandalone(path)
	if !ok {
		return d
	}
	d.StandaloneFound = true
	dir := filepath.Join(standalone, "deployments")
	d.DeploymentsPath = dir
	entries, err := os.ReadDir(dir)
	if err != nil {
		d.Status = StatusStarting
		return d
	}
	d.DeploymentsFound = true

	for _, e := range entries {
		name := e.Name()
		lower := strings.ToLower(name)
		switch {
		case hasAnySuffix(lower, deployingSuffixes):
			d.Deploying = append(d.Deploying, name)
		case strings.HasSuffix(lower, deployedSuffix):
			d.Deployed = append(d.Deployed, name)
		case strings.HasSuffix(lower, failedSuffix):
			d.Failed = append(d.Failed, name)
		}
	}
	sort.Strings(d.Deploying)
	sort.Strings(d.Deployed)
	sort.Strings(d.Failed)
	d.StillDeploying = len(d.Deploying) > 0

	switch {
	case d.StillDeploying:
		d.Status = StatusStarting
	case len(d.Failed) > 0:
		d.Status = StatusFailed
	default:
		d.Status = StatusRunning
	}
	return d
}

// deploymentFolders are tried, in order, under an active installation path.
var deploymentFolders = []string{
	filepath.Join("standalone", "deployments"),
	"deployments",
	"webapps",
	"autodeploy",
	"deploy",
}

// LocateDeployments finds the deployments folder of a running installation:
// first <path>/jboss*/standalone/deployments, then the common folders of
// other application servers.
func LocateDeployments(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	for _, sub := range layout.Subdirs(path) {
		if !strings.HasPrefix(strings.ToLower(filepath.Base(sub)), "jboss") {
			continue
		}
		if p := filepath.Join(sub, "standalone", "deployments"); layout.IsDir(p) {
			return p, true
		}
	}
	for _, f := range deploymentFolders {
		if p := filepath.Join(path, f); layout.IsDir(p) {
			return p, true
		}
	}
	return "", false
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
