// Package layout walks the on-disk layout of an installation: vendor folders
// such as jboss-eap-7.4 sit directly under the install path or one level
// below it.
package layout

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Subdirs lists the immediate subdirectories of dir, sorted by name.
// Symlinks to directories count.
func Subdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if p := filepath.Join(dir, e.Name()); IsDir(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// IsDir reports whether p exists and is a directory.
func IsDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

// FindInVendor returns the first <vendor>*/rel path under root for which
// accept holds, trying root itself and then each subdirectory of root.
// Directories are visited in lexical order.
func FindInVendor(root, vendorPrefix, rel string, accept func(string) bool) (string, bool) {
	if p, ok := inVendor(root, vendorPrefix, rel, accept); ok {
		return p, true
	}
	for _, sub := range Subdirs(root) {
		if p, ok := inVendor(sub, vendorPrefix, rel, accept); ok {
			return p, true
		}
	}
	return "", false
}

func inVendor(dir, vendorPrefix, rel string, accept func(string) bool) (string, bool) {
	for _, d := range Subdirs(dir) {
		if !strings.HasPrefix(filepath.Base(d), vendorPrefix) {
			continue
		}
		if p := filepath.Join(d, rel); accept(p) {
			return p, true
		}
	}
	return "", false
}
