//go:build !windows

package server

import "path/filepath"

// getPlatformAbsPath returns a clean absolute archive path on unix.
func getPlatformAbsPath() string {
	return filepath.Join(string(filepath.Separator), "srv", "app.zip")
}
