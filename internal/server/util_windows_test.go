package server

import "path/filepath"

// getPlatformAbsPath returns a clean absolute archive path on windows.
func getPlatformAbsPath() string {
	return filepath.Join("C:\\", "srv", "app.zip")
}
