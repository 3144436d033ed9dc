package control

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/serverctl/internal/layout"
)

// ScriptName returns the startup script for goos.
func ScriptName(goos string) string {
	if goos == "windows" {
		return "standalone.bat"
	}
	return "standalone.sh"
}

// FindScript locates <vendor>*/bin/<script> directly under installPath, then
// one level deeper inside each subdirectory. Directories are visited in
// lexical order and the first regular file found wins.
func FindScript(installPath, vendorPrefix, script string) (string, error) {
	if !layout.IsDir(installPath) {
		return "", fmt.Errorf("%w: %s: install path is not a directory", ErrScriptNotFound, installPath)
	}
	if p, ok := layout.FindInVendor(installPath, vendorPrefix, filepath.Join("bin", script), isRegular); ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s not found in any %s* folder of %s", ErrScriptNotFound, script, vendorPrefix, installPath)
}

func isRegular(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}
