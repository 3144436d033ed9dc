package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// sanitizeBase normalises a mount prefix to "" or "/x" without a trailing slash.
func sanitizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// validServerName accepts installation directory names only: [A-Za-z0-9._-],
// no "..", so a name can never walk out of the base directory.
func validServerName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// validArchivePath requires an absolute path that filepath.Clean leaves
// unchanged apart from trailing separators.
func validArchivePath(p string) bool {
	if p == "" || !filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	trimmed := strings.TrimRight(p, string(filepath.Separator))
	return clean == p || clean == trimmed
}

func portParam(c *gin.Context) (int, bool) {
	raw := c.Param("id")
	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > 65535 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "Invalid port number: " + raw})
		return 0, false
	}
	return port, true
}

func nameParam(c *gin.Context) (string, bool) {
	name := c.Param("id")
	if !validServerName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server name: allowed [A-Za-z0-9._-] and no '..'"})
		return "", false
	}
	return name, true
}

func writeErr(c *gin.Context, err error) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
