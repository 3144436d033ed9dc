package extract

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxUploadBytes caps uploads at 5 GiB.
const DefaultMaxUploadBytes int64 = 5 << 30

var (
	ErrInvalidUpload  = errors.New("invalid upload")
	ErrUploadTooLarge = errors.New("upload exceeds maximum size")
)

// SanitizeUploadName reduces a client supplied file name to a bare base name
// and insists on a .zip extension.
func SanitizeUploadName(name string) (string, error) {
	n := strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if i := strings.LastIndex(n, "/"); i >= 0 {
		n = n[i+1:]
	}
	if n == "" || n == "." || n == ".." {
		return "", fmt.Errorf("%w: file name cannot be empty", ErrInvalidUpload)
	}
	if !strings.EqualFold(filepath.Ext(n), ".zip") {
		return "", fmt.Errorf("%w: only ZIP files are allowed", ErrInvalidUpload)
	}
	return n, nil
}

// Upload stores r under the upload directory as name, replacing any existing
// file of that name, and returns the stored path.
func (e *Engine) Upload(name string, r io.Reader) (string, error) {
	if e.uploadDir == "" {
		return "", fmt.Errorf("%w: upload directory not configured", ErrInvalidUpload)
	}
	base, err := SanitizeUploadName(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.uploadDir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(e.uploadDir, ".upload-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	fail := func(err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}

	limit := e.maxUpload
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if err != nil {
		return fail(err)
	}
	if n == 0 {
		return fail(fmt.Errorf("%w: file cannot be empty", ErrInvalidUpload))
	}
	if n > limit {
		return fail(fmt.Errorf("%w: limit is %d bytes", ErrUploadTooLarge, limit))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	dst := filepath.Join(e.uploadDir, base)
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	slog.Info("Uploaded archive", "name", base, "path", dst, "bytes", n)
	return dst, nil
}

// SubmitUpload stores the archive and queues its extraction.
func (e *Engine) SubmitUpload(name string, r io.Reader) (id string, path string, err error) {
	path, err = e.Upload(name, r)
	if err != nil {
		return "", "", err
	}
	id, err = e.Submit(path)
	if err != nil {
		return "", path, err
	}
	return id, path, nil
}
