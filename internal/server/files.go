package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/loykin/serverctl/internal/extract"
)

type uploadResp struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	FilePath  string `json:"filePath,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	FileSize  int64  `json:"fileSize,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	StatusURL string `json:"statusUrl,omitempty"`
}

type extractReq struct {
	ZipFilePath string `json:"zipFilePath"`
}

func (r *Router) statusURL(id string) string {
	return r.basePath + "/files/extraction-status/" + id
}

func (r *Router) handleUpload(c *gin.Context) {
	r.upload(c, false)
}

func (r *Router) handleUploadAndExtract(c *gin.Context) {
	r.upload(c, true)
}

func (r *Router) upload(c *gin.Context, extract bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		writeJSON(c, http.StatusBadRequest, uploadResp{Message: "multipart field 'file' is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeJSON(c, http.StatusBadRequest, uploadResp{Message: err.Error()})
		return
	}
	defer func() { _ = f.Close() }()

	resp := uploadResp{Success: true, FileName: fh.Filename, FileSize: fh.Size}
	if extract {
		id, path, err := r.orc.UploadAndExtract(fh.Filename, f)
		if err != nil {
			writeJSON(c, statusFor(err), uploadResp{Message: err.Error(), FilePath: path})
			return
		}
		resp.Message = "File uploaded, extraction task started"
		resp.FilePath, resp.TaskID, resp.StatusURL = path, id, r.statusURL(id)
		writeJSON(c, http.StatusAccepted, resp)
		return
	}
	path, err := r.orc.Upload(fh.Filename, f)
	if err != nil {
		writeJSON(c, statusFor(err), uploadResp{Message: err.Error()})
		return
	}
	resp.Message = "File uploaded successfully"
	resp.FilePath = path
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleExtractAsync(c *gin.Context) {
	var req extractReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, uploadResp{Message: "invalid JSON: " + err.Error()})
		return
	}
	p := strings.TrimSpace(req.ZipFilePath)
	if p == "" {
		writeJSON(c, http.StatusBadRequest, uploadResp{Message: "zipFilePath is required"})
		return
	}
	if !validArchivePath(p) {
		writeJSON(c, http.StatusBadRequest, uploadResp{Message: "zipFilePath must be an absolute path without traversal"})
		return
	}
	id, err := r.orc.SubmitExtraction(p)
	if err != nil {
		writeJSON(c, statusFor(err), uploadResp{Message: "Failed to start extraction: " + err.Error()})
		return
	}
	writeJSON(c, http.StatusAccepted, uploadResp{
		Success:   true,
		Message:   "Extraction task started",
		FilePath:  p,
		TaskID:    id,
		StatusURL: r.statusURL(id),
	})
}

func (r *Router) handleExtractions(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.orc.Extractions())
}

func (r *Router) handleExtractionStatus(c *gin.Context) {
	t, ok := r.orc.ExtractionStatus(c.Param("id"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "extraction task not found"})
		return
	}
	writeJSON(c, http.StatusOK, t)
}

// handleExtractionCleanup is a no-op for unknown and in-flight tasks; both
// answer 200 with success=false.
func (r *Router) handleExtractionCleanup(c *gin.Context) {
	err := r.orc.CleanupExtraction(c.Param("id"))
	switch {
	case errors.Is(err, extract.ErrTaskNotFound):
		writeJSON(c, http.StatusOK, uploadResp{Message: "Task not found, nothing to clean up"})
		return
	case errors.Is(err, extract.ErrTaskActive):
		writeJSON(c, http.StatusOK, uploadResp{Message: "Task is still in progress and was kept"})
		return
	case err != nil:
		writeJSON(c, statusFor(err), uploadResp{Message: "Failed to cleanup task: " + err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, uploadResp{Success: true, Message: "Task cleaned up successfully"})
}
