package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/serverctl"
	"github.com/loykin/serverctl/internal/control"
	"github.com/loykin/serverctl/internal/deployment"
	"github.com/loykin/serverctl/internal/extract"
	"github.com/loykin/serverctl/internal/scanner"
)

// Router provides embeddable HTTP handlers over an Orchestrator.
// Endpoints, relative to basePath:
//
//	GET    /servers                          scanned installations
//	GET    /servers/running                  process owning the configured port
//	POST   /servers/{name}/start
//	GET    /servers/{name}/status
//	GET    /servers/{name}/deployments
//	POST   /servers/{port}/stop              query: timeout=300&confirm=false
//	GET    /servers/{port}/stop/info
//	GET    /servers/{port}/stop/cancel
//	POST   /servers/{port}/stop/force
//	POST   /files/upload                     multipart field "file"
//	POST   /files/upload-and-extract         multipart field "file"
//	POST   /files/extract-async              body: {"zipFilePath": "..."}
//	GET    /files/extractions
//	GET    /files/extraction-status/{id}
//	DELETE /files/extraction-status/{id}
type Router struct {
	orc      *serverctl.Orchestrator
	basePath string
	metrics  http.Handler
}

// NewRouter constructs a Router. basePath may be empty or start with '/'.
func NewRouter(orc *serverctl.Orchestrator, basePath string) *Router {
	return &Router{orc: orc, basePath: sanitizeBase(basePath)}
}

// WithMetrics mounts h at {basePath}/metrics.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)

	servers := group.Group("/servers")
	servers.GET("", r.handleList)
	servers.GET("/running", r.handleRunning)
	servers.POST("/:id/start", r.handleStart)
	servers.GET("/:id/status", r.handleStatus)
	servers.GET("/:id/deployments", r.handleDeployments)
	servers.POST("/:id/stop", r.handleStop)
	servers.GET("/:id/stop/info", r.handleStopInfo)
	servers.GET("/:id/stop/cancel", r.handleStopCancel)
	servers.POST("/:id/stop/force", r.handleForceStop)

	files := group.Group("/files")
	files.POST("/upload", r.handleUpload)
	files.POST("/upload-and-extract", r.handleUploadAndExtract)
	files.POST("/extract-async", r.handleExtractAsync)
	files.GET("/extractions", r.handleExtractions)
	files.GET("/extraction-status/:id", r.handleExtractionStatus)
	files.DELETE("/extraction-status/:id", r.handleExtractionCleanup)

	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer builds a standalone HTTP server on addr around a Router.
func NewServer(addr, basePath string, orc *serverctl.Orchestrator, metrics http.Handler) *http.Server {
	r := NewRouter(orc, basePath).WithMetrics(metrics)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type messageResp struct {
	Message string `json:"message"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scanner.ErrServerNotFound), errors.Is(err, extract.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, control.ErrInvalidArgument), errors.Is(err, extract.ErrInvalidUpload),
		errors.Is(err, control.ErrScriptNotFound):
		return http.StatusBadRequest
	case errors.Is(err, extract.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, serverctl.ErrPortBusy), errors.Is(err, extract.ErrTaskActive):
		return http.StatusConflict
	case errors.Is(err, extract.ErrQueueFull), errors.Is(err, extract.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) handleList(c *gin.Context) {
	descs, err := r.orc.Scan(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, descs)
}

type runningResp struct {
	IsRunning bool   `json:"running"`
	Message   string `json:"message,omitempty"`
	Name      string `json:"name,omitempty"`
	Path      string `json:"path,omitempty"`
	*serverctl.Running
}

func (r *Router) handleRunning(c *gin.Context) {
	run, ok, err := r.orc.Running(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	port := r.orc.Config().Servers.Port
	if !ok {
		writeJSON(c, http.StatusOK, runningResp{Message: fmt.Sprintf("No server is running on port %d", port)})
		return
	}
	resp := runningResp{IsRunning: true, Name: "Unknown Server", Path: "Unknown Path", Running: &run}
	if run.Descriptor != nil {
		resp.Name, resp.Path = run.Descriptor.Name, run.Descriptor.Path
	}
	writeJSON(c, http.StatusOK, resp)
}

type startResp struct {
	Message string                 `json:"message"`
	Result  *serverctl.StartResult `json:"result,omitempty"`
}

func (r *Router) handleStart(c *gin.Context) {
	name, ok := nameParam(c)
	if !ok {
		return
	}
	res, err := r.orc.Start(c.Request.Context(), name)
	switch {
	case errors.Is(err, serverctl.ErrAlreadyRunning):
		writeJSON(c, http.StatusOK, startResp{Message: fmt.Sprintf("Server '%s' is already running", name)})
	case err != nil:
		writeErr(c, err)
	default:
		writeJSON(c, http.StatusOK, startResp{
			Message: fmt.Sprintf("Server '%s' started successfully (PID: %d)", name, res.PID),
			Result:  &res,
		})
	}
}

type statusResp struct {
	ServerName         string                     `json:"server_name"`
	ServerPath         string                     `json:"server_path,omitempty"`
	Exists             bool                       `json:"exists"`
	Message            string                     `json:"message"`
	AvailableServers   []string                   `json:"available_servers,omitempty"`
	StartupStatus      serverctl.DeploymentStatus `json:"startup_status,omitempty"`
	ProcessID          *int64                     `json:"process_id,omitempty"`
	Port               int                        `json:"port,omitempty"`
	IsRunning          bool                       `json:"is_running"`
	IsStarted          bool                       `json:"is_started"`
	CommandLine        string                     `json:"command_line,omitempty"`
	WorkingDirectory   string                     `json:"working_directory,omitempty"`
	DeploymentDetails  *serverctl.Details         `json:"deployment_details,omitempty"`
	StartupScriptFound bool                       `json:"startup_script_found"`
	StartupScriptPath  string                     `json:"startup_script_path,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	name, ok := nameParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	st, err := r.orc.StartupStatus(ctx, name)
	if errors.Is(err, scanner.ErrServerNotFound) {
		resp := statusResp{ServerName: name, Message: fmt.Sprintf("Server '%s' not found", name)}
		if descs, err := r.orc.Scan(ctx); err == nil {
			for _, d := range descs {
				resp.AvailableServers = append(resp.AvailableServers, d.Name)
			}
		}
		writeJSON(c, http.StatusNotFound, resp)
		return
	}
	if err != nil {
		writeErr(c, err)
		return
	}

	details, err := r.orc.DeploymentDetails(name)
	if err != nil {
		writeErr(c, err)
		return
	}
	resp := statusResp{
		ServerName:        name,
		Exists:            true,
		StartupStatus:     st,
		Port:              r.orc.Config().Servers.Port,
		DeploymentDetails: &details,
	}
	if a, ok, err := r.orc.ResolveActive(ctx); err == nil && ok && a.Descriptor != nil && a.Descriptor.Name == name {
		pid := a.PID
		resp.ProcessID = &pid
		resp.ServerPath = a.Descriptor.Path
		resp.CommandLine = a.CommandLine
		resp.WorkingDirectory = a.WorkingDirectory
	}
	running := resp.ProcessID != nil
	switch st {
	case deployment.StatusStarting:
		resp.IsRunning, resp.IsStarted = true, false
		resp.Message = fmt.Sprintf("Server '%s' is starting up - deployments are still being processed", name)
	case deployment.StatusRunning:
		resp.IsRunning, resp.IsStarted = true, true
		resp.Message = fmt.Sprintf("Server '%s' is fully started and running successfully", name)
	case deployment.StatusStopped:
		resp.Message = fmt.Sprintf("Server '%s' is not running", name)
	case deployment.StatusUnknown:
		resp.IsRunning = running
		resp.Message = fmt.Sprintf("Server '%s' process status unclear - cannot access deployment information", name)
	default:
		resp.IsRunning = running
		resp.Message = fmt.Sprintf("Server '%s' status: %s", name, st)
	}
	if p, found, err := r.orc.StartupScript(name); err == nil {
		resp.StartupScriptFound, resp.StartupScriptPath = found, p
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleDeployments(c *gin.Context) {
	name, ok := nameParam(c)
	if !ok {
		return
	}
	d, err := r.orc.DeploymentDetails(name)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type stopResp struct {
	Message string                `json:"message"`
	Result  *serverctl.StopResult `json:"result,omitempty"`
}

func (r *Router) handleStop(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}
	timeout := r.orc.Config().Servers.StopTimeout
	if v := c.Query("timeout"); v != "" {
		t, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "timeout must be an integer number of seconds"})
			return
		}
		timeout = t
	}
	confirm, _ := strconv.ParseBool(c.DefaultQuery("confirm", "false"))
	if err := control.ValidateStop(port, timeout); err != nil {
		writeErr(c, err)
		return
	}

	ctx := c.Request.Context()
	info, err := r.orc.StopInfo(ctx, port)
	if err != nil {
		writeErr(c, err)
		return
	}
	if info.PID == nil {
		writeJSON(c, http.StatusOK, stopResp{Message: info.Message})
		return
	}
	res, err := r.orc.Stop(ctx, port, timeout, !confirm)
	if err != nil {
		writeErr(c, err)
		return
	}
	switch {
	case res.NothingToDo:
		writeJSON(c, http.StatusOK, stopResp{Message: fmt.Sprintf("No server is running on port %d", port), Result: &res})
	case !res.Stopped:
		writeJSON(c, http.StatusInternalServerError, stopResp{
			Message: fmt.Sprintf("Failed to shutdown server '%s' on port %d (PID: %d) within %d seconds timeout", info.ServerName, port, res.PID, timeout),
			Result:  &res,
		})
	case res.ConfirmationRequired:
		writeJSON(c, http.StatusAccepted, stopResp{
			Message: fmt.Sprintf("Server '%s' (PID: %d) has completed shutdown process.\nTerminate batch job (Y/N)? "+
				"\nTo confirm termination, call: POST %s/servers/%d/stop?confirm=true"+
				"\nOr to cancel and potentially restart, call: GET %s/servers/%d/stop/cancel",
				info.ServerName, res.PID, r.basePath, port, r.basePath, port),
			Result: &res,
		})
	default:
		writeJSON(c, http.StatusOK, stopResp{
			Message: fmt.Sprintf("Server '%s' on port %d (PID: %d) terminated successfully", info.ServerName, port, res.PID),
			Result:  &res,
		})
	}
}

func (r *Router) handleStopInfo(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}
	info, err := r.orc.StopInfo(c.Request.Context(), port)
	if err != nil {
		writeErr(c, err)
		return
	}
	if info.ConfirmationEndpoint != "" {
		info.ConfirmationEndpoint = r.basePath + info.ConfirmationEndpoint
	}
	writeJSON(c, http.StatusOK, info)
}

func (r *Router) handleStopCancel(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: fmt.Sprintf(
		"Termination cancelled for port %d. Note: Server may have already shutdown gracefully and would need to be manually restarted if needed.", port)})
}

func (r *Router) handleForceStop(c *gin.Context) {
	port, ok := portParam(c)
	if !ok {
		return
	}
	res, err := r.orc.ForceStop(c.Request.Context(), port)
	if err != nil {
		writeErr(c, err)
		return
	}
	switch {
	case res.NothingToDo:
		writeJSON(c, http.StatusOK, stopResp{Message: fmt.Sprintf("No server is running on port %d", port), Result: &res})
	case res.Stopped:
		writeJSON(c, http.StatusOK, stopResp{Message: fmt.Sprintf("Server on port %d (PID: %d) force stopped successfully", port, res.PID), Result: &res})
	default:
		writeJSON(c, http.StatusInternalServerError, stopResp{Message: fmt.Sprintf("Failed to force stop server on port %d (PID: %d)", port, res.PID), Result: &res})
	}
}
