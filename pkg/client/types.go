package client

import "github.com/loykin/serverctl"

// StopRequest selects the port to free and how.
type StopRequest struct {
	Port    int
	Timeout int  // seconds, 0 uses the daemon's configured stop timeout
	Confirm bool // answer a batch-job prompt instead of stopping at it
}

// StartResponse is returned by the start endpoint.
type StartResponse struct {
	Message string                 `json:"message"`
	Result  *serverctl.StartResult `json:"result,omitempty"`
}

// StopResponse is returned by the stop and force-stop endpoints.
type StopResponse struct {
	Message string                `json:"message"`
	Result  *serverctl.StopResult `json:"result,omitempty"`
}

// RunningResponse describes the process on the daemon's configured port.
type RunningResponse struct {
	Running bool   `json:"running"`
	Message string `json:"message,omitempty"`
	Name    string `json:"name,omitempty"`
	Path    string `json:"path,omitempty"`
	PID     int64  `json:"pid,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// ServerStatus is the per-installation status report.
type ServerStatus struct {
	ServerName         string                     `json:"server_name"`
	ServerPath         string                     `json:"server_path,omitempty"`
	Exists             bool                       `json:"exists"`
	Message            string                     `json:"message"`
	AvailableServers   []string                   `json:"available_servers,omitempty"`
	StartupStatus      serverctl.DeploymentStatus `json:"startup_status,omitempty"`
	ProcessID          *int64                     `json:"process_id,omitempty"`
	IsRunning          bool                       `json:"is_running"`
	IsStarted          bool                       `json:"is_started"`
	DeploymentDetails  *serverctl.Details         `json:"deployment_details,omitempty"`
	StartupScriptFound bool                       `json:"startup_script_found"`
	StartupScriptPath  string                     `json:"startup_script_path,omitempty"`
}

// FileResponse is returned by the upload and extraction endpoints.
type FileResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	FilePath  string `json:"filePath,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	FileSize  int64  `json:"fileSize,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	StatusURL string `json:"statusUrl,omitempty"`
}

// ErrorResponse represents an API error response. File endpoints report the
// failure in Message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
