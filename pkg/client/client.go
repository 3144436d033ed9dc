// Package client is a Go client for the serverctl REST API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/serverctl"
)

// DefaultBaseURL matches the daemon's default listen address and base path.
const DefaultBaseURL = "http://localhost:8090/api"

// Client provides HTTP client functionality to communicate with a serverctl daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ServerName string // Server name for verification
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// New creates a new API client. It fails only when the TLS material cannot be loaded.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		return tlsConfig, nil
	}
	if config.TLS.ServerName != "" {
		tlsConfig.ServerName = config.TLS.ServerName
	}
	if config.TLS.CACert != "" {
		if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath) // #nosec G304 operator-supplied path
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return errors.New("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/extractions", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Servers lists installations known to the daemon.
func (c *Client) Servers(ctx context.Context) ([]serverctl.Descriptor, error) {
	var out []serverctl.Descriptor
	err := c.doJSON(ctx, http.MethodGet, "/servers", nil, &out)
	return out, err
}

// Running reports the process on the daemon's configured port.
func (c *Client) Running(ctx context.Context) (RunningResponse, error) {
	var out RunningResponse
	err := c.doJSON(ctx, http.MethodGet, "/servers/running", nil, &out)
	return out, err
}

// Start launches the named installation.
func (c *Client) Start(ctx context.Context, name string) (StartResponse, error) {
	var out StartResponse
	err := c.doJSON(ctx, http.MethodPost, "/servers/"+url.PathEscape(name)+"/start", nil, &out)
	return out, err
}

// Status reports the deployment status of the named installation.
func (c *Client) Status(ctx context.Context, name string) (ServerStatus, error) {
	var out ServerStatus
	err := c.doJSON(ctx, http.MethodGet, "/servers/"+url.PathEscape(name)+"/status", nil, &out)
	return out, err
}

// Stop frees a port. A 202 response (confirmation pending) is not an error.
func (c *Client) Stop(ctx context.Context, req StopRequest) (StopResponse, error) {
	q := url.Values{}
	if req.Timeout > 0 {
		q.Set("timeout", strconv.Itoa(req.Timeout))
	}
	if req.Confirm {
		q.Set("confirm", "true")
	}
	path := "/servers/" + strconv.Itoa(req.Port) + "/stop"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out StopResponse
	err := c.doJSON(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

// ForceStop runs the stop ladder with the minimum timeout.
func (c *Client) ForceStop(ctx context.Context, port int) (StopResponse, error) {
	var out StopResponse
	err := c.doJSON(ctx, http.MethodPost, "/servers/"+strconv.Itoa(port)+"/stop/force", nil, &out)
	return out, err
}

// StopInfo previews what a stop on port would terminate.
func (c *Client) StopInfo(ctx context.Context, port int) (serverctl.StopInfo, error) {
	var out serverctl.StopInfo
	err := c.doJSON(ctx, http.MethodGet, "/servers/"+strconv.Itoa(port)+"/stop/info", nil, &out)
	return out, err
}

// SubmitExtraction queues an archive that already sits on the daemon host.
func (c *Client) SubmitExtraction(ctx context.Context, zipPath string) (FileResponse, error) {
	data, err := json.Marshal(map[string]string{"zipFilePath": zipPath})
	if err != nil {
		return FileResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	var out FileResponse
	err = c.do(ctx, http.MethodPost, "/files/extract-async", bytes.NewReader(data), "application/json", &out)
	return out, err
}

// UploadAndExtract streams an archive to the daemon and queues its extraction.
func (c *Client) UploadAndExtract(ctx context.Context, fileName string, r io.Reader) (FileResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", fileName)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()
	var out FileResponse
	err := c.do(ctx, http.MethodPost, "/files/upload-and-extract", pr, mw.FormDataContentType(), &out)
	_ = pr.Close()
	return out, err
}

// Extractions lists every task the daemon holds.
func (c *Client) Extractions(ctx context.Context) ([]serverctl.Task, error) {
	var out []serverctl.Task
	err := c.doJSON(ctx, http.MethodGet, "/files/extractions", nil, &out)
	return out, err
}

// ExtractionStatus fetches one task snapshot.
func (c *Client) ExtractionStatus(ctx context.Context, id string) (serverctl.Task, error) {
	var out serverctl.Task
	err := c.doJSON(ctx, http.MethodGet, "/files/extraction-status/"+url.PathEscape(id), nil, &out)
	return out, err
}

// CleanupExtraction removes a finished task.
func (c *Client) CleanupExtraction(ctx context.Context, id string) (FileResponse, error) {
	var out FileResponse
	err := c.doJSON(ctx, http.MethodDelete, "/files/extraction-status/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	return c.do(ctx, method, path, r, "application/json", out)
}

// do performs the request, treats any 2xx as success and decodes into out.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var er ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&er)
	msg := er.Error
	if msg == "" {
		msg = er.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", msg, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
