package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// ServerFlags selects an installation by directory name.
type ServerFlags struct {
	Name string
}

// StopFlags Flag structs to decouple cobra from logic for testing.
type StopFlags struct {
	Port    int
	Timeout int // seconds, 0 uses servers.stop_timeout
	Confirm bool
}

// APIFlags connect to a running daemon.
type APIFlags struct {
	APIUrl      string
	APITimeout  time.Duration
	APICACert   string
	APIInsecure bool
}

// ExtractFlags drives the extract command. With APIUrl set the archive is
// queued on a running daemon instead of being extracted in-process.
type ExtractFlags struct {
	APIFlags
	ZipPath string
	Wait    time.Duration
}

// TaskFlags addresses an extraction task held by a running daemon.
type TaskFlags struct {
	APIFlags
	ID string
}
