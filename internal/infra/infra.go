// Package infra provides low-level infrastructure utilities.
package infra

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// RuntimeInfo contains information about the current runtime environment.
type RuntimeInfo struct {
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	NumCPU    int    `json:"numCPU"`
}

// GetRuntimeInfo returns information about the current runtime.
func GetRuntimeInfo() RuntimeInfo {
	return RuntimeInfo{
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
	}
}

// IsTruthyEnv checks if an environment variable is set to a truthy value.
func IsTruthyEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

// PrintBanner writes the clawdeck startup banner to w.
func PrintBanner(w io.Writer, version, transport, panelAddr string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  🦞 clawdeck — panel bridge for the OpenClaw agent")
	fmt.Fprintf(w, "     version:   %s\n", version)
	fmt.Fprintf(w, "     transport: %s\n", transport)
	fmt.Fprintf(w, "     panel:     %s\n", panelAddr)
	fmt.Fprintf(w, "     runtime:   %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintln(w)
}
