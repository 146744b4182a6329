// Package sysinfo gathers the host facts an anchor publishes with every
// heartbeat.
package sysinfo

import (
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type Info struct {
	Hostname      string   `json:"hostname"`
	OS            string   `json:"os"`
	OSVersion     string   `json:"os_version,omitempty"`
	Arch          string   `json:"arch"`
	CPUCount      int      `json:"cpu_count"`
	GoVersion     string   `json:"go_version"`
	PID           int      `json:"pid"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	ActiveTools   []string `json:"active_tools,omitempty"`
}

// Collect never fails; facts that cannot be read are left empty.
func Collect(startedAt time.Time) Info {
	info := Info{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		CPUCount:  runtime.NumCPU(),
		GoVersion: runtime.Version(),
		PID:       os.Getpid(),
		OSVersion: osVersion(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if !startedAt.IsZero() {
		info.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}

	return info
}

func osVersion() string {
	switch runtime.GOOS {
	case "linux":
		if b, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
			return strings.TrimSpace(string(b))
		}
		if out, err := exec.Command("uname", "-r").Output(); err == nil {
			return strings.TrimSpace(string(out))
		}
	case "darwin":
		if out, err := exec.Command("sw_vers", "-productVersion").Output(); err == nil {
			return strings.TrimSpace(string(out))
		}
	}
	return ""
}

// ClaimedBy identifies this process as a command claimer, as host:pid.
func ClaimedBy() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	return hostname + ":" + strconv.Itoa(os.Getpid())
}
