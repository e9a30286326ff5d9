package metrics

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// HostInfo describes the machine the service runs on
type HostInfo struct {
	Hostname         string
	OS               string
	Arch             string
	GoVersion        string
	CPULogical       int
	TotalMemoryMB    uint64
	InContainer      bool
	ContainerRuntime string
}

// CaptureHostInfo gathers host details for the startup log and the host_info gauge
func CaptureHostInfo() HostInfo {
	info := HostInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPULogical: runtime.NumCPU(),
		GoVersion:  runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	} else {
		info.Hostname = "unknown"
	}

	info.InContainer, info.ContainerRuntime = detectContainer()
	info.TotalMemoryMB = linuxMemoryMB()

	return info
}

// detectContainer checks if running in a container
func detectContainer() (bool, string) {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true, "docker"
	}

	if _, err := os.Stat("/var/run/secrets/kubernetes.io"); err == nil {
		return true, "kubernetes"
	}

	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "docker"):
			return true, "docker"
		case strings.Contains(content, "kubepods"):
			return true, "kubernetes"
		case strings.Contains(content, "containerd"):
			return true, "containerd"
		}
	}

	return false, ""
}

// linuxMemoryMB reads MemTotal; 0 on other platforms
func linuxMemoryMB() uint64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		var memKB uint64
		if _, err := fmt.Sscanf(fields[1], "%d", &memKB); err == nil {
			return memKB / 1024
		}
	}
	return 0
}

// LogArgs flattens the info into slog key/value pairs
func (h HostInfo) LogArgs() []any {
	return []any{
		"hostname", h.Hostname,
		"os", h.OS,
		"arch", h.Arch,
		"go", h.GoVersion,
		"cpus", h.CPULogical,
		"memory_mb", h.TotalMemoryMB,
		"container", h.ContainerRuntime,
	}
}
