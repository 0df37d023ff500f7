package util

import (
	"net"
	"os"
	"runtime"
	"strings"
)

// SystemInfo describes the host the agent runs on.
type SystemInfo struct {
	OS        string
	OSVersion string
	Arch      string
	Hostname  string
	NumCPU    int
}

// String renders the info as the single os_info line sent on register.
func (s SystemInfo) String() string {
	version := s.OSVersion
	if version == "" {
		version = s.OS
	}
	return version + " (" + s.Arch + ")"
}

// GetSystemInfo returns detailed system information
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:     runtime.GOOS,
		Arch:   runtime.GOARCH,
		NumCPU: runtime.NumCPU(),
	}
	info.Hostname, _ = os.Hostname()
	info.OSVersion = osVersion("/etc/os-release")
	return info
}

// osVersion reads PRETTY_NAME (or NAME VERSION) from an os-release file.
func osVersion(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return runtime.GOOS
	}

	var prettyName, name, version string
	for _, line := range strings.Split(string(data), "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		val = strings.Trim(val, `"'`)
		switch key {
		case "PRETTY_NAME":
			prettyName = val
		case "NAME":
			name = val
		case "VERSION":
			version = val
		}
	}

	switch {
	case prettyName != "":
		return prettyName
	case name != "" && version != "":
		return name + " " + version
	case name != "":
		return name
	}
	return runtime.GOOS
}

// LocalIP returns the first non-loopback IPv4 address of an interface that
// is up, or "" when none is found.
func LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil && !ip4.IsLinkLocalUnicast() {
				return ip4.String()
			}
		}
	}
	return ""
}
