package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform is the detected host environment.
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL     Platform = "wsl"
	PlatformUnknown Platform = "unknown"
)

// cached detection result
var detectedPlatform Platform
var detectionDone bool

// Detect returns the current platform, caching the result.
func Detect() Platform {
	if detectionDone {
		return detectedPlatform
	}
	detectedPlatform = detectPlatform()
	detectionDone = true
	return detectedPlatform
}

func detectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "linux":
		if isWSL() {
			return PlatformWSL
		}
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

// isWSL checks for WSL signatures. WSL_DISTRO_NAME is set in every WSL
// shell; /proc/version carries a microsoft tag even when it is not.
func isWSL() bool {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return true
	}
	procVersion, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(procVersion)), "microsoft")
}

// CanNotify reports whether the host has a desktop notification path the
// bridge knows how to drive. WSL has no notification daemon by default,
// so it reads as unsupported rather than failing on every attempt.
func CanNotify() bool {
	switch Detect() {
	case PlatformMacOS, PlatformLinux:
		return true
	default:
		return false
	}
}

// String returns a human-readable platform name.
func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL:
		return "WSL"
	default:
		return "Unknown"
	}
}

// FsnotifyWarning checks whether the filesystem holding path delivers
// fsnotify events reliably. It returns a warning for network and 9p
// mounts, where config hot reload will not fire, and "" everywhere else.
func FsnotifyWarning(path string) string {
	// Only Linux mounts misbehave here (WSL reaches Windows files via 9p).
	if runtime.GOOS != "linux" {
		return ""
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return ""
	}

	// Longest mountpoint prefix wins.
	var matchedMount, matchedFsType string
	for _, line := range strings.Split(string(mounts), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if strings.HasPrefix(absPath, fields[1]) && len(fields[1]) > len(matchedMount) {
			matchedMount = fields[1]
			matchedFsType = fields[2]
		}
	}

	switch {
	case matchedFsType == "9p":
		return "config is on a 9p mount: hot reload will not fire, restart after edits"
	case matchedFsType == "nfs" || matchedFsType == "nfs4":
		return "config is on an NFS mount: hot reload may be unreliable"
	case matchedFsType == "cifs" || matchedFsType == "smbfs":
		return "config is on a CIFS/SMB mount: hot reload may be unreliable"
	case strings.HasPrefix(matchedFsType, "fuse.sshfs"):
		return "config is on an SSHFS mount: hot reload will not fire, restart after edits"
	}
	return ""
}
