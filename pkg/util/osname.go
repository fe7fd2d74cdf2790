package util

import (
	"runtime"
	"strings"
)

func checkOSField(ff string) string {
	switch {
	case strings.Contains(ff, "Linux"):
		return "Linux"
	case strings.Contains(ff, "Win"):
		return "Windows"
	case strings.Contains(ff, "Mac"):
		return "MacOS"
	case strings.Contains(ff, "X11"):
		return "UNIX"
	}
	return ""
}

//OSNameFromUserAgent guesses the client OS from a platform or User-Agent string
func OSNameFromUserAgent(platform, userAgent string, lowerCase bool) string {
	name := checkOSField(platform)
	if name == "" {
		name = checkOSField(userAgent)
	}
	if name == "" {
		name = "Unknown OS"
	}
	if lowerCase {
		return strings.ToLower(name)
	}
	return name
}

//HostOSName returns the name of the OS the dashboard runs on, with the same naming as OSNameFromUserAgent
func HostOSName(lowerCase bool) string {
	var name string
	switch runtime.GOOS {
	case "linux":
		name = "Linux"
	case "windows":
		name = "Windows"
	case "darwin":
		name = "MacOS"
	case "freebsd", "openbsd", "netbsd", "solaris":
		name = "UNIX"
	default:
		name = "Unknown OS"
	}
	if lowerCase {
		return strings.ToLower(name)
	}
	return name
}
