package util

import (
	"strings"
)

//ExpandTilde replaces a leading ~ by the home directory reported by the sync daemon
func ExpandTilde(p, tilde string) string {
	if strings.HasPrefix(p, "~") {
		return tilde + p[1:]
	}
	return p
}

//IsFullPath reports whether p is absolute on Linux (/...) or Windows (C:\... or C:/...)
func IsFullPath(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	return len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/')
}

//ResolveClientPath turns a user supplied project path into a full client path
func ResolveClientPath(p, tilde, rootDir string) string {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, "~") {
		return ExpandTilde(p, tilde)
	}
	if IsFullPath(p) {
		return p
	}
	return rootDir + "/" + p
}

//LastPathElement returns the last element of a slash separated path
func LastPathElement(p string) string {
	p = strings.TrimRight(strings.ReplaceAll(p, "\\", "/"), "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
