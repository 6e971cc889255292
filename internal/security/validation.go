// Package security provides path and URL validation used before touching the
// filesystem or spawning git with catalog-supplied values.
package security

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// ValidateRepositoryURL validates a plugin repository URL taken from the catalog.
// Only https:// and git:// URLs pointing at public hosts are accepted.
func ValidateRepositoryURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("empty repository URL")
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid repository URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && scheme != "git" {
		return fmt.Errorf("invalid repository URL protocol (only https:// and git:// allowed): %s", scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("repository URL must have a hostname")
	}

	host := strings.ToLower(parsed.Hostname())
	if isLocalOrPrivateHost(host) {
		return fmt.Errorf("repository URL cannot point to local or private hosts: %s", host)
	}

	// A leading dash would be read by git as an option.
	if strings.HasPrefix(urlStr, "-") {
		return fmt.Errorf("repository URL cannot start with '-'")
	}

	return nil
}

// ValidateRelativePath validates a repository-relative file path before it is
// joined onto a plugin directory.
func ValidateRelativePath(filePath, baseDir string) error {
	if filePath == "" {
		return fmt.Errorf("empty file path")
	}

	if filepath.IsAbs(filePath) || strings.HasPrefix(filePath, "/") {
		return fmt.Errorf("absolute paths are not allowed: %s", filePath)
	}

	for _, part := range strings.Split(filepath.ToSlash(filePath), "/") {
		if part == ".." {
			return fmt.Errorf("file path contains directory traversal (..): %s", filePath)
		}
	}

	return ValidateWithin(filepath.Join(baseDir, filePath), baseDir)
}

// ValidateWithin ensures path resolves to baseDir or somewhere below it.
func ValidateWithin(path, baseDir string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	absBase, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return fmt.Errorf("invalid base directory: %w", err)
	}

	if absPath != absBase && !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return fmt.Errorf("path %s escapes %s", path, baseDir)
	}

	return nil
}

// ValidatePluginName rejects names that cannot safely be used as a directory
// name or a git argument.
func ValidatePluginName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid plugin name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("plugin name %q contains a path separator", name)
	case strings.HasPrefix(name, "-"):
		return fmt.Errorf("plugin name %q cannot start with '-'", name)
	}
	return nil
}

// isLocalOrPrivateHost checks if a hostname is localhost or a private IP.
func isLocalOrPrivateHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}

	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return false
	}

	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
