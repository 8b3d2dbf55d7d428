package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - Linux:   $XDG_CONFIG_HOME/wfmenu/ or ~/.config/wfmenu/
//   - macOS:   ~/Library/Application Support/wfmenu/
//
// Wayfire only runs on Linux and the BSDs; the others fall back to the XDG
// layout.
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSConfigDir()
	default:
		return xdgConfigDir()
	}
}

func macOSConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Application Support", "wfmenu")
}

func xdgConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "wfmenu")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "wfmenu")
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"yaml",
		"yml",
		"json",
		"jsonc",
	}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	// Search order:
	// 1. Current directory
	// 2. Config directory
	searchDirs := []string{
		".",
		PlatformConfigDir(),
	}

	for _, dir := range searchDirs {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}
