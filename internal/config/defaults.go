package config

import (
	"os"
	"path/filepath"
)

// Directory layout below the data directory.
const (
	// DataDirName is the default data directory, relative to the working
	// directory.
	DataDirName = ".crumbeez"

	// ScratchpadDirName holds the durable log snapshot.
	ScratchpadDirName = "scratchpad"

	// SummariesDirName holds the Markdown journal.
	SummariesDirName = "summaries"
)

// DataDir returns the crumbeez data directory: CRUMBEEZ_DATA_DIR when set,
// otherwise .crumbeez in the working directory.
func DataDir() string {
	if envDir := os.Getenv("CRUMBEEZ_DATA_DIR"); envDir != "" {
		return envDir
	}
	return DataDirName
}

// UserConfigDir returns the per-user configuration directory, or "" when the
// platform has none.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/crumbeez/
//   - Linux:   $XDG_CONFIG_HOME/crumbeez/ or ~/.config/crumbeez/
//   - Windows: %APPDATA%\crumbeez\
func UserConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "crumbeez")
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	// Search order:
	// 1. Data directory
	// 2. User config directory
	searchDirs := []string{DataDir()}
	if dir := UserConfigDir(); dir != "" {
		searchDirs = append(searchDirs, dir)
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
