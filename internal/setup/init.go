// Package setup handles restfile project initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/msageha/restfile/internal/model"
	"github.com/msageha/restfile/internal/state"
	atomicyaml "github.com/msageha/restfile/internal/yaml"
	"github.com/msageha/restfile/templates"
)

// DirName is the restfile directory created inside a project.
const DirName = ".restfile"

// Run initializes the .restfile/ directory structure in projectDir and
// returns its absolute path.
func Run(projectDir string) (string, error) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, DirName)

	if _, err := os.Stat(base); err == nil {
		return "", fmt.Errorf("%s already exists", base)
	}

	dirs := []string{
		state.ResultsDir,
		"locks",
		"logs",
		"quarantine",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	data, err := defaultConfig()
	if err != nil {
		return "", err
	}
	if err := atomicyaml.AtomicWriteRaw(filepath.Join(base, model.ConfigFileName), data); err != nil {
		return "", fmt.Errorf("write %s: %w", model.ConfigFileName, err)
	}

	return base, nil
}

// defaultConfig returns the embedded config after checking it still validates.
func defaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(templates.FS, model.ConfigFileName)
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}
	cfg, err := model.ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config template: %w", err)
	}
	if _, err := cfg.BuildCommands(); err != nil {
		return nil, fmt.Errorf("config template: %w", err)
	}
	return data, nil
}

// Find walks up from start looking for a .restfile directory.
func Find(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", start, err)
	}
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found in %s or any parent; run: restfile setup", DirName, start)
		}
		dir = parent
	}
}
