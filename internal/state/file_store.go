package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/msageha/restfile/internal/lock"
	"github.com/msageha/restfile/internal/logging"
	"github.com/msageha/restfile/internal/model"
	yamlutil "github.com/msageha/restfile/internal/yaml"
)

// ResultsDir is where last results live, relative to the restfile directory.
const ResultsDir = "state/last_results"

// FileStore persists each command's last result to its own YAML file and
// serves reads from memory.
type FileStore struct {
	baseDir string
	dir     string
	locks   *lock.MutexMap
	mem     *MemoryStore
	logger  *logging.Logger
}

// OpenFileStore loads every existing record under baseDir. Corrupt files are
// quarantined and replaced by their backup when one is usable.
func OpenFileStore(baseDir string, logger *logging.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &FileStore{
		baseDir: baseDir,
		dir:     filepath.Join(baseDir, ResultsDir),
		locks:   lock.NewMutexMap(),
		mem:     NewMemoryStore(),
		logger:  logger,
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	results, err := readDir(baseDir, logger)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		_ = s.mem.Put(r)
	}
	return s, nil
}

func (s *FileStore) Put(r model.LastResult) error {
	path, err := resultPath(s.dir, r.Command)
	if err != nil {
		return err
	}

	s.locks.Lock(r.Command)
	defer s.locks.Unlock(r.Command)

	file := model.LastResultFile{
		SchemaVersion: yamlutil.CurrentSchemaVersion,
		FileType:      yamlutil.FileTypeLastResult,
		Result:        r,
	}
	if err := yamlutil.AtomicWrite(path, file); err != nil {
		return fmt.Errorf("write last result for %s: %w", r.Command, err)
	}
	return s.mem.Put(r)
}

func (s *FileStore) Get(command string) (model.LastResult, bool) {
	return s.mem.Get(command)
}

func (s *FileStore) List() []model.LastResult {
	return s.mem.List()
}

// ReadDir loads the persisted records under baseDir without opening a store.
// It never modifies files; corrupt records are skipped.
func ReadDir(baseDir string) ([]model.LastResult, error) {
	return readDirMode(baseDir, nil, false)
}

func readDir(baseDir string, logger *logging.Logger) ([]model.LastResult, error) {
	return readDirMode(baseDir, logger, true)
}

func readDirMode(baseDir string, logger *logging.Logger, repair bool) ([]model.LastResult, error) {
	dir := filepath.Join(baseDir, ResultsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state dir: %w", err)
	}

	var out []model.LastResult
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())

		r, err := readResult(path)
		var ce *yamlutil.CorruptFileError
		if errors.As(err, &ce) && repair {
			restored, rerr := yamlutil.Recover(baseDir, path)
			if logger != nil {
				logger.Warnf("quarantined corrupt state file %s (restored=%v): %v", path, restored, err)
			}
			if rerr != nil || !restored {
				continue
			}
			r, err = readResult(path)
		}
		if err != nil {
			if logger != nil {
				logger.Warnf("skip state file %s: %v", path, err)
			}
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func readResult(path string) (model.LastResult, error) {
	var f model.LastResultFile
	if err := yamlutil.ReadTyped(path, yamlutil.FileTypeLastResult, &f); err != nil {
		return model.LastResult{}, err
	}
	if f.Result.Command == "" {
		return model.LastResult{}, &yamlutil.CorruptFileError{Path: path, Err: errors.New("missing command")}
	}
	return f.Result, nil
}

func resultPath(dir, command string) (string, error) {
	if command == "" || filepath.Base(command) != command || strings.HasPrefix(command, ".") {
		return "", fmt.Errorf("invalid command name for state file: %q", command)
	}
	return filepath.Join(dir, command+".yaml"), nil
}
