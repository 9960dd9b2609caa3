package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gosimple/slug"
)

var errCorruptFile = errors.New("failed to parse credentials")

// FileKV stores all keys in a single JSON object on disk.
// The file is written with owner-only permissions since it holds credentials.
type FileKV struct {
	path string
	mu   sync.Mutex
}

// NewFileKV creates a file-backed store at path. The file is created lazily on first Set.
func NewFileKV(path string) *FileKV {
	return &FileKV{path: path}
}

// Path returns the backing file path
func (f *FileKV) Path() string {
	return f.path
}

// CredentialsPath returns the per-context credentials file path,
// e.g. ~/.config/authgate/credentials-dev.json
func CredentialsPath(contextName string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	name := slug.Make(contextName)
	if name == "" {
		name = "default"
	}

	configDir := filepath.Join(homeDir, ".config", "authgate")
	filename := fmt.Sprintf("credentials-%s.json", name)
	return filepath.Join(configDir, filename), nil
}

func (f *FileKV) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", err
	}

	value, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (f *FileKV) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		// A corrupt file is replaced rather than blocking writes
		slog.Warn("discarding unreadable credentials file",
			slog.String("component", "storage-file"),
			slog.String("path", f.path),
			slog.String("error", err.Error()))
		values = make(map[string]string)
	}

	values[key] = value
	return f.save(values)
}

func (f *FileKV) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		if !errors.Is(err, errCorruptFile) {
			return err
		}
		// Nothing in a corrupt file can be read back, so removing any key drops it
		slog.Warn("removing unreadable credentials file",
			slog.String("component", "storage-file"),
			slog.String("path", f.path),
			slog.String("error", err.Error()))
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		return nil
	}
	if _, ok := values[key]; !ok {
		return nil
	}

	delete(values, key)
	if len(values) == 0 {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		return nil
	}
	return f.save(values)
}

// load reads the file; a missing file is an empty store
func (f *FileKV) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %w", errCorruptFile, err)
	}
	return values, nil
}

// save writes through a temp file and rename so readers never see a half-written record
func (f *FileKV) save(values map[string]string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set credentials permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}
