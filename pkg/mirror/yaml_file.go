package mirror

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// YAMLFileMirror keeps all keys in a single YAML document on disk. Values
// are stored as strings, so the file stays readable when they are JSON.
type YAMLFileMirror struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
	closed bool
}

var _ Mirror = (*YAMLFileMirror)(nil)

func NewYAMLFileMirror(path string) (*YAMLFileMirror, error) {
	if path == "" {
		return nil, errors.New("yaml mirror path is required")
	}
	m := &YAMLFileMirror{
		path:   path,
		values: map[string]string{},
	}
	if err := m.loadFromDisk(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *YAMLFileMirror) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ensureOpen(); err != nil {
		return nil, false, err
	}
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

func (m *YAMLFileMirror) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureOpen(); err != nil {
		return err
	}
	m.values[key] = string(value)
	return m.persistLocked()
}

func (m *YAMLFileMirror) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureOpen(); err != nil {
		return err
	}
	if _, ok := m.values[key]; !ok {
		return nil
	}
	delete(m.values, key)
	return m.persistLocked()
}

func (m *YAMLFileMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *YAMLFileMirror) loadFromDisk() error {
	b, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(b, &values); err != nil {
		return errors.Wrapf(err, "could not parse %s", m.path)
	}
	// a file holding only "~" or "null" decodes to a nil map
	if values == nil {
		values = map[string]string{}
	}
	m.values = values
	return nil
}

func (m *YAMLFileMirror) persistLocked() error {
	b, err := yaml.Marshal(m.values)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, m.path)
}

func (m *YAMLFileMirror) ensureOpen() error {
	if m.closed {
		return ErrClosed
	}
	return nil
}
