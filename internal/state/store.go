package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// stateFileVersion is the schema version written to disk.
const stateFileVersion = 1

// stateFile is the on-disk shape of the record set.
type stateFile struct {
	Version int                `json:"version"`
	Records map[string]*Record `json:"records"`
}

// FileStore persists records as a single JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by the given file path. The
// file is created on first Put.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// All returns a copy of every record.
func (s *FileStore) All() (map[string]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns one record, or nil if the addon is not tracked.
func (s *FileStore) Get(addonID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	return records[addonID], nil
}

// Put stores or deletes (nil rec) one record and rewrites the file.
func (s *FileStore) Put(addonID string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	if rec == nil {
		delete(records, addonID)
	} else {
		records[addonID] = rec.Clone()
	}

	return s.save(records)
}

func (s *FileStore) load() (map[string]*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]*Record), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal state file: %w", err)
	}
	if file.Records == nil {
		file.Records = make(map[string]*Record)
	}

	out := make(map[string]*Record, len(file.Records))
	for id, rec := range file.Records {
		out[id] = rec.Clone()
	}
	return out, nil
}

// save writes the record set atomically: temp file, rename, then sync
// the containing directory for durability.
func (s *FileStore) save(records map[string]*Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.MarshalIndent(stateFile{Version: stateFileVersion, Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temporary state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}

	df, err := os.Open(dir)
	if err == nil {
		if syncErr := df.Sync(); syncErr != nil {
			df.Close()
			return fmt.Errorf("sync state directory: %w", syncErr)
		}
		df.Close()
	}

	return nil
}

// MemoryStore is an in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// All returns a copy of every record.
func (s *MemoryStore) All() (map[string]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*Record, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.Clone()
	}
	return out, nil
}

// Get returns one record, or nil if absent.
func (s *MemoryStore) Get(addonID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[addonID].Clone(), nil
}

// Put stores or deletes one record.
func (s *MemoryStore) Put(addonID string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec == nil {
		delete(s.records, addonID)
		return nil
	}
	s.records[addonID] = rec.Clone()
	return nil
}
