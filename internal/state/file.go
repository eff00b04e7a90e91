package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type fileDocument struct {
	UpdatedAt   time.Time             `json:"updated_at"`
	Deployments map[string]Deployment `json:"deployments"`
}

// FileStore keeps all records in a single JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (*fileDocument, error) {
	doc := &fileDocument{Deployments: make(map[string]Deployment)}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if doc.Deployments == nil {
		doc.Deployments = make(map[string]Deployment)
	}
	return doc, nil
}

// store replaces the file through a rename so readers never see a partial write.
func (s *FileStore) store(doc *fileDocument) error {
	doc.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ecrdeploy-state-*")
	if err != nil {
		return fmt.Errorf("failed to create state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

// Save inserts or replaces a record
func (s *FileStore) Save(ctx context.Context, d Deployment) error {
	if d.InstanceID == "" {
		return fmt.Errorf("deployment record has no instance id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	touch(&d, time.Now())
	doc.Deployments[d.InstanceID] = d
	return s.store(doc)
}

// Get returns the record for an instance
func (s *FileStore) Get(ctx context.Context, instanceID string) (Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return Deployment{}, err
	}
	d, ok := doc.Deployments[instanceID]
	if !ok {
		return Deployment{}, fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	return d, nil
}

// Update applies updateFn to an existing record and saves it.
func (s *FileStore) Update(ctx context.Context, instanceID string, updateFn func(*Deployment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	d, ok := doc.Deployments[instanceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	updateFn(&d)
	d.InstanceID = instanceID
	touch(&d, time.Now())
	doc.Deployments[instanceID] = d
	return s.store(doc)
}

// List returns all records, oldest first.
func (s *FileStore) List(ctx context.Context) ([]Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return sorted(doc.Deployments), nil
}

// Close is a no-op for the file store
func (s *FileStore) Close() error {
	return nil
}

func sorted(records map[string]Deployment) []Deployment {
	out := make([]Deployment, 0, len(records))
	for _, d := range records {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].InstanceID < out[j].InstanceID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
