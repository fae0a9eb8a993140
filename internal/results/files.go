package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/errval"
)

const indexFileName = "index.json"

// IndexEntry is one saved result listed in index.json.
type IndexEntry struct {
	TaskID  string    `json:"task_id"`
	Model   string    `json:"model"`
	Query   string    `json:"query"`
	Path    string    `json:"path"`
	SavedAt time.Time `json:"saved_at"`
}

type index struct {
	Tasks []IndexEntry `json:"tasks"`
}

// FileStore writes each result to <dir>/<YYYY-MM-DD>/<task_id>.md and keeps
// <dir>/index.json listing every saved result.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Ping(ctx context.Context) (err error) {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}

	return nil
}

func (s *FileStore) SaveResult(ctx context.Context, output domain.TaskOutput) (location string, err error) {
	if output.CompletedAt.IsZero() {
		output.CompletedAt = time.Now()
	}
	completedAt := output.CompletedAt

	dayDir := filepath.Join(s.dir, completedAt.Format("2006-01-02"))
	if err = os.MkdirAll(dayDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dayDir, output.TaskID+".md")
	if err = writeFileAtomic(path, []byte(output.Document())); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return "", err
	}
	idx.Tasks = append(idx.Tasks, IndexEntry{
		TaskID:  output.TaskID,
		Model:   output.Model,
		Query:   output.Query,
		Path:    path,
		SavedAt: completedAt,
	})
	if err = s.writeIndex(idx); err != nil {
		return "", err
	}

	return path, nil
}

// LoadResult returns the full markdown document most recently saved for taskID.
func (s *FileStore) LoadResult(ctx context.Context, taskID string) (content string, err error) {
	s.mu.Lock()
	idx, err := s.readIndex()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	for i := len(idx.Tasks) - 1; i >= 0; i-- {
		if idx.Tasks[i].TaskID != taskID {
			continue
		}

		raw, err := os.ReadFile(idx.Tasks[i].Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", errval.ErrNotFound
			}
			return "", err
		}
		return string(raw), nil
	}

	return "", errval.ErrNotFound
}

// Entries returns the index in save order.
func (s *FileStore) Entries() ([]IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	return idx.Tasks, nil
}

func (s *FileStore) readIndex() (*index, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, indexFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &index{Tasks: []IndexEntry{}}, nil
		}
		return nil, err
	}

	idx := &index{}
	if err = json.Unmarshal(raw, idx); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", indexFileName, err)
	}
	return idx, nil
}

func (s *FileStore) writeIndex(idx *index) error {
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dir, indexFileName), raw)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
