package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/segmentio/encoding/json"

	"github.com/bcrosbie/evalboard/internal/domain"
)

type FileStore struct {
	path  string
	mu    sync.RWMutex
	state domain.State
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:  path,
		state: domain.EmptyState(),
	}
}

func (s *FileStore) Load(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return domain.Internal("failed to create data directory", err)
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.state = domain.EmptyState()
			return s.persistLocked()
		}
		return domain.Internal("failed to read data file", err)
	}

	var parsed domain.State
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.Internal("failed to parse data file", err)
	}

	s.state = withDefaults(parsed)
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) Snapshot() domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state)
}

func (s *FileStore) Mutate(mutate func(*domain.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneState(s.state)
	if err := mutate(&next); err != nil {
		return err
	}

	s.state = withDefaults(next)
	return s.persistLocked()
}

func (s *FileStore) persistLocked() error {
	serialized, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return domain.Internal("failed to serialize state", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, append(serialized, '\n'), 0o600); err != nil {
		return domain.Internal("failed to write temporary state file", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return domain.Internal("failed to atomically persist state file", err)
	}
	return nil
}

func withDefaults(state domain.State) domain.State {
	if state.Results == nil {
		state.Results = []domain.TestResult{}
	}
	if state.Selections == nil {
		state.Selections = map[string][]string{}
	}
	return state
}

func cloneState(in domain.State) domain.State {
	raw, _ := json.Marshal(in)
	var out domain.State
	_ = json.Unmarshal(raw, &out)
	return withDefaults(out)
}

func (s *FileStore) ListResults(_ context.Context, filter domain.ResultFilter) ([]domain.TestResult, error) {
	snapshot := s.Snapshot()
	items := []domain.TestResult{}
	for _, item := range snapshot.Results {
		if filter.Match(item) {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, compareResults)
	return items, nil
}

func (s *FileStore) UpsertResult(_ context.Context, result domain.TestResult) error {
	return s.Mutate(func(state *domain.State) error {
		key := result.Key()
		for i := range state.Results {
			if state.Results[i].Key() != key {
				continue
			}
			result.CreatedAt = state.Results[i].CreatedAt
			state.Results[i] = result
			return nil
		}
		state.Results = append(state.Results, result)
		return nil
	})
}

func (s *FileStore) ListSelections(context.Context) (map[string][]string, error) {
	return s.Snapshot().Selections, nil
}

func (s *FileStore) ReplaceSelections(_ context.Context, selections map[string][]string) error {
	return s.Mutate(func(state *domain.State) error {
		state.Selections = cloneSelections(selections)
		return nil
	})
}

// compareResults orders by date ascending, then model_id descending.
func compareResults(a, b domain.TestResult) int {
	if a.Date.Before(b.Date) {
		return -1
	}
	if a.Date.After(b.Date) {
		return 1
	}
	if c := strings.Compare(b.ModelID, a.ModelID); c != 0 {
		return c
	}
	return strings.Compare(a.DatasetKey, b.DatasetKey)
}

func cloneSelections(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for name, keys := range in {
		out[name] = slices.Clone(keys)
		if out[name] == nil {
			out[name] = []string{}
		}
	}
	return out
}
