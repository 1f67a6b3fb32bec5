// Package selection keeps the per-model dataset selection and writes it
// back to the server one snapshot at a time.
package selection

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bcrosbie/evalboard/internal/domain"
)

// Store is the remote side of the selection. Reads are keyed by model id;
// writes replace the whole collection and are keyed by model name.
type Store interface {
	ListEvalModels(ctx context.Context, accessToken string) ([]domain.ModelDatasetConfig, error)
	SetEvalModels(ctx context.Context, accessToken string, rows []domain.ModelDatasetUpdate) error
}

// Coordinator owns the cached selection. The cache changes only after the
// server accepted a write. At most one write is in flight at a time.
type Coordinator struct {
	store Store

	mu       sync.Mutex
	token    string
	loaded   bool
	models   []domain.ModelDatasetConfig
	inFlight *string
}

func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{store: store}
}

// Load fetches the full configuration and replaces the cache.
func (c *Coordinator) Load(ctx context.Context, accessToken string) ([]domain.ModelDatasetConfig, error) {
	models, err := c.store.ListEvalModels(ctx, accessToken)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = accessToken
	c.loaded = true
	c.models = cloneConfigs(models)
	return cloneConfigs(c.models), nil
}

// Models returns a copy of the cache.
func (c *Coordinator) Models() []domain.ModelDatasetConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneConfigs(c.models)
}

// InFlight reports the model whose update is pending, if any.
func (c *Coordinator) InFlight() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight == nil {
		return "", false
	}
	return *c.inFlight, true
}

// Toggle adds (checked) or removes datasetKey for modelID and sends the
// resulting snapshot of every model. Toggles that change nothing send
// nothing.
func (c *Coordinator) Toggle(ctx context.Context, modelID, datasetKey string, checked bool) error {
	if !domain.IsCatalogKey(datasetKey) {
		return fmt.Errorf("%w: %s", ErrUnknownDataset, datasetKey)
	}

	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	if c.inFlight != nil {
		c.mu.Unlock()
		return ErrUpdateInFlight
	}
	idx := indexOf(c.models, modelID)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	next, changed := toggled(c.models[idx].DatasetKeys, datasetKey, checked)
	if !changed {
		c.mu.Unlock()
		return nil
	}
	rows := snapshotRows(c.models, idx, next)
	token := c.token
	release := c.acquireLocked(modelID)
	c.mu.Unlock()
	defer release()

	if err := c.store.SetEvalModels(ctx, token, rows); err != nil {
		return &UpdateError{ModelID: modelID, DatasetKey: datasetKey, Checked: checked, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if i := indexOf(c.models, modelID); i >= 0 {
		c.models[i].DatasetKeys = next
	}
	return nil
}

// acquireLocked sets the in-flight marker. The returned func clears it and
// must run on every exit path.
func (c *Coordinator) acquireLocked(modelID string) func() {
	id := modelID
	c.inFlight = &id
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.inFlight = nil
	}
}

// snapshotRows builds the full update payload with next in place of the
// selection at changed. The server keys rows by model NAME while reads are
// keyed by id; rows fall back to the id only when a model has no name.
func snapshotRows(models []domain.ModelDatasetConfig, changed int, next []string) []domain.ModelDatasetUpdate {
	rows := make([]domain.ModelDatasetUpdate, 0, len(models))
	for i, m := range models {
		keys := m.DatasetKeys
		if i == changed {
			keys = next
		}
		name := m.ModelName
		if name == "" {
			name = m.ModelID
		}
		rows = append(rows, domain.ModelDatasetUpdate{
			ModelID:     name,
			DatasetKeys: cloneKeys(keys),
		})
	}
	return rows
}

func toggled(current []string, key string, checked bool) ([]string, bool) {
	present := slices.Contains(current, key)
	switch {
	case checked && !present:
		return append(cloneKeys(current), key), true
	case !checked && present:
		return slices.DeleteFunc(cloneKeys(current), func(k string) bool { return k == key }), true
	default:
		return current, false
	}
}

func indexOf(models []domain.ModelDatasetConfig, modelID string) int {
	return slices.IndexFunc(models, func(m domain.ModelDatasetConfig) bool { return m.ModelID == modelID })
}

func cloneKeys(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

func cloneConfigs(in []domain.ModelDatasetConfig) []domain.ModelDatasetConfig {
	out := make([]domain.ModelDatasetConfig, len(in))
	for i, m := range in {
		out[i] = m
		out[i].DatasetKeys = cloneKeys(m.DatasetKeys)
	}
	return out
}
