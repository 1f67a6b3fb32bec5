package panel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/bcrosbie/evalboard/internal/series"
)

// UIState is what the panel remembers between sessions.
type UIState struct {
	Version       int    `json:"version"`
	ShowAllModels bool   `json:"show_all_models"`
	DatasetFilter string `json:"dataset_filter"`
	LastModelID   string `json:"last_model_id"`
	UpdatedAt     string `json:"updated_at"`
}

func defaultUIState() UIState {
	return UIState{Version: 1, DatasetFilter: series.All}
}

// LoadUIState reads the state file. A missing file yields the defaults.
func LoadUIState(path string) (UIState, error) {
	if path == "" {
		return defaultUIState(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultUIState(), nil
		}
		return UIState{}, fmt.Errorf("read ui state: %w", err)
	}
	state := defaultUIState()
	if err := json.Unmarshal(raw, &state); err != nil {
		return UIState{}, fmt.Errorf("decode ui state: %w", err)
	}
	if state.Version == 0 {
		state.Version = 1
	}
	if state.DatasetFilter == "" {
		state.DatasetFilter = series.All
	}
	return state, nil
}

func SaveUIState(path string, state UIState) error {
	if path == "" {
		return nil
	}
	state.Version = 1
	state.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir ui state dir: %w", err)
	}
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ui state: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write ui state: %w", err)
	}
	return nil
}
