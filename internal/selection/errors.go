package selection

import (
	"errors"
	"fmt"
)

var (
	// ErrUpdateInFlight rejects a toggle while another update is pending.
	// Writes are serialized across all models, not only the one being edited.
	ErrUpdateInFlight = errors.New("selection: an update is already in flight")
	ErrUnknownModel   = errors.New("selection: unknown model")
	ErrUnknownDataset = errors.New("selection: dataset key is not in the catalog")
	ErrNotLoaded      = errors.New("selection: configuration not loaded")
)

// FetchError means the configuration could not be loaded. It is not retried.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("load eval models: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// UpdateError means a selection snapshot was not accepted. The local cache
// still holds the value from before the toggle.
type UpdateError struct {
	ModelID    string
	DatasetKey string
	Checked    bool
	Err        error
}

func (e *UpdateError) Error() string {
	verb := "remove"
	if e.Checked {
		verb = "add"
	}
	return fmt.Sprintf("%s %s for model %s: %v", verb, e.DatasetKey, e.ModelID, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}
