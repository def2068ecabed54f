package acquire

import (
	"errors"

	"github.com/hazyhaar/vigie/acquire/internal/store"
)

var (
	// ErrNoCredentials stops a run before any network call.
	ErrNoCredentials = errors.New("acquire: no device-search credentials configured")
	// ErrRunInProgress is returned when a run is triggered while another one is active.
	ErrRunInProgress = errors.New("acquire: a run is already in progress")
	// ErrRunNotFound is returned by GetRun for an unknown ID.
	ErrRunNotFound = store.ErrNotFound
)
