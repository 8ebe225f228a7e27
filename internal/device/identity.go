// Package device assigns and persists a stable identifier for the
// current device installation.
package device

import (
	apperrors "github.com/Sugarbait/PhaetonAICRM-sub017/internal/errors"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/logging"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/uuid"
)

// metaKey is where the device id lives in persistent metadata.
const metaKey = "device_id"

// MetaStore is the persistence needed by Identity: a key/value store
// that survives process restarts.
type MetaStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Identity resolves the stable device identifier. The id is generated
// once and persisted before first use; subsequent calls return the
// cached value without touching storage.
type Identity struct {
	store MetaStore
	id    string
}

// NewIdentity creates an Identity backed by the given store.
func NewIdentity(store MetaStore) *Identity {
	return &Identity{store: store}
}

// DeviceID returns the stable device id, generating and persisting one
// if the installation has never been assigned an id. A persisted value
// that fails UUID validation is replaced rather than propagated.
func (i *Identity) DeviceID() (string, error) {
	if i.id != "" {
		return i.id, nil
	}

	value, found, err := i.store.Get(metaKey)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to read device id", err)
	}

	if found && uuid.IsValid(value) {
		i.id = value
		return i.id, nil
	}

	generated := uuid.New()
	if err := i.store.Set(metaKey, generated); err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to persist device id", err)
	}

	logging.Info("Assigned new device id", map[string]interface{}{"device_id": generated})

	i.id = generated
	return i.id, nil
}
