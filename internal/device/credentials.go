package device

import (
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/crypto"
	apperrors "github.com/Sugarbait/PhaetonAICRM-sub017/internal/errors"
)

const authTokenKey = "remote_auth_token"

// CredentialStore keeps the remote API token encrypted at rest, keyed
// to this device's identity. A token copied to another device's store
// file will not decrypt.
type CredentialStore struct {
	meta     MetaStore
	deviceID string
}

// NewCredentialStore creates a CredentialStore bound to the device.
func NewCredentialStore(meta MetaStore, deviceID string) *CredentialStore {
	return &CredentialStore{meta: meta, deviceID: deviceID}
}

// SaveAuthToken encrypts and persists the remote API token.
func (c *CredentialStore) SaveAuthToken(token string) error {
	sealed, err := crypto.EncryptString(token, string(crypto.DeviceKey(c.deviceID)))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "sealing auth token failed", err)
	}
	return c.meta.Set(authTokenKey, sealed)
}

// AuthToken returns the stored token, or "" when none is stored. A
// token that no longer decrypts (store copied across devices, corrupt
// value) reads as absent, forcing re-authentication.
func (c *CredentialStore) AuthToken() (string, error) {
	sealed, ok, err := c.meta.Get(authTokenKey)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	token, err := crypto.DecryptString(sealed, string(crypto.DeviceKey(c.deviceID)))
	if err != nil {
		return "", nil
	}
	return token, nil
}

// ClearAuthToken removes the stored token.
func (c *CredentialStore) ClearAuthToken() error {
	return c.meta.Set(authTokenKey, "")
}
