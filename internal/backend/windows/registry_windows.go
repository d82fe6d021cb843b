//go:build windows

package windows

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"
)

// RegistryStore keeps the identity under HKEY_CURRENT_USER.
type RegistryStore struct{}

func NewRegistryStore() RegistryStore { return RegistryStore{} }

func (RegistryStore) Register(id Identity) error {
	k, _, err := registry.CreateKey(registry.CURRENT_USER, id.RegistryKey(), registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("create %s: %w", id.RegistryKey(), err)
	}
	defer k.Close()
	return writeIdentity(k, id, registry.ErrNotExist)
}

func (RegistryStore) Lookup(appID string) (Identity, error) {
	id := Identity{AppID: appID}
	k, err := registry.OpenKey(registry.CURRENT_USER, id.RegistryKey(), registry.QUERY_VALUE)
	if err != nil {
		return id, fmt.Errorf("open %s: %w", id.RegistryKey(), err)
	}
	defer k.Close()

	if id.DisplayName, _, err = k.GetStringValue("DisplayName"); err != nil {
		return id, fmt.Errorf("read DisplayName: %w", err)
	}
	id.IconURI, _, err = k.GetStringValue("IconUri")
	if err != nil && !errors.Is(err, registry.ErrNotExist) {
		return id, fmt.Errorf("read IconUri: %w", err)
	}
	return id, nil
}
