//go:build !windows

package windows

type RegistryStore struct{}

func NewRegistryStore() RegistryStore { return RegistryStore{} }

func (RegistryStore) Register(Identity) error { return ErrIdentityUnsupported }

func (RegistryStore) Lookup(appID string) (Identity, error) {
	return Identity{AppID: appID}, ErrIdentityUnsupported
}
