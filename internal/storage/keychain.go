package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/99designs/keyring"
)

// Keychain is an Adapter backed by the OS keychain / secret service, for
// the secret chain-key material a host may want off-disk. Grounded on the
// teacher's KeyStore, widened from raw byte blobs to the generic
// Adapter contract via JSON encoding.
type Keychain struct {
	ring keyring.Keyring
}

// NewKeychain opens a keyring-backed Adapter under appName.
func NewKeychain(appName string) (*Keychain, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:             appName,
		KeychainName:            appName,
		KWalletAppID:            appName,
		KWalletFolder:           appName,
		WinCredPrefix:           appName,
		LibSecretCollectionName: appName,
		AllowedBackends: []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.KWalletBackend,
			keyring.FileBackend,
		},
	})
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	return &Keychain{ring: ring}, nil
}

// Get implements Adapter.
func (k *Keychain) Get(_ context.Context, key string, out any) (bool, error) {
	item, err := k.ring.Get(key)
	if err == keyring.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: "get", Key: key, Err: err}
	}
	if err := json.Unmarshal(item.Data, out); err != nil {
		return false, &Error{Op: "get", Key: key, Err: err}
	}
	return true, nil
}

// Put implements Adapter.
func (k *Keychain) Put(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	if err := k.ring.Set(keyring.Item{Key: key, Data: raw}); err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	return nil
}

// Del implements Adapter.
func (k *Keychain) Del(_ context.Context, key string) error {
	if err := k.ring.Remove(key); err != nil && err != keyring.ErrKeyNotFound {
		return &Error{Op: "del", Key: key, Err: err}
	}
	return nil
}

// List implements Adapter. Backends that don't expose efficient prefix
// lookups are filtered client-side over the full key listing; acceptable
// for the handful of secret keys this adapter is meant to hold.
func (k *Keychain) List(_ context.Context, prefix string) ([]string, error) {
	all, err := k.ring.Keys()
	if err != nil {
		return nil, &Error{Op: "list", Key: prefix, Err: err}
	}
	var matched []string
	for _, key := range all {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)
	return matched, nil
}
