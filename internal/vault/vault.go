// Package vault implements tokenprovider.CredentialStore against the OS
// keychain, with an environment-variable fallback, adapted from the
// teacher's API-key vault. Only the long-lived seed refresh credential
// passes through here; the live access token stays in-process.
package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// Vault is a tokenprovider.CredentialStore backed by the OS keychain.
type Vault struct {
	serviceName string
}

// New creates a Vault scoped to serviceName (the keychain "service").
func New(serviceName string) *Vault {
	return &Vault{serviceName: serviceName}
}

// LoadSeed implements tokenprovider.CredentialStore. Any keychain failure
// (absent entry, or no keychain backend available at all) falls back to the
// environment variable, mirroring the teacher's API-key vault.
func (v *Vault) LoadSeed(realm string) (string, bool, error) {
	if secret, err := keyring.Get(v.serviceName, realm); err == nil && secret != "" {
		return secret, true, nil
	}

	envKey := envVarName(v.serviceName, realm)
	if val := os.Getenv(envKey); val != "" {
		return val, true, nil
	}

	return "", false, nil
}

// SaveSeed implements tokenprovider.CredentialStore.
func (v *Vault) SaveSeed(realm, refreshToken string) error {
	if err := keyring.Set(v.serviceName, realm, refreshToken); err != nil {
		return fmt.Errorf("vault: writing keychain entry for %q: %w", realm, err)
	}
	return nil
}

// Delete removes the stored seed for realm.
func (v *Vault) Delete(realm string) error {
	return keyring.Delete(v.serviceName, realm)
}

func envVarName(serviceName, realm string) string {
	return strings.ToUpper(serviceName) + "_SEED_" + strings.ToUpper(realm)
}
