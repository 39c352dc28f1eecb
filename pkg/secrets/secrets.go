// Package secrets resolves runtime credentials, either straight from the
// environment or out of Vault.
package secrets

import (
	"context"
	"fmt"
	"os"

	VaultApi "github.com/hashicorp/vault/api"
)

// Source hands out named secrets.
type Source interface {
	Get(ctx context.Context, name string) (string, error)
}

// Env reads secrets from environment variables, name as given.
type Env struct{}

func (Env) Get(_ context.Context, name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("environment variable [%s] is not set", name)
	}
	return value, nil
}

// Vault reads secret fields from a single Vault path. KV version 2 nests
// the fields under "data"; both layouts are handled.
type Vault struct {
	logical *VaultApi.Logical
	path    string
}

var (
	_ Source = Env{}
	_ Source = (*Vault)(nil)
)

func NewVault(address, token, path string, skipVerify bool) (*Vault, error) {
	conf := &VaultApi.Config{Address: address}
	tlsConf := &VaultApi.TLSConfig{Insecure: skipVerify}
	if err := conf.ConfigureTLS(tlsConf); err != nil {
		return nil, fmt.Errorf("configuring Vault TLS: %w", err)
	}
	client, err := VaultApi.NewClient(conf)
	if err != nil {
		return nil, fmt.Errorf("creating Vault client: %w", err)
	}
	client.SetToken(token)
	return &Vault{logical: client.Logical(), path: path}, nil
}

func (v *Vault) Get(ctx context.Context, name string) (string, error) {
	secret, err := v.logical.ReadWithContext(ctx, v.path)
	if err != nil {
		return "", fmt.Errorf("reading Vault path [%s]: %w", v.path, err)
	}
	if secret == nil {
		return "", fmt.Errorf("no secret at Vault path [%s]", v.path)
	}
	data := secret.Data
	if inner, ok := data["data"].(map[string]any); ok {
		data = inner
	}
	value, ok := data[name].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("Vault path [%s] has no field [%s]", v.path, name)
	}
	return value, nil
}
