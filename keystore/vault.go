package keystore

import (
	"context"
	"encoding/base64"
	"net/http"
	"path"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
)

const vaultValueField = "value"

// VaultBackend stores records as secrets in a Vault KV v2 mount. Writes use
// check-and-set with version 0, which Vault only accepts when the secret
// does not exist yet.
type VaultBackend struct {
	kv     *api.KVv2
	prefix string
}

// NewVaultBackend stores secrets under prefix in the KV v2 engine mounted at
// mount.
func NewVaultBackend(client *api.Client, mount, prefix string) *VaultBackend {
	return &VaultBackend{
		kv:     client.KVv2(strings.Trim(mount, "/")),
		prefix: strings.Trim(prefix, "/"),
	}
}

func (v *VaultBackend) path(key string) string {
	return path.Join(v.prefix, key)
}

func (v *VaultBackend) PutOnce(ctx context.Context, key string, value []byte) error {
	data := map[string]interface{}{
		vaultValueField: base64.StdEncoding.EncodeToString(value),
	}
	_, err := v.kv.Put(ctx, v.path(key), data, api.WithCheckAndSet(0))
	if err != nil {
		var respErr *api.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusBadRequest &&
			strings.Contains(strings.Join(respErr.Errors, " "), "check-and-set") {
			return ErrAlreadyExists
		}
		return errors.Wrap(err, "vault put")
	}
	return nil
}

func (v *VaultBackend) Load(ctx context.Context, key string) ([]byte, error) {
	secret, err := v.kv.Get(ctx, v.path(key))
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "vault get")
	}
	raw, ok := secret.Data[vaultValueField].(string)
	if !ok {
		return nil, errors.Errorf("vault secret %s has no %q field", v.path(key), vaultValueField)
	}
	out, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.Wrap(err, "vault value")
	}
	return out, nil
}

func (v *VaultBackend) Name() string { return "vault" }

func (v *VaultBackend) Close() error { return nil }
