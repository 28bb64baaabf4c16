package keystore

import (
	"context"
	"net/url"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "frostd:"

// Open creates the backend described by uri. See the package documentation
// for the supported schemes.
func Open(ctx context.Context, uri string) (Backend, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "parse keystore uri %q", uri)
	}

	switch u.Scheme {
	case "mem", "memory":
		return NewMemoryBackend(), nil
	case "pebble":
		return createPebbleBackend(u)
	case "redis", "rediss":
		return createRedisBackend(ctx, uri)
	case "vault":
		return createVaultBackend(u)
	default:
		return nil, errors.Errorf("unsupported keystore scheme %q", u.Scheme)
	}
}

func createPebbleBackend(u *url.URL) (Backend, error) {
	// pebble://data/keys is relative, pebble:///var/lib/keys is absolute.
	dir := u.Host + u.Path
	return NewPebbleBackend(dir)
}

func createRedisBackend(ctx context.Context, uri string) (Backend, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis uri")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "connect to redis")
	}
	return NewRedisBackend(client, redisKeyPrefix), nil
}

// createVaultBackend handles vault://host:port/<mount>/<prefix>. TLS is used
// unless the query sets tls=false.
func createVaultBackend(u *url.URL) (Backend, error) {
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if parts[0] == "" {
		return nil, errors.New("vault uri needs a mount path, e.g. vault://host:8200/secret/frostd")
	}
	mount := parts[0]
	prefix := ""
	if len(parts) == 2 {
		prefix = parts[1]
	}

	scheme := "https"
	if u.Query().Get("tls") == "false" {
		scheme = "http"
	}

	cfg := api.DefaultConfig()
	cfg.Address = scheme + "://" + u.Host
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create vault client")
	}
	if token := u.Query().Get("token"); token != "" {
		client.SetToken(token)
	}
	return NewVaultBackend(client, mount, prefix), nil
}
