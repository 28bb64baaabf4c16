package keystore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/frost-blueprint/frost"
	"github.com/tangle-network/frost-blueprint/party"
)

func testRecord(t *testing.T) *Record {
	t.Helper()
	cs, err := frost.Lookup(frost.Ed25519)
	require.NoError(t, err)
	f, err := frost.New(cs, 1, 1)
	require.NoError(t, err)
	p, err := f.NewParticipant(rand.Reader, 1)
	require.NoError(t, err)
	kp, pub, err := f.Finalize(p, nil, map[frost.Identifier]*frost.Round1Package{1: p.Round1Package()})
	require.NoError(t, err)
	set, err := party.NewSet([][]byte{[]byte("node-a")})
	require.NoError(t, err)

	rec, err := NewRecord(cs, kp, pub, set)
	require.NoError(t, err)
	return rec
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	pb, err := NewPebbleBackend("")
	require.NoError(t, err)

	out := map[string]Backend{
		"memory": NewMemoryBackend(),
		"pebble": pb,
		"redis":  NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:"),
	}
	t.Cleanup(func() {
		for _, b := range out {
			b.Close()
		}
	})
	return out
}

func TestStorePutGetLookup(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := New(backend, []byte("node-a"), zerolog.Nop())
			rec := testRecord(t)

			_, err := store.Get(ctx, 7, 1)
			assert.True(t, errors.Is(err, ErrNotFound))
			_, err = store.Lookup(ctx, 7)
			assert.True(t, errors.Is(err, ErrNotFound))

			require.NoError(t, store.Put(ctx, 7, 1, rec))

			got, err := store.Get(ctx, 7, 1)
			require.NoError(t, err)
			assert.Equal(t, uint16(1), got.Index)
			got.Index = 0
			assert.Equal(t, rec, got)
			_, err = store.Get(ctx, 7, 2)
			assert.True(t, errors.Is(err, ErrNotFound))

			idx, err := store.Lookup(ctx, 7)
			require.NoError(t, err)
			assert.Equal(t, party.Index(1), idx)

			keys, err := got.Decode()
			require.NoError(t, err)
			assert.Equal(t, frost.Ed25519, keys.Suite.ID())
			assert.Equal(t, uint16(1), keys.KeyPackage.MinSigners)
			assert.True(t, keys.KeyPackage.VerifyingKey.Equal(keys.PublicKeyPackage.VerifyingKey))
			assert.Equal(t, 1, keys.Participants.Len())
		})
	}
}

func TestStoreIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := New(backend, []byte("node-a"), zerolog.Nop())
			first := testRecord(t)
			second := testRecord(t)

			require.NoError(t, store.Put(ctx, 3, 2, first))
			err := store.Put(ctx, 3, 2, second)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrAlreadyExists))

			err = store.Put(ctx, 3, 5, second)
			assert.True(t, errors.Is(err, ErrAlreadyExists))

			got, err := store.Get(ctx, 3, 2)
			require.NoError(t, err)
			assert.Equal(t, first.KeyPackage, got.KeyPackage)
			idx, err := store.Lookup(ctx, 3)
			require.NoError(t, err)
			assert.Equal(t, party.Index(2), idx)
		})
	}
}

func TestStoreConcurrentPut(t *testing.T) {
	ctx := context.Background()
	store := New(NewMemoryBackend(), []byte("node-a"), zerolog.Nop())
	rec := testRecord(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Put(ctx, 9, 4, rec); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else {
				assert.True(t, errors.Is(err, ErrAlreadyExists))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}

func TestStoreServicesAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := New(NewMemoryBackend(), []byte("node-a"), zerolog.Nop())
	require.NoError(t, store.Put(ctx, 1, 1, testRecord(t)))
	require.NoError(t, store.Put(ctx, 2, 3, testRecord(t)))

	idx, err := store.Lookup(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, party.Index(3), idx)

	_, err = store.Get(ctx, 2, 1)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStoresSharingBackendAreScopedByOwner(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	open := func(owner string) *Store {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return New(NewRedisBackend(client, redisKeyPrefix), []byte(owner), zerolog.Nop())
	}
	node1, node2 := open("operator-1"), open("operator-2")
	defer node1.Close()
	defer node2.Close()

	rec1, rec2 := testRecord(t), testRecord(t)
	require.NoError(t, node1.Put(ctx, 7, 1, rec1))
	require.NoError(t, node2.Put(ctx, 7, 2, rec2))

	idx, err := node2.Lookup(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, party.Index(2), idx)
	got, err := node2.Get(ctx, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, rec2.KeyPackage, got.KeyPackage)

	idx, err = node1.Lookup(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, party.Index(1), idx)
	_, err = node1.Get(ctx, 7, 2)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = open("operator-3").Lookup(ctx, 7)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDecodeRejectsUnknownCiphersuite(t *testing.T) {
	rec := testRecord(t)
	rec.Ciphersuite = "FROST-UNKNOWN"
	_, err := rec.Decode()
	assert.True(t, errors.Is(err, frost.ErrUnknownCiphersuite))
}

// fakeVault serves the subset of the KV v2 API used by VaultBackend.
func fakeVault(t *testing.T) *httptest.Server {
	t.Helper()
	var (
		mu      sync.Mutex
		secrets = map[string]map[string]interface{}{}
	)
	const created = "2024-01-02T03:04:05.000000001Z"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		path := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
		switch r.Method {
		case http.MethodPut, http.MethodPost:
			var body struct {
				Data    map[string]interface{} `json:"data"`
				Options map[string]interface{} `json:"options"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if _, ok := secrets[path]; ok {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"errors": []string{"check-and-set parameter did not match the current version"},
				})
				return
			}
			secrets[path] = body.Data
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"created_time":  created,
					"deletion_time": "",
					"destroyed":     false,
					"version":       1,
				},
			})
		case http.MethodGet:
			data, ok := secrets[path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(map[string]interface{}{"errors": []string{}})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"data": data,
					"metadata": map[string]interface{}{
						"created_time":  created,
						"deletion_time": "",
						"destroyed":     false,
						"version":       1,
					},
				},
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVaultBackend(t *testing.T) {
	ctx := context.Background()
	srv := fakeVault(t)

	backend, err := Open(ctx, "vault://"+strings.TrimPrefix(srv.URL, "http://")+"/secret/frostd?tls=false&token=test")
	require.NoError(t, err)
	store := New(backend, []byte("node-a"), zerolog.Nop())
	rec := testRecord(t)

	_, err = store.Lookup(ctx, 5)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.Put(ctx, 5, 2, rec))
	assert.True(t, errors.Is(store.Put(ctx, 5, 2, rec), ErrAlreadyExists))

	got, err := store.Get(ctx, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, rec.KeyPackage, got.KeyPackage)
	assert.Equal(t, uint16(2), got.Index)

	idx, err := store.Lookup(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, party.Index(2), idx)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	for _, tc := range []struct {
		uri  string
		name string
	}{
		{"mem://", "memory"},
		{"pebble://", "pebble"},
		{"pebble://" + t.TempDir(), "pebble"},
		{"redis://" + mr.Addr() + "/0", "redis"},
	} {
		b, err := Open(ctx, tc.uri)
		require.NoError(t, err, tc.uri)
		assert.Equal(t, tc.name, b.Name())
		require.NoError(t, b.Close())
	}

	_, err := Open(ctx, "s3://bucket/keys")
	assert.Error(t, err)
	_, err = Open(ctx, "vault://localhost:8200/")
	assert.Error(t, err)
}
