// ABOUTME: Tests for the JWKS key-set cache
// ABOUTME: Covers miss-triggered refresh, rotation, and unavailable vs not-found

package keyset

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// jwksFor builds a JWKS JSON document for the given RSA public keys.
func jwksFor(t *testing.T, kids map[string]*rsa.PublicKey) []byte {
	t.Helper()
	var doc struct {
		Keys []map[string]string `json:"keys"`
	}
	for kid, pub := range kids {
		doc.Keys = append(doc.Keys, map[string]string{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestCache_MissTriggersRefresh(t *testing.T) {
	key := genKey(t)
	var fetches atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write(jwksFor(t, map[string]*rsa.PublicKey{"key-1": &key.PublicKey}))
	}))
	defer srv.Close()

	cache := New(srv.URL, nil, testLogger())

	entry, err := cache.Get(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", entry.Kid)
	assert.Equal(t, "RS256", entry.Algorithm)
	require.IsType(t, &rsa.PublicKey{}, entry.PublicKey)
	assert.Equal(t, int32(1), fetches.Load())

	// Cached now; no second fetch.
	_, err = cache.Get(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestCache_UnknownKidAfterRefresh(t *testing.T) {
	key := genKey(t)
	var fetches atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write(jwksFor(t, map[string]*rsa.PublicKey{"key-1": &key.PublicKey}))
	}))
	defer srv.Close()

	cache := New(srv.URL, nil, testLogger())

	_, err := cache.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
	// Exactly one refresh per miss, no retry loop inside the call.
	assert.Equal(t, int32(1), fetches.Load())

	_, err = cache.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestCache_RotationSwapsWholeSet(t *testing.T) {
	oldKey := genKey(t)
	newKey := genKey(t)

	current := atomic.Pointer[[]byte]{}
	oldDoc := jwksFor(t, map[string]*rsa.PublicKey{"old": &oldKey.PublicKey})
	current.Store(&oldDoc)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(*current.Load())
	}))
	defer srv.Close()

	cache := New(srv.URL, nil, testLogger())

	_, err := cache.Get(context.Background(), "old")
	require.NoError(t, err)

	// Rotate: the issuer drops "old" and publishes "new".
	newDoc := jwksFor(t, map[string]*rsa.PublicKey{"new": &newKey.PublicKey})
	current.Store(&newDoc)

	// Miss on "new" refreshes and replaces the set atomically.
	_, err = cache.Get(context.Background(), "new")
	require.NoError(t, err)

	// "old" is gone from the current set; the stale entry is not reused
	// beyond the miss-triggered refresh.
	_, err = cache.Get(context.Background(), "old")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestCache_FetchFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cache := New(srv.URL, nil, testLogger())

	_, err := cache.Get(context.Background(), "any")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.False(t, errors.Is(err, ErrKeyNotFound))
}

func TestCache_UnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately closed: connection refused

	cache := New(srv.URL, nil, testLogger())

	_, err := cache.Get(context.Background(), "any")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestCache_MalformedKeysSkipped(t *testing.T) {
	key := genKey(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		good := jwksFor(t, map[string]*rsa.PublicKey{"good": &key.PublicKey})
		var doc map[string]any
		require.NoError(t, json.Unmarshal(good, &doc))
		doc["keys"] = append(doc["keys"].([]any),
			map[string]any{"kty": "RSA", "kid": "broken", "n": "!!!", "e": "!!!"},
			map[string]any{"kty": "EC", "kid": "weird-curve", "crv": "P-111", "x": "AA", "y": "AA"},
		)
		out, err := json.Marshal(doc)
		require.NoError(t, err)
		w.Write(out)
	}))
	defer srv.Close()

	cache := New(srv.URL, nil, testLogger())

	_, err := cache.Get(context.Background(), "good")
	require.NoError(t, err)

	_, err = cache.Get(context.Background(), "broken")
	require.ErrorIs(t, err, ErrKeyNotFound)
}
