// ABOUTME: Cache of the issuer's published JWKS signing keys
// ABOUTME: Lazy miss-triggered refresh with atomic full-set replacement

package keyset

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
)

// Key lookup errors. ErrKeyNotFound means the key set was fetched
// successfully but does not contain the requested kid; ErrUnavailable
// means the set could not be fetched at all. Callers treat the two
// differently when deciding fallback behavior.
var (
	ErrKeyNotFound = errors.New("signing key not found in key set")
	ErrUnavailable = errors.New("key set unavailable")
)

// HTTPClient abstracts the HTTP client used for fetching the key set,
// allowing tests to substitute a canned transport. The standard
// http.Client satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Entry is one signing key from the issuer's published set.
type Entry struct {
	Kid       string
	Algorithm string
	PublicKey any // *rsa.PublicKey or *ecdsa.PublicKey
}

// Cache holds the issuer's current signing keys indexed by kid.
//
// Lookups for an unknown kid trigger exactly one synchronous refresh
// before concluding the key does not exist. A successful fetch replaces
// the entire cached set in one swap, so key rotation is observed
// atomically and concurrent readers never see a partially-updated set.
type Cache struct {
	jwksURL string
	client  HTTPClient
	logger  *slog.Logger

	mu   sync.RWMutex
	keys map[string]Entry
}

// New creates a key-set cache backed by the given JWKS URL.
// The cache starts empty; the first lookup populates it.
func New(jwksURL string, client HTTPClient, logger *slog.Logger) *Cache {
	if client == nil {
		client = http.DefaultClient
	}
	return &Cache{
		jwksURL: jwksURL,
		client:  client,
		logger:  logger.With("component", "keyset"),
		keys:    make(map[string]Entry),
	}
}

// Get returns the signing key for the given kid.
//
// On a cache miss it refreshes the full set from the issuer once; if the
// kid is still absent it returns ErrKeyNotFound. A kid missing from the
// freshly-fetched set is never served from the previous cache contents.
// Fetch failures return ErrUnavailable.
func (c *Cache) Get(ctx context.Context, kid string) (Entry, error) {
	c.mu.RLock()
	entry, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	// Miss: possibly a rotation. Exactly one refresh, then conclude.
	keys, err := c.fetch(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.mu.Lock()
	c.keys = keys
	c.mu.Unlock()

	entry, ok = keys[kid]
	if !ok {
		return Entry{}, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}
	return entry, nil
}

// jwksDocument is the JSON structure of the issuer's JWKS endpoint.
type jwksDocument struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey carries only the fields needed to reconstruct RSA and EC keys.
// Remaining JWKS fields are intentionally ignored.
type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	// RSA fields
	N string `json:"n"`
	E string `json:"e"`
	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// fetch retrieves and parses the full key set. The response body is
// limited to 1 MB.
func (c *Cache) fetch(ctx context.Context) (map[string]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating JWKS request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("JWKS request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading JWKS response: %w", err)
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing JWKS JSON: %w", err)
	}

	keys := make(map[string]Entry, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			pub, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				c.logger.Warn("skipping malformed RSA key", "kid", k.Kid, "error", err)
				continue
			}
			keys[k.Kid] = Entry{Kid: k.Kid, Algorithm: k.Alg, PublicKey: pub}
		case "EC":
			pub, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				c.logger.Warn("skipping malformed EC key", "kid", k.Kid, "error", err)
				continue
			}
			keys[k.Kid] = Entry{Kid: k.Kid, Algorithm: k.Alg, PublicKey: pub}
		}
	}

	c.logger.Debug("key set refreshed", "keys", len(keys))
	return keys, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding RSA exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// parseECPublicKey constructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded x and y coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
