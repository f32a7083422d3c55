// ABOUTME: Two-tier bearer token validation: local JWKS verification with
// ABOUTME: remote user-info introspection as the fallback path

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kubeatlas/atlas-gateway/internal/keyset"
)

// Validation errors
var (
	// ErrMalformedToken means the token is structurally invalid (not a JWT,
	// or missing the kid header). Malformed tokens never reach the remote
	// fallback; they are rejected locally.
	ErrMalformedToken = errors.New("malformed token")

	// ErrTokenRejected means both local verification and the remote
	// introspection fallback refused the token.
	ErrTokenRejected = errors.New("token rejected")
)

// signingMethods lists the asymmetric algorithms accepted for locally
// verified tokens. HMAC methods are excluded: the gateway only holds the
// issuer's public keys.
var signingMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// Introspector presents a token to the issuer for remote validation.
// A nil error means the issuer vouched for the token.
type Introspector interface {
	UserInfo(ctx context.Context, token string) (*Identity, error)
}

// TokenValidator validates an opaque bearer token and produces the
// verified identity it carries.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Identity, error)
}

// accessTokenClaims are the claims this gateway reads from an access
// token. Passthrough claims it neither interprets nor mutates are not
// modeled.
type accessTokenClaims struct {
	jwt.RegisteredClaims
	Username       string                    `json:"preferred_username"`
	Email          string                    `json:"email"`
	GivenName      *string                   `json:"given_name"`
	FamilyName     *string                   `json:"family_name"`
	RealmAccess    *RealmAccess              `json:"realm_access"`
	ResourceAccess map[string]ResourceAccess `json:"resource_access"`
}

// Validator implements TokenValidator with local-first verification.
//
// Local verification against the key-set cache is attempted on every
// call; the remote fallback only runs when the local path cannot reach a
// positive result (unknown kid, unavailable key set, or any signature or
// claim failure). This bounds load on the issuer while tolerating
// transient key-fetch failures.
type Validator struct {
	keys       *keyset.Cache
	introspect Introspector
	issuer     string
	logger     *slog.Logger
}

// NewValidator creates a Validator. issuer is the expected value of the
// "iss" claim (the realm URL).
func NewValidator(keys *keyset.Cache, introspect Introspector, issuer string, logger *slog.Logger) *Validator {
	return &Validator{
		keys:       keys,
		introspect: introspect,
		issuer:     issuer,
		logger:     logger.With("component", "auth"),
	}
}

// Validate verifies the token and returns its identity.
//
// Structurally invalid tokens fail with ErrMalformedToken and never hit
// the network. Otherwise local verification runs first; on any local
// failure the token is presented to the issuer's user-info endpoint, and
// that result is authoritative.
func (v *Validator) Validate(ctx context.Context, token string) (*Identity, error) {
	kid, err := unverifiedKid(token)
	if err != nil {
		return nil, err
	}

	identity, localErr := v.validateLocal(ctx, token, kid)
	if localErr == nil {
		return identity, nil
	}
	v.logger.Debug("local verification failed, falling back to introspection", "error", localErr)

	identity, err = v.introspect.UserInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRejected, err)
	}
	return identity, nil
}

// unverifiedKid parses the token header without verifying the signature
// and extracts the key identifier.
func unverifiedKid(token string) (string, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	kid, ok := parsed.Header["kid"].(string)
	if !ok || kid == "" {
		return "", fmt.Errorf("%w: header missing kid", ErrMalformedToken)
	}
	return kid, nil
}

// validateLocal verifies the token signature and claims against the
// cached key set.
func (v *Validator) validateLocal(ctx context.Context, token, kid string) (*Identity, error) {
	entry, err := v.keys.Get(ctx, kid)
	if err != nil {
		return nil, err
	}

	claims := &accessTokenClaims{}
	// Audience is deliberately not verified: the issuer emits varying
	// audience representations (string, array, "account") depending on
	// client scope mapping. Issuer, expiry, and not-before are enforced.
	_, err = jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return entry.PublicKey, nil },
		jwt.WithValidMethods(signingMethods),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	v.logger.Debug("token verified locally", "sub", claims.Subject, "username", claims.Username)

	return &Identity{
		Subject:        claims.Subject,
		Username:       claims.Username,
		Email:          claims.Email,
		GivenName:      claims.GivenName,
		FamilyName:     claims.FamilyName,
		RealmAccess:    claims.RealmAccess,
		ResourceAccess: claims.ResourceAccess,
	}, nil
}
