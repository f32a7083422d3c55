// ABOUTME: Verified identity model and role derivation helpers
// ABOUTME: Maps issuer claims to a flattened RBAC view

package auth

import (
	"sort"
)

// Fixed realm role names recognized by the gateway.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
	RoleGuest = "guest"
)

// RealmAccess holds the realm-level role list from the issuer's claims.
type RealmAccess struct {
	Roles []string `json:"roles"`
}

// ResourceAccess holds the role list scoped to one resource/client.
type ResourceAccess struct {
	Roles []string `json:"roles"`
}

// Identity is the result of successful token validation. It is immutable
// and scoped to a single request. The JSON shape matches the issuer's
// user representation so the same struct serves both the local JWT path
// and the remote user-info fallback.
type Identity struct {
	Subject        string                    `json:"sub"`
	Username       string                    `json:"preferred_username"`
	Email          string                    `json:"email"`
	GivenName      *string                   `json:"given_name,omitempty"`
	FamilyName     *string                   `json:"family_name,omitempty"`
	RealmAccess    *RealmAccess              `json:"realm_access,omitempty"`
	ResourceAccess map[string]ResourceAccess `json:"resource_access,omitempty"`
}

// Roles returns the union of realm-level roles and every resource-scoped
// role across all resources, deduplicated and sorted. Two calls on the
// same Identity always return equal sets.
func (id *Identity) Roles() []string {
	seen := make(map[string]struct{})

	if id.RealmAccess != nil {
		for _, r := range id.RealmAccess.Roles {
			seen[r] = struct{}{}
		}
	}
	for _, access := range id.ResourceAccess {
		for _, r := range access.Roles {
			seen[r] = struct{}{}
		}
	}

	roles := make([]string, 0, len(seen))
	for r := range seen {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// HasRole reports whether the identity carries the named role at the
// realm level or under any resource.
func (id *Identity) HasRole(name string) bool {
	if id.RealmAccess != nil {
		for _, r := range id.RealmAccess.Roles {
			if r == name {
				return true
			}
		}
	}
	for _, access := range id.ResourceAccess {
		for _, r := range access.Roles {
			if r == name {
				return true
			}
		}
	}
	return false
}

// IsAdmin reports whether the identity holds the admin role.
func (id *Identity) IsAdmin() bool { return id.HasRole(RoleAdmin) }

// IsUser reports whether the identity holds the user role.
func (id *Identity) IsUser() bool { return id.HasRole(RoleUser) }

// IsGuest reports whether the identity holds the guest role.
func (id *Identity) IsGuest() bool { return id.HasRole(RoleGuest) }
