// Package model defines the storefront's cart, order, identity, and error types.
package model

// IdentityKind discriminates the two visitor identities.
type IdentityKind int

const (
	// Anonymous visitors are identified by a locally generated session id.
	Anonymous IdentityKind = iota
	// Authenticated visitors are identified by their account bearer token.
	Authenticated
)

func (k IdentityKind) String() string {
	if k == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// Identity is the active visitor identity used for cart resolution.
// Exactly one of SessionID (Anonymous) or AccountToken (Authenticated) is meaningful,
// though SessionID is kept for authenticated users for guest order correlation.
type Identity struct {
	Kind         IdentityKind
	SessionID    string
	AccountToken string
}

// AnonymousIdentity returns a session-scoped identity.
func AnonymousIdentity(sessionID string) Identity {
	return Identity{Kind: Anonymous, SessionID: sessionID}
}

// AuthenticatedIdentity returns an account-scoped identity.
func AuthenticatedIdentity(token, sessionID string) Identity {
	return Identity{Kind: Authenticated, AccountToken: token, SessionID: sessionID}
}

// IsAuthenticated reports whether the account family of endpoints applies.
func (i Identity) IsAuthenticated() bool {
	return i.Kind == Authenticated
}

// Equal reports whether two identities resolve to the same cart.
func (i Identity) Equal(o Identity) bool {
	if i.Kind != o.Kind {
		return false
	}
	if i.Kind == Authenticated {
		return i.AccountToken == o.AccountToken
	}
	return i.SessionID == o.SessionID
}

// Account is the authenticated user as reported by the backend.
type Account struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role,omitempty"`
}

// AuthSession is the result of a credential exchange.
type AuthSession struct {
	Token   string  `json:"token"`
	Account Account `json:"user"`
}
