// Package tenant derives the effective namespace identity for a request.
// Resolution is pure request-context inspection: no disk or network I/O.
package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Session is the authenticated state a prior middleware attached to the
// request context. It is derived from token claims, never persisted.
type Session struct {
	Namespace string
	Wallet    string
	Admin     bool
}

type sessionKey struct{}

// WithSession attaches the authenticated session to a request context.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session attached by the auth middleware, if any.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

// Resolver picks the namespace a request operates against.
type Resolver struct {
	// WalletTenancy enables deriving a namespace from a verified wallet
	// session (hosted multi-tenant-by-wallet deployments).
	WalletTenancy bool
}

// Resolve evaluates the priority chain and short-circuits at the first
// match: authenticated admin namespace, explicit query-supplied token,
// wallet-derived hash, then "" meaning the global/self-hosted namespace.
func (r *Resolver) Resolve(req *http.Request) string {
	session, ok := SessionFrom(req.Context())
	if ok && session.Admin && session.Namespace != "" {
		return session.Namespace
	}
	if ns := strings.TrimSpace(req.URL.Query().Get("token")); ns != "" {
		return ns
	}
	if r.WalletTenancy && ok && session.Wallet != "" {
		return WalletNamespace(session.Wallet)
	}
	return ""
}

// WalletNamespace hashes a wallet address into a stable namespace
// identifier. The address itself never appears in paths or store keys.
func WalletNamespace(address string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(address)))
	return hex.EncodeToString(sum[:])[:16]
}
