// Package trust classifies the caller of a request and derives what it may
// see and change. Classification degrades to Anonymous on any internal
// error; it never degrades upward.
package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"overlaykit/api/internal/document"
	"overlaykit/api/internal/store"
	"overlaykit/api/internal/tenant"
)

type Level int

const (
	Anonymous Level = iota
	AuthenticatedTenant
	LocalAdmin
	Owner
)

func (l Level) String() string {
	switch l {
	case Owner:
		return "owner"
	case LocalAdmin:
		return "local-admin"
	case AuthenticatedTenant:
		return "authenticated-tenant"
	default:
		return "anonymous"
	}
}

// Caller is the per-request classification result. It is computed once and
// carried for the rest of the request so trust-token comparisons are not
// repeated.
type Caller struct {
	Namespace    string
	Level        Level
	AdminSession bool
	// ReadOnly marks callers that reached the namespace through its public
	// token; they can never write regardless of level.
	ReadOnly bool
}

// ErrAlreadyClaimed is returned when a second owner claim is attempted.
var ErrAlreadyClaimed = errors.New("owner token already claimed")

// OwnerTokenHeader carries the secret owner claim token on requests.
const OwnerTokenHeader = "X-Owner-Token"

// OwnershipDocument is the reserved store document holding a namespace's
// owner-claim hash. It is never exposed over the HTTP config surface.
const OwnershipDocument = "ownership"

type Config struct {
	TrustedIPs       []string
	RelaxRemoteAdmin bool
	ForceOwnerWrites bool
	// Hosted is true when a shared remote store is configured; open writes
	// for plain authenticated tenants only exist in self-hosted mode.
	Hosted bool
}

type Authorizer struct {
	store            store.ConfigStore
	trusted          map[string]struct{}
	relaxRemoteAdmin bool
	forceOwnerWrites bool
	hosted           bool
}

func NewAuthorizer(cs store.ConfigStore, cfg Config) *Authorizer {
	trusted := make(map[string]struct{})
	ips := cfg.TrustedIPs
	if len(ips) == 0 {
		ips = []string{"127.0.0.1", "::1"}
	}
	for _, ip := range ips {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			trusted[ip] = struct{}{}
		}
	}
	return &Authorizer{
		store:            cs,
		trusted:          trusted,
		relaxRemoteAdmin: cfg.RelaxRemoteAdmin,
		forceOwnerWrites: cfg.ForceOwnerWrites,
		hosted:           cfg.Hosted,
	}
}

// Classify determines the trust level for a request against the given
// namespace. First match wins: owner-token match, trusted-local-admin,
// authenticated tenant, anonymous. Internal errors fail closed.
func (a *Authorizer) Classify(ctx context.Context, r *http.Request, namespace string) Caller {
	caller := Caller{Namespace: namespace}
	session, hasSession := tenant.SessionFrom(r.Context())
	caller.AdminSession = hasSession && session.Admin

	claimHash, err := a.ownerClaimHash(ctx, namespace)
	if err != nil {
		// Fail closed: an unreadable claim must not grant anything.
		return Caller{Namespace: namespace}
	}

	if token := strings.TrimSpace(r.Header.Get(OwnerTokenHeader)); token != "" && claimHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(claimHash), []byte(token)) == nil {
			caller.Level = Owner
			return caller
		}
	}

	if caller.AdminSession && a.trustedAddr(r.RemoteAddr) {
		if claimHash == "" {
			// Legacy deployments with no owner claim: the trusted local
			// admin is the owner.
			caller.Level = Owner
		} else {
			caller.Level = LocalAdmin
		}
		return caller
	}

	if namespace != "" {
		caller.Level = AuthenticatedTenant
		return caller
	}
	return caller
}

// CanReadSensitive governs whether fields like the wallet address appear in
// a read response.
func (a *Authorizer) CanReadSensitive(c Caller) bool {
	if c.Level == Owner {
		return true
	}
	return a.relaxRemoteAdmin && c.AdminSession
}

// CanWriteConfig decides write permission from classification plus
// deployment flags.
func (a *Authorizer) CanWriteConfig(c Caller) bool {
	if c.ReadOnly {
		return false
	}
	switch c.Level {
	case Owner:
		return true
	case LocalAdmin:
		return !a.forceOwnerWrites
	case AuthenticatedTenant:
		return !a.hosted && !a.forceOwnerWrites
	default:
		return false
	}
}

// ClaimOwner establishes the at-most-once owner token for a namespace. The
// token is stored only as a bcrypt hash.
func (a *Authorizer) ClaimOwner(ctx context.Context, namespace, token string) error {
	token = strings.TrimSpace(token)
	if len(token) < 16 {
		return errors.New("owner token must be at least 16 characters")
	}
	existing, err := a.ownerClaimHash(ctx, namespace)
	if err != nil {
		return err
	}
	if existing != "" {
		return ErrAlreadyClaimed
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash owner token: %w", err)
	}
	payload, err := json.Marshal(map[string]string{"tokenHash": string(hash)})
	if err != nil {
		return fmt.Errorf("marshal owner claim: %w", err)
	}
	doc, err := document.Wrap(payload, nil)
	if err != nil {
		return err
	}
	if err := a.store.Set(ctx, namespace, OwnershipDocument, doc); err != nil {
		return fmt.Errorf("persist owner claim: %w", err)
	}
	return nil
}

func (a *Authorizer) ownerClaimHash(ctx context.Context, namespace string) (string, error) {
	doc, err := a.store.Get(ctx, namespace, OwnershipDocument)
	if errors.Is(err, document.ErrCorrupt) {
		// A corrupt claim document counts as no claim; writes will still be
		// denied in deployments that force owner writes.
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", nil
	}
	var claim struct {
		TokenHash string `json:"tokenHash"`
	}
	if err := json.Unmarshal(doc.Data, &claim); err != nil {
		return "", nil
	}
	return claim.TokenHash, nil
}

func (a *Authorizer) trustedAddr(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	_, ok := a.trusted[host]
	return ok
}
