package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"overlaykit/api/internal/auth"
	"overlaykit/api/internal/config"
	"overlaykit/api/internal/document"
	"overlaykit/api/internal/hub"
	"overlaykit/api/internal/queue"
	"overlaykit/api/internal/store"
	"overlaykit/api/internal/tenant"
	"overlaykit/api/internal/trust"
	"overlaykit/api/internal/util"
)

// Resolution sources, reported in read metadata so operators can tell which
// tier served a value.
const (
	SourceRemote     = "remote"
	SourceTenantDisk = "tenant-disk"
	SourceGlobalFile = "global-file"
	SourceDefaults   = "defaults"
)

// Backend names used as mirror-queue keys.
const (
	backendRemote = "remote"
	backendFile   = "file"
)

// NamespaceMetaDocument holds a namespace's public token, and under the
// public token's own namespace, the reverse pointer back to the admin
// namespace. Like the ownership document it never leaves the store layer.
const NamespaceMetaDocument = "namespace-meta"

var reservedDocuments = map[string]struct{}{
	trust.OwnershipDocument: {},
	NamespaceMetaDocument:   {},
}

var sensitiveKeys = map[string]struct{}{
	"walletAddress": {},
	"claimToken":    {},
	"webhookUrl":    {},
}

// builtinDefaults is the last resolution tier: the out-of-the-box payloads
// for the known widget modules. Documents without a default 404 when no
// tier holds them.
var builtinDefaults = map[string]map[string]any{
	"tip-goal": {
		"title":         "Monthly tip goal",
		"monthlyGoal":   10,
		"currentAmount": 0,
		"theme":         "classic",
		"walletAddress": "",
	},
	"chat-theme": {
		"theme":      "default",
		"bgColor":    "#0d1117",
		"textColor":  "#e6edf3",
		"msgBgColor": "#161b22",
	},
	"raffle": {
		"enabled":    false,
		"prize":      "",
		"command":    "!raffle",
		"maxWinners": 1,
		"duration":   5,
	},
}

// Meta is the metadata block attached to every config read and write
// response.
type Meta struct {
	Version   uint64    `json:"__version"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updatedAt"`
	Source    string    `json:"source"`
}

type ConfigResult struct {
	Document string         `json:"document"`
	Payload  map[string]any `json:"payload"`
	Meta     Meta           `json:"meta"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	Namespace string    `json:"namespace,omitempty"`
	Wallet    string    `json:"wallet,omitempty"`
	Admin     bool      `json:"admin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Service struct {
	cfg        config.Config
	remote     *store.RedisStore
	disk       *store.FileStore
	authorizer *trust.Authorizer
	resolver   *tenant.Resolver
	hub        *hub.Hub
	mirror     *queue.Debounce
}

// New wires the service. remote may be nil for self-hosted file-only
// deployments; hosted mode is inferred from its presence.
func New(cfg config.Config, remote *store.RedisStore, disk *store.FileStore, h *hub.Hub) *Service {
	s := &Service{
		cfg:      cfg,
		remote:   remote,
		disk:     disk,
		resolver: &tenant.Resolver{WalletTenancy: cfg.MultiTenantWallet},
		hub:      h,
	}
	s.authorizer = trust.NewAuthorizer(tierStore{s}, trust.Config{
		TrustedIPs:       cfg.TrustedIPs,
		RelaxRemoteAdmin: cfg.RelaxRemoteAdmin,
		ForceOwnerWrites: cfg.ForceOwnerWrites,
		Hosted:           remote != nil,
	})
	s.mirror = queue.New(cfg.MirrorWindow, cfg.MirrorCapacity, s.flushMirror)
	return s
}

// tierStore routes each namespace to its primary backend so trust
// classification always reads the freshest owner claim.
type tierStore struct{ s *Service }

func (t tierStore) Get(ctx context.Context, namespace, name string) (*document.Document, error) {
	st, _ := t.s.primary(namespace)
	return st.Get(ctx, namespace, name)
}

func (t tierStore) Set(ctx context.Context, namespace, name string, doc *document.Document) error {
	st, _ := t.s.primary(namespace)
	return st.Set(ctx, namespace, name, doc)
}

func (s *Service) hosted() bool { return s.remote != nil }

// primary returns the synchronous write target for a namespace. Tenant
// namespaces write to the shared remote store when one is configured;
// everything else writes to local disk.
func (s *Service) primary(namespace string) (store.ConfigStore, string) {
	if s.remote != nil && namespace != "" {
		return s.remote, backendRemote
	}
	return s.disk, backendFile
}

func (s *Service) flushMirror(ctx context.Context, key queue.Key, doc *document.Document) {
	var target store.ConfigStore
	switch key.Backend {
	case backendRemote:
		if s.remote == nil {
			return
		}
		target = s.remote
	case backendFile:
		target = s.disk
	default:
		return
	}
	if err := target.Set(ctx, key.Namespace, key.Document, doc); err != nil {
		log.Printf("mirror write failed backend=%s namespace=%s document=%s: %v",
			key.Backend, key.Namespace, key.Document, err)
	}
}

// enqueueMirror schedules a secondary-tier write, falling back to an inline
// write when the queue is full or shut down.
func (s *Service) enqueueMirror(ctx context.Context, namespace, name, backend string, doc *document.Document) {
	key := queue.Key{Namespace: namespace, Document: name, Backend: backend}
	if !s.mirror.Enqueue(key, doc) {
		s.flushMirror(ctx, key, doc)
	}
}

// Login issues a signed session token. An admin secret, when configured and
// matched, marks the session as admin; a wallet address pins the session to
// its derived namespace when wallet tenancy is enabled.
func (s *Service) Login(ctx context.Context, wallet, adminSecret string) (LoginResult, error) {
	wallet = strings.TrimSpace(wallet)
	adminSecret = strings.TrimSpace(adminSecret)

	admin := false
	if adminSecret != "" {
		if s.cfg.AdminSecret == "" ||
			subtle.ConstantTimeCompare([]byte(adminSecret), []byte(s.cfg.AdminSecret)) != 1 {
			return LoginResult{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid admin secret", nil)
		}
		admin = true
	}

	namespace := ""
	if wallet != "" && s.cfg.MultiTenantWallet {
		namespace = tenant.WalletNamespace(wallet)
	}

	expires := time.Now().Add(s.cfg.SessionTTL)
	token, err := auth.IssueToken([]byte(s.cfg.SessionSecret), auth.Claims{
		Namespace: namespace,
		Wallet:    wallet,
		Admin:     admin,
		JTI:       util.NewID(""),
		Exp:       expires.Unix(),
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session token: %w", err)
	}
	return LoginResult{
		Token:     token,
		Namespace: namespace,
		Wallet:    wallet,
		Admin:     admin,
		ExpiresAt: expires,
	}, nil
}

// SessionFromToken parses a bearer token into a session.
func (s *Service) SessionFromToken(token string) (tenant.Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return tenant.Session{}, err
	}
	return tenant.Session{
		Namespace: claims.Namespace,
		Wallet:    claims.Wallet,
		Admin:     claims.Admin,
	}, nil
}

// ClassifyRequest resolves the request's namespace and trust level. A
// namespace token that turns out to be a public token is swapped for its
// admin namespace with the caller marked read-only.
func (s *Service) ClassifyRequest(ctx context.Context, r *http.Request) trust.Caller {
	namespace := s.resolver.Resolve(r)
	if namespace != "" {
		if adminNS, ok := s.adminNamespaceFor(ctx, namespace); ok {
			caller := s.authorizer.Classify(ctx, r, adminNS)
			caller.ReadOnly = true
			return caller
		}
	}
	return s.authorizer.Classify(ctx, r, namespace)
}

func (s *Service) CanWriteConfig(c trust.Caller) bool   { return s.authorizer.CanWriteConfig(c) }
func (s *Service) CanReadSensitive(c trust.Caller) bool { return s.authorizer.CanReadSensitive(c) }

// ClaimOwner establishes the namespace's owner token.
func (s *Service) ClaimOwner(ctx context.Context, caller trust.Caller, token string) error {
	if caller.ReadOnly {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	err := s.authorizer.ClaimOwner(ctx, caller.Namespace, token)
	if errors.Is(err, trust.ErrAlreadyClaimed) {
		return domainError(http.StatusConflict, "ALREADY_CLAIMED", "Owner token already claimed", nil)
	}
	if err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return nil
}

// Load resolves a config document through the tier chain and masks
// sensitive fields the caller may not see.
func (s *Service) Load(ctx context.Context, caller trust.Caller, name string) (*ConfigResult, error) {
	if err := validateDocumentName(name); err != nil {
		return nil, err
	}
	doc, source, err := s.resolve(ctx, caller.Namespace, name)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Unknown config document", nil)
	}
	payload, err := decodePayload(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("decode stored payload: %w", err)
	}
	if !s.authorizer.CanReadSensitive(caller) {
		maskSensitive(payload)
	}
	return &ConfigResult{
		Document: name,
		Payload:  payload,
		Meta: Meta{
			Version:   doc.Version,
			Checksum:  doc.Checksum,
			UpdatedAt: doc.UpdatedAt,
			Source:    source,
		},
	}, nil
}

// resolve walks remote, tenant disk, global file, then built-in defaults.
// An unreachable backend and corrupt content are both logged and skipped:
// a tier never fails a read, it only stops contributing to it. A global-file
// hit for a tenant namespace is migrated copy-on-read into the tenant's own
// tiers.
func (s *Service) resolve(ctx context.Context, namespace, name string) (*document.Document, string, error) {
	if s.hosted() && namespace != "" {
		doc, err := s.remote.Get(ctx, namespace, name)
		if err != nil {
			log.Printf("remote read failed namespace=%s document=%s, falling through: %v", namespace, name, err)
		}
		if err == nil && doc != nil {
			return doc, SourceRemote, nil
		}
	}

	if namespace != "" {
		doc, err := s.disk.Get(ctx, namespace, name)
		if err != nil {
			log.Printf("tenant disk read failed namespace=%s document=%s, falling through: %v", namespace, name, err)
		}
		if err == nil && doc != nil {
			if s.hosted() {
				// Warm the remote tier so the next read is served there.
				s.enqueueMirror(ctx, namespace, name, backendRemote, doc)
			}
			return doc, SourceTenantDisk, nil
		}
	}

	global, err := s.disk.Get(ctx, "", name)
	if err != nil {
		log.Printf("global file read failed document=%s, falling through: %v", name, err)
		global = nil
	}
	if global != nil {
		if namespace != "" {
			migrated, err := s.migrateGlobal(ctx, namespace, name, global)
			if err != nil {
				log.Printf("copy-on-read migration failed namespace=%s document=%s: %v", namespace, name, err)
				return global, SourceGlobalFile, nil
			}
			return migrated, SourceGlobalFile, nil
		}
		return global, SourceGlobalFile, nil
	}

	defaults, ok := builtinDefaults[name]
	if !ok {
		return nil, "", nil
	}
	payload, err := json.Marshal(defaults)
	if err != nil {
		return nil, "", fmt.Errorf("marshal defaults: %w", err)
	}
	checksum, err := document.Checksum(payload)
	if err != nil {
		return nil, "", err
	}
	return &document.Document{Version: 0, Checksum: checksum, Data: payload}, SourceDefaults, nil
}

// migrateGlobal copies a legacy global document into a tenant's own tiers.
// The copy restarts at version 1 and keeps the same checksum, so a later
// identical save is still an idempotent no-op.
func (s *Service) migrateGlobal(ctx context.Context, namespace, name string, global *document.Document) (*document.Document, error) {
	copied, err := document.Wrap(global.Data, nil)
	if err != nil {
		return nil, err
	}
	primaryStore, primaryBackend := s.primary(namespace)
	if err := primaryStore.Set(ctx, namespace, name, copied); err != nil {
		return nil, err
	}
	if primaryBackend == backendRemote {
		s.enqueueMirror(ctx, namespace, name, backendFile, copied)
	}
	return copied, nil
}

// Save shallow-merges patch over the currently resolved payload, persists
// synchronously to the primary tier, mirrors to the secondary tier through
// the debounce queue, and broadcasts the change.
func (s *Service) Save(ctx context.Context, caller trust.Caller, name string, patch json.RawMessage) (*ConfigResult, error) {
	if err := validateDocumentName(name); err != nil {
		return nil, err
	}
	if !s.authorizer.CanWriteConfig(caller) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	incoming, err := decodePayload(patch)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "payload must be a JSON object", nil)
	}

	namespace := caller.Namespace
	previous, _, err := s.resolve(ctx, namespace, name)
	if err != nil {
		return nil, err
	}

	// Only a stored predecessor seeds the merge. A defaults-tier hit has
	// version 0 and contributes neither keys nor a version: the first save
	// persists exactly what was sent.
	merged := make(map[string]any)
	var prior *document.Document
	if previous != nil && previous.Version > 0 {
		prior = previous
		if base, err := decodePayload(previous.Data); err == nil {
			merged = base
		}
	}
	for key, value := range incoming {
		merged[key] = value
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal merged payload: %w", err)
	}
	doc, err := document.Wrap(payload, prior)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "payload must be valid JSON", nil)
	}

	primaryStore, primaryBackend := s.primary(namespace)
	if err := primaryStore.Set(ctx, namespace, name, doc); err != nil {
		return nil, fmt.Errorf("persist config: %w", err)
	}
	if primaryBackend == backendRemote {
		s.enqueueMirror(ctx, namespace, name, backendFile, doc)
	}

	masked := make(map[string]any, len(merged))
	for key, value := range merged {
		masked[key] = value
	}
	maskSensitive(masked)
	s.broadcast(ctx, namespace, hub.Envelope{Type: eventName(name), Data: masked})

	result := &ConfigResult{
		Document: name,
		Payload:  merged,
		Meta: Meta{
			Version:   doc.Version,
			Checksum:  doc.Checksum,
			UpdatedAt: doc.UpdatedAt,
			Source:    s.savedSource(primaryBackend, namespace),
		},
	}
	if !s.authorizer.CanReadSensitive(caller) {
		maskSensitive(result.Payload)
	}
	return result, nil
}

func (s *Service) savedSource(backend, namespace string) string {
	if backend == backendRemote {
		return SourceRemote
	}
	if namespace != "" {
		return SourceTenantDisk
	}
	return SourceGlobalFile
}

// PublicToken returns the namespace's paired read-only token, minting it on
// first use. The pairing is stored both forward (namespace -> token) and
// reverse (token -> namespace) so socket and HTTP lookups stay one read.
func (s *Service) PublicToken(ctx context.Context, caller trust.Caller) (string, error) {
	if caller.ReadOnly {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	namespace := caller.Namespace
	if namespace == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "public tokens require a namespace", nil)
	}
	if caller.Level == trust.Anonymous {
		return "", domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}

	primaryStore, primaryBackend := s.primary(namespace)
	meta, err := primaryStore.Get(ctx, namespace, NamespaceMetaDocument)
	if err != nil && !errors.Is(err, document.ErrCorrupt) {
		return "", fmt.Errorf("read namespace meta: %w", err)
	}
	if meta != nil {
		if token := metaField(meta, "publicToken"); token != "" {
			return token, nil
		}
	}

	token := util.NewID("pub")
	forward, err := json.Marshal(map[string]string{"publicToken": token})
	if err != nil {
		return "", fmt.Errorf("marshal namespace meta: %w", err)
	}
	forwardDoc, err := document.Wrap(forward, meta)
	if err != nil {
		return "", err
	}
	if err := primaryStore.Set(ctx, namespace, NamespaceMetaDocument, forwardDoc); err != nil {
		return "", fmt.Errorf("persist namespace meta: %w", err)
	}

	reverse, err := json.Marshal(map[string]string{"adminNamespace": namespace})
	if err != nil {
		return "", fmt.Errorf("marshal reverse pointer: %w", err)
	}
	reverseDoc, err := document.Wrap(reverse, nil)
	if err != nil {
		return "", err
	}
	reverseStore, reverseBackend := s.primary(token)
	if err := reverseStore.Set(ctx, token, NamespaceMetaDocument, reverseDoc); err != nil {
		return "", fmt.Errorf("persist reverse pointer: %w", err)
	}

	if primaryBackend == backendRemote {
		s.enqueueMirror(ctx, namespace, NamespaceMetaDocument, backendFile, forwardDoc)
	}
	if reverseBackend == backendRemote {
		s.enqueueMirror(ctx, token, NamespaceMetaDocument, backendFile, reverseDoc)
	}
	return token, nil
}

// adminNamespaceFor maps a public token back to its admin namespace.
func (s *Service) adminNamespaceFor(ctx context.Context, token string) (string, bool) {
	primaryStore, _ := s.primary(token)
	meta, err := primaryStore.Get(ctx, token, NamespaceMetaDocument)
	if err != nil || meta == nil {
		return "", false
	}
	adminNS := metaField(meta, "adminNamespace")
	return adminNS, adminNS != ""
}

// publicTokenFor returns the already-minted public token, or empty.
func (s *Service) publicTokenFor(ctx context.Context, namespace string) string {
	if namespace == "" {
		return ""
	}
	primaryStore, _ := s.primary(namespace)
	meta, err := primaryStore.Get(ctx, namespace, NamespaceMetaDocument)
	if err != nil || meta == nil {
		return ""
	}
	return metaField(meta, "publicToken")
}

// BroadcastEvent fans an ad-hoc event out to the caller's namespace.
func (s *Service) BroadcastEvent(ctx context.Context, caller trust.Caller, eventType string, data any) error {
	if !s.authorizer.CanWriteConfig(caller) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if strings.TrimSpace(eventType) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type is required", nil)
	}
	s.broadcast(ctx, caller.Namespace, hub.Envelope{Type: eventType, Data: data})
	return nil
}

func (s *Service) broadcast(ctx context.Context, namespace string, msg hub.Envelope) {
	s.hub.BroadcastWithPublic(namespace, s.publicTokenFor(ctx, namespace), msg)
}

// Hub exposes the broadcast router for the socket handler.
func (s *Service) Hub() *hub.Hub { return s.hub }

// SocketToken resolves which hub token a socket subscribes under. Public
// tokens subscribe as themselves; an empty resolution subscribes to the
// untargeted legacy stream.
func (s *Service) SocketToken(r *http.Request) string {
	return s.resolver.Resolve(r)
}

// Ping reports backend health for the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	if s.remote != nil {
		return s.remote.Ping(ctx)
	}
	return nil
}

// Hosted reports whether a shared remote store is configured.
func (s *Service) Hosted() bool { return s.hosted() }

// MirrorPending reports queued secondary-tier writes.
func (s *Service) MirrorPending() int { return s.mirror.Pending() }

// FlushMirror forces all pending mirror writes through, for tests and
// shutdown paths.
func (s *Service) FlushMirror(ctx context.Context) { s.mirror.Flush(ctx) }

// Close flushes pending mirror writes and releases the remote connection.
func (s *Service) Close(ctx context.Context) error {
	s.mirror.Close(ctx)
	if s.remote != nil {
		return s.remote.Close()
	}
	return nil
}

func validateDocumentName(name string) error {
	if name == "" || len(name) > 64 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "document name is required", nil)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "document name may only contain lowercase letters, digits, '-' and '_'", nil)
		}
	}
	if _, reserved := reservedDocuments[name]; reserved {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Unknown config document", nil)
	}
	return nil
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

func maskSensitive(payload map[string]any) {
	for key := range payload {
		if _, sensitive := sensitiveKeys[key]; sensitive {
			delete(payload, key)
		}
	}
}

func metaField(doc *document.Document, field string) string {
	var fields map[string]string
	if err := json.Unmarshal(doc.Data, &fields); err != nil {
		return ""
	}
	return fields[field]
}

// eventName maps a document name to its broadcast message type:
// "tip-goal" becomes "tipGoalUpdate".
func eventName(name string) string {
	parts := strings.Split(name, "-")
	out := parts[0]
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		out += strings.ToUpper(part[:1]) + part[1:]
	}
	return out + "Update"
}
