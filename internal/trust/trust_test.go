package trust

import (
	"context"
	"net/http/httptest"
	"testing"

	"overlaykit/api/internal/store"
	"overlaykit/api/internal/tenant"
)

const testOwnerToken = "owner-secret-token-0001"

func newTestAuthorizer(t *testing.T, cfg Config) *Authorizer {
	t.Helper()
	return NewAuthorizer(store.NewFileStore(t.TempDir()), cfg)
}

func TestClaimOwnerThenClassify(t *testing.T) {
	a := newTestAuthorizer(t, Config{})
	ctx := context.Background()

	if err := a.ClaimOwner(ctx, "ns1", testOwnerToken); err != nil {
		t.Fatalf("ClaimOwner failed: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/config/tip-goal", nil)
	req.Header.Set(OwnerTokenHeader, testOwnerToken)
	caller := a.Classify(ctx, req, "ns1")
	if caller.Level != Owner {
		t.Errorf("caller with valid owner token classified as %s", caller.Level)
	}
	if !a.CanWriteConfig(caller) || !a.CanReadSensitive(caller) {
		t.Error("owner should be able to write and read sensitive fields")
	}
}

func TestClaimOwnerIsAtMostOnce(t *testing.T) {
	a := newTestAuthorizer(t, Config{})
	ctx := context.Background()

	if err := a.ClaimOwner(ctx, "ns1", testOwnerToken); err != nil {
		t.Fatalf("first ClaimOwner failed: %v", err)
	}
	if err := a.ClaimOwner(ctx, "ns1", "another-secret-token-2"); err != ErrAlreadyClaimed {
		t.Errorf("second ClaimOwner = %v, want ErrAlreadyClaimed", err)
	}
}

func TestWrongOwnerTokenIsNotOwner(t *testing.T) {
	a := newTestAuthorizer(t, Config{Hosted: true})
	ctx := context.Background()

	if err := a.ClaimOwner(ctx, "ns1", testOwnerToken); err != nil {
		t.Fatalf("ClaimOwner failed: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/config/tip-goal", nil)
	req.Header.Set(OwnerTokenHeader, "wrong-token-but-long-enough")
	caller := a.Classify(ctx, req, "ns1")
	if caller.Level == Owner {
		t.Fatal("wrong owner token classified as Owner")
	}
	if a.CanWriteConfig(caller) {
		t.Error("non-owner tenant should not write in hosted mode")
	}
}

func TestTrustedLocalAdminIsOwnerWithoutClaim(t *testing.T) {
	a := newTestAuthorizer(t, Config{})
	ctx := context.Background()

	req := httptest.NewRequest("POST", "/api/config/tip-goal", nil)
	req.RemoteAddr = "127.0.0.1:52000"
	req = req.WithContext(tenant.WithSession(req.Context(), tenant.Session{Admin: true}))

	caller := a.Classify(ctx, req, "")
	if caller.Level != Owner {
		t.Errorf("trusted local admin without owner claim classified as %s, want owner", caller.Level)
	}
}

func TestTrustedLocalAdminDemotedOnceClaimed(t *testing.T) {
	a := newTestAuthorizer(t, Config{})
	ctx := context.Background()
	if err := a.ClaimOwner(ctx, "", testOwnerToken); err != nil {
		t.Fatalf("ClaimOwner failed: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/config/tip-goal", nil)
	req.RemoteAddr = "127.0.0.1:52000"
	req = req.WithContext(tenant.WithSession(req.Context(), tenant.Session{Admin: true}))

	caller := a.Classify(ctx, req, "")
	if caller.Level != LocalAdmin {
		t.Errorf("trusted admin with existing claim classified as %s, want local-admin", caller.Level)
	}
	if !a.CanWriteConfig(caller) {
		t.Error("local admin should write when owner writes are not forced")
	}
	if a.CanReadSensitive(caller) {
		t.Error("local admin should not read sensitive fields by default")
	}
}

func TestForceOwnerWritesDeniesLocalAdmin(t *testing.T) {
	a := newTestAuthorizer(t, Config{ForceOwnerWrites: true})
	ctx := context.Background()
	if err := a.ClaimOwner(ctx, "", testOwnerToken); err != nil {
		t.Fatalf("ClaimOwner failed: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/config/tip-goal", nil)
	req.RemoteAddr = "127.0.0.1:52000"
	req = req.WithContext(tenant.WithSession(req.Context(), tenant.Session{Admin: true}))

	caller := a.Classify(ctx, req, "")
	if a.CanWriteConfig(caller) {
		t.Error("forced owner writes should deny the legacy admin path")
	}
}

func TestUntrustedAdminIsNotLocalAdmin(t *testing.T) {
	a := newTestAuthorizer(t, Config{})
	ctx := context.Background()

	req := httptest.NewRequest("POST", "/api/config/tip-goal", nil)
	req.RemoteAddr = "203.0.113.9:41000"
	req = req.WithContext(tenant.WithSession(req.Context(), tenant.Session{Admin: true}))

	caller := a.Classify(ctx, req, "ns1")
	if caller.Level == Owner || caller.Level == LocalAdmin {
		t.Errorf("admin from untrusted IP classified as %s", caller.Level)
	}
}

func TestAuthenticatedTenantWritesOnlyWhenSelfHosted(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/config/tip-goal", nil)
	ctx := context.Background()

	selfHosted := newTestAuthorizer(t, Config{})
	caller := selfHosted.Classify(ctx, req, "ns1")
	if caller.Level != AuthenticatedTenant {
		t.Fatalf("classified as %s, want authenticated-tenant", caller.Level)
	}
	if !selfHosted.CanWriteConfig(caller) {
		t.Error("authenticated tenant should write in open self-hosted mode")
	}

	hosted := newTestAuthorizer(t, Config{Hosted: true})
	caller = hosted.Classify(ctx, req, "ns1")
	if hosted.CanWriteConfig(caller) {
		t.Error("authenticated tenant must not write in hosted mode")
	}
}

func TestAnonymousDeniedEverything(t *testing.T) {
	a := newTestAuthorizer(t, Config{})
	req := httptest.NewRequest("GET", "/api/config/tip-goal", nil)

	caller := a.Classify(context.Background(), req, "")
	if caller.Level != Anonymous {
		t.Fatalf("classified as %s, want anonymous", caller.Level)
	}
	if a.CanWriteConfig(caller) || a.CanReadSensitive(caller) {
		t.Error("anonymous caller must be denied")
	}
}

func TestRelaxRemoteAdminReadsSensitive(t *testing.T) {
	a := newTestAuthorizer(t, Config{RelaxRemoteAdmin: true, Hosted: true})
	req := httptest.NewRequest("GET", "/api/config/tip-goal", nil)
	req.RemoteAddr = "203.0.113.9:41000"
	req = req.WithContext(tenant.WithSession(req.Context(), tenant.Session{Admin: true, Namespace: "ns1"}))

	caller := a.Classify(context.Background(), req, "ns1")
	if !a.CanReadSensitive(caller) {
		t.Error("relaxed deployments should let admin sessions read sensitive fields")
	}
}

func TestReadOnlyCallerNeverWrites(t *testing.T) {
	a := newTestAuthorizer(t, Config{})
	caller := Caller{Namespace: "ns1", Level: AuthenticatedTenant, ReadOnly: true}
	if a.CanWriteConfig(caller) {
		t.Error("public-token caller must be read-only")
	}
}

func TestOwnerIsolationAcrossNamespaces(t *testing.T) {
	a := newTestAuthorizer(t, Config{Hosted: true})
	ctx := context.Background()

	if err := a.ClaimOwner(ctx, "nsA", testOwnerToken); err != nil {
		t.Fatalf("ClaimOwner(nsA) failed: %v", err)
	}

	// nsA's token must not grant ownership of nsB.
	req := httptest.NewRequest("POST", "/api/config/tip-goal", nil)
	req.Header.Set(OwnerTokenHeader, testOwnerToken)
	caller := a.Classify(ctx, req, "nsB")
	if caller.Level == Owner {
		t.Error("owner token for nsA granted ownership of nsB")
	}
}
