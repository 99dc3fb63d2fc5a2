package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.io/infrasutra/jobmail/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return st
}

type providerFake struct {
	profileCalls atomic.Int64
	profileCode  int
	revokeCalls  atomic.Int64
	tokenCalls   atomic.Int64
	accessToken  string
	server       *httptest.Server
}

func newProviderFake(t *testing.T) *providerFake {
	t.Helper()
	fake := &providerFake{profileCode: http.StatusOK, accessToken: "tok123"}
	mux := http.NewServeMux()
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		fake.profileCalls.Add(1)
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(fake.profileCode)
		if fake.profileCode == http.StatusOK {
			_, _ = w.Write([]byte(`{"email":"user@example.com","name":"User","picture":"https://p"}`))
		}
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		fake.revokeCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		fake.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"` + fake.accessToken + `","token_type":"Bearer"}`))
	})
	fake.server = httptest.NewServer(mux)
	t.Cleanup(fake.server.Close)
	return fake
}

func (f *providerFake) endpoints() Endpoints {
	return Endpoints{
		Auth:    f.server.URL + "/auth",
		Token:   f.server.URL + "/token",
		Profile: f.server.URL + "/userinfo",
		Revoke:  f.server.URL + "/revoke",
	}
}

func newTestManager(t *testing.T, st *store.Store, fake *providerFake) *Manager {
	t.Helper()
	return NewManager(st, discardLogger(), Options{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoints:    fake.endpoints(),
	})
}

// browserFor simulates the user's browser completing (or denying) consent:
// it follows the auth URL's redirect_uri back to the loopback listener.
func browserFor(t *testing.T, deny bool) func(string) error {
	t.Helper()
	return func(authURL string) error {
		parsed, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		redirect := parsed.Query().Get("redirect_uri")
		state := parsed.Query().Get("state")
		go func() {
			values := url.Values{"state": {state}}
			if deny {
				values.Set("error", "access_denied")
			} else {
				values.Set("code", "authcode")
			}
			resp, err := http.Get(redirect + "?" + values.Encode())
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func TestAcquireTokenNonInteractiveWithoutGrant(t *testing.T) {
	st := newTestStore(t)
	fake := newProviderFake(t)
	manager := newTestManager(t, st, fake)

	_, err := manager.AcquireToken(context.Background(), store.KindGeneral, false)
	if !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("err = %v, want ErrAuthRequired", err)
	}
}

func TestAcquireTokenInteractiveStoresCredential(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	fake := newProviderFake(t)
	manager := newTestManager(t, st, fake)
	manager.OpenBrowser = browserFor(t, false)

	start := time.Now()
	cred, err := manager.AcquireToken(ctx, store.KindGeneral, true)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if cred.AccessToken != "tok123" {
		t.Errorf("token = %q", cred.AccessToken)
	}

	stored, err := st.GetCredential(ctx, store.KindGeneral)
	if err != nil {
		t.Fatalf("credential not persisted: %v", err)
	}
	if stored.AccessToken != "tok123" {
		t.Errorf("stored token = %q", stored.AccessToken)
	}
	if stored.ObtainedAt.Before(start.Add(-time.Second)) {
		t.Errorf("obtainedAt = %v, want around %v", stored.ObtainedAt, start)
	}
	if fake.tokenCalls.Load() != 1 {
		t.Errorf("token exchanges = %d", fake.tokenCalls.Load())
	}
}

func TestAcquireTokenReturnsCachedFreshCredential(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	fake := newProviderFake(t)
	manager := newTestManager(t, st, fake)

	if err := st.SaveCredential(ctx, store.Credential{
		Kind:        store.KindGeneral,
		AccessToken: "cached",
		ObtainedAt:  time.Now(),
		Source:      store.SourceGoogle,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cred, err := manager.AcquireToken(ctx, store.KindGeneral, false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if cred.AccessToken != "cached" {
		t.Errorf("token = %q", cred.AccessToken)
	}
	if fake.profileCalls.Load() != 0 {
		t.Errorf("fresh credential triggered %d probes", fake.profileCalls.Load())
	}
}

func TestAcquireTokenPurgesInvalidStaleCredential(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	fake := newProviderFake(t)
	fake.profileCode = http.StatusUnauthorized
	manager := newTestManager(t, st, fake)

	if err := st.SaveCredential(ctx, store.Credential{
		Kind:        store.KindGeneral,
		AccessToken: "stale",
		ObtainedAt:  time.Now().Add(-2 * time.Hour),
		Source:      store.SourceGoogle,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := manager.AcquireToken(ctx, store.KindGeneral, false)
	if !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("err = %v, want ErrAuthRequired", err)
	}
	if _, err := st.GetCredential(ctx, store.KindGeneral); !errors.Is(err, store.ErrNotFound) {
		t.Error("stale credential not purged")
	}
}

func TestAcquireTokenCancelledByUser(t *testing.T) {
	st := newTestStore(t)
	fake := newProviderFake(t)
	manager := newTestManager(t, st, fake)
	manager.OpenBrowser = browserFor(t, true)

	_, err := manager.AcquireToken(context.Background(), store.KindGeneral, true)
	if !errors.Is(err, ErrAuthCancelled) {
		t.Fatalf("err = %v, want ErrAuthCancelled", err)
	}
}

func TestAcquireTokenHonorsContextCancellation(t *testing.T) {
	st := newTestStore(t)
	fake := newProviderFake(t)
	manager := newTestManager(t, st, fake)
	manager.OpenBrowser = func(string) error { return nil } // browser never completes

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := manager.AcquireToken(ctx, store.KindGeneral, true)
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestValidateFreshCredentialSkipsProbe(t *testing.T) {
	st := newTestStore(t)
	fake := newProviderFake(t)
	manager := newTestManager(t, st, fake)

	ok := manager.Validate(context.Background(), store.Credential{
		Kind:        store.KindGeneral,
		AccessToken: "t",
		ObtainedAt:  time.Now().Add(-30 * time.Minute),
		Source:      store.SourceGoogle,
	})
	if !ok {
		t.Error("fresh credential reported invalid")
	}
	if fake.profileCalls.Load() != 0 {
		t.Errorf("probes = %d, want 0", fake.profileCalls.Load())
	}
}

func TestValidateStaleCredentialProbesOnce(t *testing.T) {
	st := newTestStore(t)
	fake := newProviderFake(t)
	manager := newTestManager(t, st, fake)

	stale := store.Credential{
		Kind:        store.KindGeneral,
		AccessToken: "t",
		ObtainedAt:  time.Now().Add(-2 * time.Hour),
		Source:      store.SourceGoogle,
	}

	if ok := manager.Validate(context.Background(), stale); !ok {
		t.Error("stale credential with live token reported invalid")
	}
	if fake.profileCalls.Load() != 1 {
		t.Errorf("probes = %d, want 1", fake.profileCalls.Load())
	}

	fake.profileCode = http.StatusUnauthorized
	if ok := manager.Validate(context.Background(), stale); ok {
		t.Error("stale credential with dead token reported valid")
	}
}

func TestValidateBackendCredentialSkipsProbe(t *testing.T) {
	st := newTestStore(t)
	fake := newProviderFake(t)
	manager := newTestManager(t, st, fake)

	ok := manager.Validate(context.Background(), store.Credential{
		Kind:        store.KindBackend,
		AccessToken: "backend-token",
		ObtainedAt:  time.Now().Add(-48 * time.Hour),
		Source:      store.SourceBackend,
	})
	if !ok {
		t.Error("backend credential reported invalid")
	}
	if fake.profileCalls.Load() != 0 {
		t.Errorf("probes = %d, want 0", fake.profileCalls.Load())
	}
}

func TestFetchProfile(t *testing.T) {
	st := newTestStore(t)
	fake := newProviderFake(t)
	manager := newTestManager(t, st, fake)

	profile, err := manager.FetchProfile(context.Background(), "tok")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if profile.Email != "user@example.com" || profile.Name != "User" {
		t.Errorf("profile = %+v", profile)
	}

	fake.profileCode = http.StatusForbidden
	_, err = manager.FetchProfile(context.Background(), "tok")
	var fetchErr *ProfileFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("err = %v, want ProfileFetchError", err)
	}
	if fetchErr.Status != http.StatusForbidden {
		t.Errorf("status = %d", fetchErr.Status)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	fake := newProviderFake(t)
	manager := newTestManager(t, st, fake)

	seed := func() {
		if err := st.SaveCredential(ctx, store.Credential{Kind: store.KindGeneral, AccessToken: "g", ObtainedAt: time.Now(), Source: store.SourceGoogle}); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if err := st.SaveCredential(ctx, store.Credential{Kind: store.KindBackend, AccessToken: "b", ObtainedAt: time.Now(), Source: store.SourceBackend}); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if err := st.SaveProfile(ctx, store.Profile{Email: "a@b.c", UpdatedAt: time.Now()}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	seed()

	if err := manager.Logout(ctx); err != nil {
		t.Fatalf("first logout: %v", err)
	}
	if err := manager.Logout(ctx); err != nil {
		t.Fatalf("second logout: %v", err)
	}

	for _, kind := range []store.CredentialKind{store.KindGeneral, store.KindMail, store.KindBackend} {
		if _, err := st.GetCredential(ctx, kind); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("credential %s survived logout", kind)
		}
	}
	if _, err := st.GetProfile(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Error("profile survived logout")
	}
	// Only the Google-minted token is revoked upstream.
	if fake.revokeCalls.Load() != 1 {
		t.Errorf("revoke calls = %d, want 1", fake.revokeCalls.Load())
	}
}

func TestLogoutSurvivesRevocationFailure(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	fake := newProviderFake(t)
	manager := newTestManager(t, st, fake)
	// Point revocation at a dead endpoint; logout must still succeed.
	endpoints := fake.endpoints()
	endpoints.Revoke = "http://127.0.0.1:1/revoke"
	manager.endpoints = endpoints

	if err := st.SaveCredential(ctx, store.Credential{Kind: store.KindGeneral, AccessToken: "g", ObtainedAt: time.Now(), Source: store.SourceGoogle}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := manager.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := st.GetCredential(ctx, store.KindGeneral); !errors.Is(err, store.ErrNotFound) {
		t.Error("credential survived logout")
	}
}
