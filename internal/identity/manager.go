package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.io/infrasutra/jobmail/internal/store"
)

const defaultFreshnessTTL = time.Hour

type Options struct {
	ClientID     string
	ClientSecret string
	Endpoints    Endpoints
	FreshnessTTL time.Duration
	HTTPClient   *http.Client
}

// Manager owns token acquisition and the cached credential lifecycle. All
// persistent state lives in the store; the manager itself is stateless.
type Manager struct {
	store        *store.Store
	logger       *slog.Logger
	clientID     string
	clientSecret string
	endpoints    Endpoints
	ttl          time.Duration
	httpClient   *http.Client

	// Injection points for tests.
	Now         func() time.Time
	OpenBrowser func(url string) error
}

func NewManager(st *store.Store, logger *slog.Logger, opts Options) *Manager {
	endpoints := opts.Endpoints
	if endpoints == (Endpoints{}) {
		endpoints = GoogleEndpoints()
	}
	ttl := opts.FreshnessTTL
	if ttl <= 0 {
		ttl = defaultFreshnessTTL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{
		store:        st,
		logger:       logger,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		endpoints:    endpoints,
		ttl:          ttl,
		httpClient:   httpClient,
		Now:          time.Now,
		OpenBrowser:  openBrowser,
	}
}

func scopesFor(kind store.CredentialKind) []string {
	if kind == store.KindMail {
		return MailScopes
	}
	return GeneralScopes
}

// AcquireToken returns a usable credential of the given kind. A cached
// credential that passes validation is returned without any prompt. With
// interactive=false a missing or invalid credential yields ErrAuthRequired;
// otherwise the interactive consent flow runs. Invalid cached credentials
// are purged, never silently retried.
func (m *Manager) AcquireToken(ctx context.Context, kind store.CredentialKind, interactive bool) (store.Credential, error) {
	cached, err := m.store.GetCredential(ctx, kind)
	switch {
	case err == nil:
		if m.Validate(ctx, cached) {
			return cached, nil
		}
		if err := m.store.DeleteCredential(ctx, kind); err != nil {
			return store.Credential{}, fmt.Errorf("purge stale credential: %w", err)
		}
		m.logger.Info("purged stale credential", "kind", kind)
	case errors.Is(err, store.ErrNotFound):
		// fall through to acquisition
	default:
		return store.Credential{}, err
	}

	if !interactive {
		return store.Credential{}, ErrAuthRequired
	}

	token, err := m.interactiveGrant(ctx, scopesFor(kind))
	if err != nil {
		return store.Credential{}, err
	}

	cred := store.Credential{
		Kind:        kind,
		AccessToken: token.AccessToken,
		ObtainedAt:  m.Now(),
		Scopes:      scopesFor(kind),
		Source:      store.SourceGoogle,
	}
	if err := m.store.SaveCredential(ctx, cred); err != nil {
		return store.Credential{}, fmt.Errorf("save credential: %w", err)
	}
	return cred, nil
}

// Validate reports whether a credential is still usable. A credential
// younger than the freshness TTL is trusted without network I/O; a stale one
// gets exactly one live profile probe. Backend-minted tokens cannot be
// probed against Google and are validated by use.
func (m *Manager) Validate(ctx context.Context, cred store.Credential) bool {
	if cred.Source == store.SourceBackend {
		return true
	}
	if m.Now().Sub(cred.ObtainedAt) < m.ttl {
		return true
	}
	if _, err := m.FetchProfile(ctx, cred.AccessToken); err != nil {
		m.logger.Info("credential failed revalidation", "kind", cred.Kind, "error", err)
		return false
	}
	return true
}

// FetchProfile calls the provider's userinfo endpoint with bearer auth.
func (m *Manager) FetchProfile(ctx context.Context, token string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoints.Profile, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Profile{}, &ProfileFetchError{Status: resp.StatusCode}
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return profile, nil
}

// Revoke is best-effort: failures are logged and swallowed so that logout
// always succeeds locally.
func (m *Manager) Revoke(ctx context.Context, token string) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.Revoke, strings.NewReader(form.Encode()))
	if err != nil {
		m.logger.Warn("build revoke request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn("revoke token", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logger.Warn("revoke token", "status", resp.StatusCode)
	}
}

// Logout revokes whatever Google-minted tokens are cached and clears all
// credentials plus the cached profile. Calling it with nothing stored is a
// no-op success.
func (m *Manager) Logout(ctx context.Context) error {
	for _, kind := range []store.CredentialKind{store.KindGeneral, store.KindMail, store.KindBackend} {
		cred, err := m.store.GetCredential(ctx, kind)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if cred.Source == store.SourceGoogle {
			m.Revoke(ctx, cred.AccessToken)
		}
		if err := m.store.DeleteCredential(ctx, kind); err != nil {
			return err
		}
	}
	return m.store.DeleteProfile(ctx)
}

type callbackResult struct {
	code string
	err  error
}

// interactiveGrant runs the loopback consent flow: a listener on an
// ephemeral localhost port receives the redirect, the user's browser shows
// the consent screen. A denial or a dismissed prompt surfaces as
// ErrAuthCancelled; context cancellation never hangs the flow.
func (m *Manager) interactiveGrant(ctx context.Context, scopes []string) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("start callback listener: %w", err)
	}
	defer listener.Close()

	cfg := &oauth2.Config{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  m.endpoints.Auth,
			TokenURL: m.endpoints.Token,
		},
		RedirectURL: fmt.Sprintf("http://%s/callback", listener.Addr().String()),
		Scopes:      scopes,
	}

	state, err := randomState()
	if err != nil {
		return nil, err
	}

	results := make(chan callbackResult, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callback" {
			http.NotFound(w, r)
			return
		}
		query := r.URL.Query()
		if query.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			results <- callbackResult{err: errors.New("oauth state mismatch")}
			return
		}
		if errCode := query.Get("error"); errCode != "" {
			http.Error(w, "authentication failed", http.StatusBadRequest)
			if errCode == "access_denied" {
				results <- callbackResult{err: ErrAuthCancelled}
			} else {
				results <- callbackResult{err: fmt.Errorf("authorization error: %s", errCode)}
			}
			return
		}
		code := query.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			results <- callbackResult{err: ErrAuthCancelled}
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Signed in. You can close this window."))
		results <- callbackResult{code: code}
	})}
	go func() { _ = srv.Serve(listener) }()
	defer srv.Close()

	if err := m.OpenBrowser(cfg.AuthCodeURL(state)); err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("interactive grant: %w", ctx.Err())
	case result := <-results:
		if result.err != nil {
			return nil, result.err
		}
		exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
		token, err := cfg.Exchange(exchangeCtx, result.code)
		if err != nil {
			return nil, fmt.Errorf("exchange code: %w", err)
		}
		return token, nil
	}
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func openBrowser(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target).Start()
	default:
		return exec.Command("xdg-open", target).Start()
	}
}
