// Package tokens keeps a valid bearer token per signed-in user: an in-memory
// cache over the identity provider, with proactive background refresh and
// inline refresh for callers that catch a token close to expiry.
package tokens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	mcperrors "github.com/langconnect/mcpd/pkg/errors"
	"github.com/langconnect/mcpd/pkg/logger"
	"github.com/langconnect/mcpd/pkg/metrics"
)

// Refresh scheduling. The background task renews a token refreshLead before
// expiry; Get renews inline when a caller catches a token within expirySlack
// of expiry.
const (
	refreshLead    = 10 * time.Minute
	expirySlack    = 5 * time.Minute
	requestTimeout = 30 * time.Second
)

// AuthToken is one user's cached credential set.
type AuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	UserEmail    string    `json:"user_email,omitempty"`
}

// ExpiresWithin reports whether the token expires within d from now.
func (t *AuthToken) ExpiresWithin(d time.Duration) bool {
	return time.Until(t.ExpiresAt) <= d
}

// Manager caches one token per user and owns the per-user refresh tasks.
// At most one refresh task exists per user; starting a new one cancels the
// old. The mutex is never held across a network call.
type Manager struct {
	apiBaseURL  string
	supabaseURL string
	supabaseKey string
	jwtSecret   []byte
	httpClient  *http.Client

	refreshLead time.Duration
	expirySlack time.Duration

	mu         sync.Mutex
	tokens     map[string]*AuthToken
	refreshers map[string]context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
}

// NewManager builds a token manager against the given identity endpoints.
func NewManager(apiBaseURL, supabaseURL, supabaseKey, jwtSecret string) *Manager {
	return &Manager{
		apiBaseURL:  apiBaseURL,
		supabaseURL: supabaseURL,
		supabaseKey: supabaseKey,
		jwtSecret:   []byte(jwtSecret),
		httpClient:  &http.Client{Timeout: requestTimeout},
		refreshLead: refreshLead,
		expirySlack: expirySlack,
		tokens:      make(map[string]*AuthToken),
		refreshers:  make(map[string]context.CancelFunc),
	}
}

// SignIn posts credentials to the identity API, caches the resulting token,
// and spawns the user's refresh task. It is the only operation that returns
// identity-provider errors to the caller.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*AuthToken, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("encoding credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiBaseURL+"/auth/signin", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, mcperrors.NewAuthError("sign-in request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, mcperrors.NewAuthError(
			fmt.Sprintf("Sign-in failed: %s", providerDetail(resp.Body, resp.StatusCode)), nil)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, mcperrors.NewAuthError("decoding sign-in response", err)
	}

	token, err := tokenFromAccess(payload.AccessToken, payload.RefreshToken, "")
	if err != nil {
		return nil, mcperrors.NewAuthError("decoding access token", err)
	}

	m.put(token)
	logger.Infof("Signed in user %s", token.UserID)
	return token, nil
}

// Refresh exchanges the user's stored refresh token for a fresh access token
// and replaces the cached entry. Failures are absorbed: callers get nil and
// a log line, never an error.
func (m *Manager) Refresh(ctx context.Context, userID string) *AuthToken {
	m.mu.Lock()
	prev := m.tokens[userID]
	m.mu.Unlock()

	if prev == nil || prev.RefreshToken == "" {
		logger.Warnf("No refresh token cached for user %s", userID)
		return nil
	}

	next, err := m.requestRefresh(ctx, prev)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		logger.Warnf("Token refresh failed for user %s: %v", userID, err)
		return nil
	}

	m.mu.Lock()
	// A concurrent sign-out evicts the entry; do not resurrect it.
	if _, cached := m.tokens[userID]; cached {
		m.tokens[userID] = next
	}
	m.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	logger.Debugf("Refreshed token for user %s (expires %s)", userID, next.ExpiresAt.Format(time.RFC3339))
	return next
}

// requestRefresh performs the provider call and builds the replacement
// token. The previous refresh token and email are preserved when the
// response omits them.
func (m *Manager) requestRefresh(ctx context.Context, prev *AuthToken) (*AuthToken, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": prev.RefreshToken})
	if err != nil {
		return nil, fmt.Errorf("encoding refresh request: %w", err)
	}

	url := m.supabaseURL + "/auth/v1/token?grant_type=refresh_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", m.supabaseKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned %s", providerDetail(resp.Body, resp.StatusCode))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding refresh response: %w", err)
	}

	refreshToken := payload.RefreshToken
	if refreshToken == "" {
		refreshToken = prev.RefreshToken
	}

	next, err := tokenFromAccess(payload.AccessToken, refreshToken, prev.UserEmail)
	if err != nil {
		return nil, err
	}
	// The previous email is carried over verbatim; the refreshed token is
	// not re-decoded for it.
	next.UserEmail = prev.UserEmail
	return next, nil
}

// Get returns a valid access token for the user, refreshing inline when the
// cached one is close to expiry. An empty string means no usable token.
func (m *Manager) Get(ctx context.Context, userID string) string {
	m.mu.Lock()
	token := m.tokens[userID]
	m.mu.Unlock()

	if token == nil {
		return ""
	}
	if token.ExpiresWithin(m.expirySlack) {
		if fresh := m.Refresh(ctx, userID); fresh != nil {
			return fresh.AccessToken
		}
		return ""
	}
	return token.AccessToken
}

// GetOrCreate reuses the user's cached token when it is still comfortably
// valid and signs in otherwise.
func (m *Manager) GetOrCreate(ctx context.Context, email, password, userID string) (*AuthToken, error) {
	m.mu.Lock()
	token := m.tokens[userID]
	m.mu.Unlock()

	if token != nil && !token.ExpiresWithin(m.expirySlack) {
		return token, nil
	}
	return m.SignIn(ctx, email, password)
}

// UserTokens snapshots the unexpired access tokens by user id.
func (m *Manager) UserTokens() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]string, len(m.tokens))
	for userID, token := range m.tokens {
		if !token.ExpiresWithin(0) {
			snapshot[userID] = token.AccessToken
		}
	}
	return snapshot
}

// UpdateServerToken fetches a fresh token for a server's owner. An empty
// result means the server keeps whatever credentials it was created with.
func (m *Manager) UpdateServerToken(ctx context.Context, serverID, userID string) string {
	token := m.Get(ctx, userID)
	if token == "" {
		logger.Warnf("No valid token for user %s; server %s keeps its previous credentials", userID, serverID)
		return ""
	}
	logger.Infof("Rotated auth token for server %s", serverID)
	return token
}

// Validate verifies an access token against the configured HS256 secret,
// enforcing expiry. It returns the claims on success.
func (m *Manager) Validate(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return m.jwtSecret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, mcperrors.NewAuthError("invalid token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, mcperrors.NewAuthError("invalid token claims", nil)
	}
	return claims, nil
}

// SignOut cancels the user's refresh task and evicts the cached token.
func (m *Manager) SignOut(userID string) {
	m.mu.Lock()
	if cancel, ok := m.refreshers[userID]; ok {
		cancel()
		delete(m.refreshers, userID)
	}
	delete(m.tokens, userID)
	m.mu.Unlock()

	logger.Infof("Signed out user %s", userID)
}

// Close cancels every refresh task and waits for them to terminate. The
// manager accepts no new sign-ins afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for userID, cancel := range m.refreshers {
		cancel()
		delete(m.refreshers, userID)
	}
	m.tokens = make(map[string]*AuthToken)
	m.mu.Unlock()

	m.wg.Wait()
}

// put stores the token and restarts the user's refresh task. The refresh
// task is the sole owner of the user's cache entry between sign-ins.
func (m *Manager) put(token *AuthToken) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if cancel, ok := m.refreshers[token.UserID]; ok {
		cancel()
	}
	m.tokens[token.UserID] = token

	ctx, cancel := context.WithCancel(context.Background())
	m.refreshers[token.UserID] = cancel
	m.wg.Add(1)
	go m.runRefresher(ctx, token.UserID)
}

// runRefresher renews the user's token refreshLead before each expiry. It
// terminates when a refresh fails or the task is cancelled.
func (m *Manager) runRefresher(ctx context.Context, userID string) {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		token := m.tokens[userID]
		m.mu.Unlock()
		if token == nil {
			return
		}

		wait := time.Until(token.ExpiresAt.Add(-m.refreshLead))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if m.Refresh(ctx, userID) == nil {
			logger.Warnf("Stopping proactive refresh for user %s", userID)
			return
		}
	}
}

// tokenFromAccess decodes an access token without verifying its signature
// to extract the subject, expiry, and email claims. Verification is the
// provider's job here; Validate covers inbound request tokens.
func tokenFromAccess(accessToken, refreshToken, fallbackEmail string) (*AuthToken, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("parsing access token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("access token has no subject")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("access token has no expiry")
	}

	email := fallbackEmail
	if v, ok := claims["email"].(string); ok && v != "" {
		email = v
	}

	return &AuthToken{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    exp.Time.UTC(),
		UserID:       sub,
		UserEmail:    email,
	}, nil
}

// providerDetail extracts the identity provider's "detail" field from an
// error response, falling back to the HTTP status.
func providerDetail(body io.Reader, statusCode int) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return http.StatusText(statusCode)
}
