// backend.go -- Client for the token-exchange backend.
//
// The backend proxies the provider token and userinfo endpoints:
//
//	GET  /api/oauth/callback/{provider}?code=&code_verifier=&grant_type=authorization_code
//	POST /api/oauth/refresh/{provider}   {"user_id": ..., "refresh_token": ...}
//	GET  /api/oauth/me/{provider}?user_id=
//	GET  /api/oauth/providers
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MGallo-Code/obol/internal/store"
)

// DefaultBackendURL matches the backend's development address.
const DefaultBackendURL = "http://localhost:8000"

// maxErrorBody caps how much of a non-2xx body is kept as the error message.
const maxErrorBody = 512

// BackendClient implements TokenService against the exchange backend.
type BackendClient struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewBackendClient returns a BackendClient for baseURL with the given request timeout.
func NewBackendClient(baseURL string, timeout time.Duration) *BackendClient {
	return &BackendClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Exchange sends the code (and verifier, when non-empty) to the backend and normalizes
// either response shape into a Grant.
func (c *BackendClient) Exchange(ctx context.Context, providerID, code, verifier string) (*Grant, error) {
	q := url.Values{
		"code":       {code},
		"grant_type": {"authorization_code"},
	}
	if verifier != "" {
		q.Set("code_verifier", verifier)
	}
	endpoint := c.baseURL + "/api/oauth/callback/" + url.PathEscape(providerID) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building exchange request: %w", err)
	}
	status, body, err := c.do(req)
	if err != nil {
		return nil, &ExchangeRejectedError{Provider: providerID, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &ExchangeRejectedError{Provider: providerID, StatusCode: status, Message: errorMessage(status, body)}
	}

	grant, err := normalizeExchange(body)
	if err != nil {
		return nil, err
	}
	grant.Token.ObtainedAt = c.now().UTC()
	return grant, nil
}

// Refresh posts the refresh token. 4xx answers are terminal RefreshRejectedErrors;
// transport faults and 5xx answers wrap ErrBackendUnavailable and may be retried later.
func (c *BackendClient) Refresh(ctx context.Context, providerID, userID, refreshToken string) (*store.TokenRecord, error) {
	payload, err := json.Marshal(map[string]string{
		"user_id":       userID,
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling refresh request: %w", err)
	}
	endpoint := c.baseURL + "/api/oauth/refresh/" + url.PathEscape(providerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh: %v", ErrBackendUnavailable, err)
	}
	switch {
	case status >= 400 && status <= 499:
		return nil, &RefreshRejectedError{Provider: providerID, StatusCode: status, Message: errorMessage(status, body)}
	case status < 200 || status > 299:
		return nil, fmt.Errorf("%w: refresh answered %d: %s", ErrBackendUnavailable, status, errorMessage(status, body))
	}

	grant, err := normalizeExchange(body)
	if err != nil {
		return nil, fmt.Errorf("refresh response: %w", err)
	}
	grant.Token.ObtainedAt = c.now().UTC()
	grant.Token.UserID = userID
	return &grant.Token, nil
}

// FetchProfile reads the profile for the token's user.
func (c *BackendClient) FetchProfile(ctx context.Context, providerID string, token store.TokenRecord) (*store.UserProfile, error) {
	endpoint := c.baseURL + "/api/oauth/me/" + url.PathEscape(providerID) + "?" + url.Values{"user_id": {token.UserID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building profile request: %w", err)
	}
	status, body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: profile: %v", ErrBackendUnavailable, err)
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("profile request answered %d: %s", status, errorMessage(status, body))
	}

	var ui userInfo
	if err := json.Unmarshal(body, &ui); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	p := ui.profile()
	if p.ID == "" {
		p.ID = token.UserID
	}
	return &p, nil
}

// Providers lists the providers the backend supports. Used as a health check.
func (c *BackendClient) Providers(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/oauth/providers", nil)
	if err != nil {
		return nil, fmt.Errorf("building providers request: %w", err)
	}
	status, body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: providers: %v", ErrBackendUnavailable, err)
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: providers answered %d", ErrBackendUnavailable, status)
	}
	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("decoding providers: %w", err)
	}
	return ids, nil
}

// do sends req and returns the status and full body.
func (c *BackendClient) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// errorMessage pulls a human-readable message out of an error body.
func errorMessage(status int, body []byte) string {
	var e struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		for _, m := range []string{e.Message, e.Detail, e.Error} {
			if m != "" {
				return m
			}
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return msg
	}
	return http.StatusText(status)
}

// --- Response normalization ---

// flexString accepts a JSON string or number. Provider user ids come as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or numeric string; null and absent stay nil.
type flexInt struct {
	v *int64
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		f.v = nil
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		f.v = nil
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("expected number, got %s", b)
	}
	i := int64(n)
	f.v = &i
	return nil
}

type tokenInfo struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    flexInt    `json:"expires_in"`
	Scope        string     `json:"scope"`
	UserID       flexString `json:"user_id"`
}

func (t tokenInfo) record(userID string) store.TokenRecord {
	tt := t.TokenType
	if tt == "" {
		tt = store.DefaultTokenType
	}
	return store.TokenRecord{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    tt,
		ExpiresIn:    t.ExpiresIn.v,
		UserID:       userID,
		Scope:        t.Scope,
	}
}

type userInfo struct {
	ID        flexString `json:"id"`
	Name      string     `json:"name"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	AvatarURL string     `json:"avatar_url"`
	Picture   string     `json:"picture"`
}

func (u userInfo) profile() store.UserProfile {
	p := store.UserProfile{
		ID:        string(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
	}
	if p.Name == "" {
		p.Name = u.Username
	}
	if p.AvatarURL == "" {
		p.AvatarURL = u.Picture
	}
	return p
}

// exchangeBody is the union of both response shapes. The flat shape's fields are
// promoted from the embedded tokenInfo.
type exchangeBody struct {
	Success   *bool      `json:"success"`
	UserInfo  *userInfo  `json:"user_info"`
	TokenInfo *tokenInfo `json:"token_info"`
	tokenInfo
}

// normalizeExchange maps a 2xx body onto a Grant. A token_info object means the
// structured shape; otherwise a top-level access_token means flat. success and
// user_info may accompany either, and an explicit success false is always refused.
func normalizeExchange(body []byte) (*Grant, error) {
	var b exchangeBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExchangeResponse, err)
	}

	if b.Success != nil && !*b.Success {
		return nil, fmt.Errorf("%w: success is false", ErrInvalidExchangeResponse)
	}
	if b.TokenInfo != nil {
		return normalizeStructured(b)
	}
	if b.AccessToken != "" {
		userID := string(b.UserID)
		if userID == "" {
			return &Grant{UserID: store.AnonymousUserID, Token: b.tokenInfo.record(store.AnonymousUserID), Anonymous: true}, nil
		}
		return &Grant{UserID: userID, Token: b.tokenInfo.record(userID)}, nil
	}
	return nil, fmt.Errorf("%w: neither structured nor flat shape", ErrInvalidExchangeResponse)
}

func normalizeStructured(b exchangeBody) (*Grant, error) {
	if b.TokenInfo.AccessToken == "" {
		return nil, fmt.Errorf("%w: token_info.access_token missing", ErrInvalidExchangeResponse)
	}

	userID := string(b.TokenInfo.UserID)
	if b.UserInfo != nil && b.UserInfo.ID != "" {
		userID = string(b.UserInfo.ID)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: no user id", ErrInvalidExchangeResponse)
	}

	g := &Grant{UserID: userID, Token: b.TokenInfo.record(userID)}
	if b.UserInfo != nil {
		p := b.UserInfo.profile()
		p.ID = userID
		g.Profile = &p
	}
	return g, nil
}

// IsTerminal reports whether err means the stored credentials are permanently unusable.
func IsTerminal(err error) bool {
	var rr *RefreshRejectedError
	return errors.As(err, &rr)
}
