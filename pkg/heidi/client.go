// Package heidi provides a client for the Heidi open API: minting a bearer
// token and reading patient session records.
package heidi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/trial-eligibility/internal/resilience"
)

// DefaultBaseURL is the production open API root.
const DefaultBaseURL = "https://registrar.api.heidihealth.com/api/v2/ml-scribe/open-api"

// Client defines the Heidi API operations.
type Client interface {
	// IssueToken mints a bearer token for the given credentials.
	IssueToken(ctx context.Context, creds Credentials) (string, error)
	// GetSession returns the session object for key. The bool is false when
	// the session is absent for any reason; errors never escape.
	GetSession(ctx context.Context, token, key string) (map[string]any, bool)
}

// Credentials identify the caller to the token endpoint.
type Credentials struct {
	APIKey       string
	Email        string
	ThirdPartyID string
}

// AuthError reports a failed token request. Body carries the raw response
// for diagnostics.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("heidi: issue token: %v", e.Err)
	case e.StatusCode >= 200 && e.StatusCode < 300:
		return fmt.Sprintf("heidi: issue token: unexpected response: %s", e.Body)
	default:
		return fmt.Sprintf("heidi: issue token: status %d: %s", e.StatusCode, e.Body)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// Option configures the Heidi client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout bounds each outbound request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.timeout = d
	}
}

// WithRateLimit caps session requests per second. Zero or negative disables
// limiting.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithRetry sets the retry policy for transient session fetch failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a new Heidi API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout: 20 * time.Second,
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("heidi", "get_session")
	}
	return c
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (c *httpClient) IssueToken(ctx context.Context, creds Credentials) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := url.Values{}
	params.Set("email", creds.Email)
	params.Set("third_party_internal_id", creds.ThirdPartyID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jwt?"+params.Encode(), nil)
	if err != nil {
		return "", eris.Wrap(err, "heidi: create token request")
	}
	req.Header.Set("Heidi-Api-Key", creds.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if !isJSON(resp) {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.Token == "" {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	logTokenExpiry(tr.Token)
	return tr.Token, nil
}

// logTokenExpiry reads the exp claim without verifying the signature. The
// API is the authority on validity; this is diagnostics only.
func logTokenExpiry(token string) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		zap.L().Debug("heidi: token is not a parseable jwt", zap.Error(err))
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		zap.L().Debug("heidi: token issued without expiry")
		return
	}
	zap.L().Info("heidi: token issued",
		zap.Time("expires_at", exp.Time),
		zap.Duration("ttl", time.Until(exp.Time).Round(time.Second)),
	)
}

type sessionResponse struct {
	Session map[string]any `json:"session"`
}

// errSessionNotFound marks a 404 so it is neither retried nor logged as an error.
var errSessionNotFound = eris.New("heidi: session not found")

func (c *httpClient) GetSession(ctx context.Context, token, key string) (map[string]any, bool) {
	log := zap.L().With(zap.String("session_key", key))

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			log.Warn("heidi: rate limiter wait aborted", zap.Error(err))
			return nil, false
		}
	}

	session, err := resilience.Do(ctx, c.retry, func(ctx context.Context) (map[string]any, error) {
		return c.getSession(ctx, token, key)
	})
	switch {
	case err == nil:
	case eris.Is(err, errSessionNotFound):
		log.Warn("heidi: session not found")
		return nil, false
	default:
		log.Error("heidi: session fetch failed", zap.Error(err))
		return nil, false
	}

	if session == nil {
		log.Warn("heidi: response carried no session object")
		return nil, false
	}
	return session, true
}

func (c *httpClient) getSession(ctx context.Context, token, key string) (map[string]any, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, eris.Wrap(err, "heidi: create session request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "heidi: session request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil, errSessionNotFound
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "heidi: read session body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &resilience.StatusError{Service: "heidi", StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	if !isJSON(resp) {
		return nil, eris.Errorf("heidi: non-json session response (%s)", resp.Header.Get("Content-Type"))
	}

	var sr sessionResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "heidi: decode session")
	}
	return sr.Session, nil
}

func (c *httpClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func isJSON(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "application/json")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
