package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "http://ip-api.com"
	lookupFields      = "status,continentCode,countryCode,as,reverse,proxy,hosting"
	headerRemaining   = "X-Rl"
	headerResetSecs   = "X-Ttl"
	defaultCallTimeout = 10 * time.Second

	// syntheticTransportErrorCode stands in for "status_code" when the
	// call never reached the upstream at all (DNS failure, timeout,
	// connection refused, context cancellation).
	syntheticTransportErrorCode = 0
)

type upstreamPayload struct {
	Status        string `json:"status"`
	ContinentCode string `json:"continentCode"`
	CountryCode   string `json:"countryCode"`
	As            string `json:"as"`
	Reverse       string `json:"reverse"`
	Proxy         bool   `json:"proxy"`
	Hosting       bool   `json:"hosting"`
}

// Client issues enrichment lookups against the upstream geo-IP service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithBaseURL overrides the upstream base URL. Used by tests; the
// interface contract fixes this value in production (spec.md §6), so it
// is never read from the config file.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithLogger attaches a structured logger for transport-failure logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTimeout overrides the per-call timeout (default 10s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient builds a Client ready to call the upstream service.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultCallTimeout},
		baseURL:    defaultBaseURL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup issues one GET to the upstream enrichment service for ip and
// returns the resulting Record plus the rate-limit state it advertised.
// Lookup never returns a Go error for ordinary upstream failure modes;
// those come back as a non-actionable Record per spec.md §4.2; it only
// errors if the request could not even be constructed.
func (c *Client) Lookup(ctx context.Context, ip string) (Record, RateLimit, error) {
	now := time.Now()

	url := fmt.Sprintf("%s/json/%s?fields=%s", c.baseURL, ip, lookupFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Record{}, RateLimit{}, fmt.Errorf("enrichment: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("enrichment transport failure", "ip", ip, "error", err)
		return Record{
			StatusCode:  syntheticTransportErrorCode,
			LastUpdated: now,
		}, RateLimit{}, nil
	}
	defer resp.Body.Close()

	rl := parseRateLimit(resp.Header, now)

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("enrichment non-200 response", "ip", ip, "status", resp.StatusCode)
		return Record{
			StatusCode:  resp.StatusCode,
			LastUpdated: now,
		}, rl, nil
	}

	var payload upstreamPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Warn("enrichment response decode failure", "ip", ip, "error", err)
		return Record{
			StatusCode:  resp.StatusCode,
			LastUpdated: now,
		}, rl, nil
	}

	record := Record{
		StatusCode:     resp.StatusCode,
		Continent:      strings.ToUpper(payload.ContinentCode),
		Country:        strings.ToUpper(payload.CountryCode),
		ASN:            parseASN(payload.As),
		RDNSHostname:   strings.ToLower(payload.Reverse),
		IsHosting:      payload.Hosting,
		IsProxy:        payload.Proxy,
		UpstreamStatus: strings.ToLower(payload.Status),
		LastUpdated:    now,
	}

	return record, rl, nil
}

// parseASN extracts the integer ASN from a field like "AS15169 Google
// LLC": split on whitespace, take the first token, parse the integer
// suffix after the leading "AS". Empty/absent fields yield nil.
func parseASN(as string) *int {
	as = strings.TrimSpace(as)
	if as == "" {
		return nil
	}
	token := strings.Fields(as)[0]
	if len(token) < 3 || !strings.HasPrefix(strings.ToUpper(token), "AS") {
		return nil
	}
	n, err := strconv.Atoi(token[2:])
	if err != nil {
		return nil
	}
	return &n
}

func parseRateLimit(header http.Header, now time.Time) RateLimit {
	remaining := header.Get(headerRemaining)
	if remaining == "" {
		return RateLimit{}
	}
	n, err := strconv.Atoi(remaining)
	if err != nil || n > 0 {
		return RateLimit{}
	}

	ttlSecs, err := strconv.Atoi(header.Get(headerResetSecs))
	if err != nil {
		return RateLimit{}
	}

	return RateLimit{
		Exhausted: true,
		ResetAt:   now.Add(time.Duration(ttlSecs) * time.Second),
	}
}
