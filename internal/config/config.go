// Package config loads and validates edgeguard's declarative TOML
// configuration.
//
// Configuration is read from a TOML file (default "config.toml" in the
// working directory, overridable via EDGEGUARD_CONFIG) plus a handful of
// environment-driven ambient settings (log level). Block lists, exception
// lists, and response specs live entirely in the file; they are not
// overlaid from the environment, because this middleware's correctness
// depends on the exact, auditable contents of those lists.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultCacheSize                 = 512
	defaultInvalidateSuccessAfterSec = 604800 // 7 days
	defaultInvalidateErrorAfterSec   = 3600   // 1 hour

	defaultInboundBadIPURL  = "https://raw.githubusercontent.com/bitwire-it/ipblocklist/main/inbound.txt"
	defaultOutboundBadIPURL = "https://raw.githubusercontent.com/bitwire-it/ipblocklist/main/outbound.txt"

	defaultListenAddr = ":8080"

	defaultResponseBody   = `{"detail":"Forbidden"}`
	defaultResponseStatus = http.StatusForbidden

	// Category keys used in ResponseMapping and as Decision Engine output.
	CategoryInboundBadIP  = "inbound_bad_ip"
	CategoryOutboundBadIP = "outbound_bad_ip"
	CategoryIP            = "ip"
	CategoryContinent     = "continent"
	CategoryCountry       = "country"
	CategoryASN           = "asn"
	CategoryRDNSHostname  = "rdns_hostname"
	CategoryBadIP         = "bad_ip"
	CategoryHosting       = "hosting"
	CategoryProxy         = "proxy"
)

// ReturnKind is the media kind a ResponseSpec renders as.
type ReturnKind string

const (
	ReturnJSON ReturnKind = "JSON"
	ReturnHTML ReturnKind = "HTML"
	ReturnText ReturnKind = "TEXT"
)

// ResponseSpec is one configured denial response. Body is the raw
// configured string; for JSON specs it is parse-validated at load time
// (spec.md §4.1) via RawJSON, which callers re-serialize on emit instead
// of re-parsing the original string.
type ResponseSpec struct {
	Body       string
	StatusCode int
	ReturnAs   ReturnKind

	// RawJSON holds the compacted JSON body when ReturnAs is ReturnJSON.
	// Populated at load time; nil otherwise.
	RawJSON json.RawMessage
}

func defaultResponseSpec() ResponseSpec {
	return ResponseSpec{
		Body:       defaultResponseBody,
		StatusCode: defaultResponseStatus,
		ReturnAs:   ReturnJSON,
		RawJSON:    json.RawMessage(defaultResponseBody),
	}
}

// ResponseMapping holds the per-category response specs plus the optional
// all-override (spec.md §3 ResponseMapping).
type ResponseMapping struct {
	All *ResponseSpec

	IP           ResponseSpec
	Continent    ResponseSpec
	Country      ResponseSpec
	ASN          ResponseSpec
	RDNSHostname ResponseSpec
	BadIP        ResponseSpec
	Hosting      ResponseSpec
	Proxy        ResponseSpec
}

// ForCategory returns the spec that should render for category, honoring
// the All override (spec.md §4.4 "Response selection").
func (m ResponseMapping) ForCategory(category string) ResponseSpec {
	if m.All != nil {
		return *m.All
	}
	switch category {
	case CategoryIP:
		return m.IP
	case CategoryContinent:
		return m.Continent
	case CategoryCountry:
		return m.Country
	case CategoryASN:
		return m.ASN
	case CategoryRDNSHostname:
		return m.RDNSHostname
	case CategoryInboundBadIP, CategoryOutboundBadIP, CategoryBadIP:
		return m.BadIP
	case CategoryHosting:
		return m.Hosting
	case CategoryProxy:
		return m.Proxy
	default:
		return defaultResponseSpec()
	}
}

// CacheConfig controls the enrichment cache (spec.md §3 CacheEntry / §4.3).
type CacheConfig struct {
	Size                   int
	InvalidateSuccessAfter time.Duration
	InvalidateErrorAfter   time.Duration
}

// BadIPListConfig holds the fixed (but overridable, for tests) blocklist
// source URLs, per spec.md §6's "Startup blocklist sources... considered
// part of the config contract".
type BadIPListConfig struct {
	InboundURL  string
	OutboundURL string
}

// ServerConfig controls the ambient HTTP listener, outside spec.md's
// scope (the downstream application itself is explicitly out of scope,
// but something has to bind a port to run it).
type ServerConfig struct {
	ListenAddr string
	// BackendAddr is the protected application's host:port. Empty means
	// no backend is configured; the filter then forwards to a stub
	// handler, useful for exercising the filter in isolation.
	BackendAddr string
}

// Config is the fully normalized, immutable configuration.
type Config struct {
	LogLevel string

	BlockIP            map[string]struct{}
	BlockContinent     map[string]struct{}
	BlockCountry       map[string]struct{}
	BlockASN           map[int]struct{}
	BlockRDNSHostname  map[string]struct{}
	BlockInboundBadIP  bool
	BlockOutboundBadIP bool

	AllowHosting bool
	AllowProxy   bool

	ExceptionIP   map[string]struct{}
	ExceptionPath map[string]struct{}

	Response ResponseMapping
	Cache    CacheConfig
	BadIP    BadIPListConfig
	Server   ServerConfig

	DisableLogging bool
}

// Load reads and validates the TOML config at path. An empty path defaults
// to "config.toml" in the current working directory.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	v.SetDefault("cache.size", defaultCacheSize)
	v.SetDefault("cache.invalidate_success_after", defaultInvalidateSuccessAfterSec)
	v.SetDefault("cache.invalidate_error_after", defaultInvalidateErrorAfterSec)
	v.SetDefault("allow_hosting.allow_hosting", true)
	v.SetDefault("allow_proxy.allow_proxy", true)
	v.SetDefault("block_bad_ip.block_inbound_bad_ip", false)
	v.SetDefault("block_bad_ip.block_outbound_bad_ip", false)
	v.SetDefault("disable_logging.disable_logging", false)
	v.SetDefault("bad_ip_lists.inbound_url", defaultInboundBadIPURL)
	v.SetDefault("bad_ip_lists.outbound_url", defaultOutboundBadIPURL)
	v.SetDefault("log_level", "info")
	v.SetDefault("server.listen_addr", defaultListenAddr)
	v.SetDefault("server.backend_addr", "")

	cfg := &Config{
		LogLevel: strings.ToLower(v.GetString("log_level")),

		BlockIP:           toIPSet(v.GetStringSlice("block_ip.block_ip")),
		BlockContinent:    toUpperSet(v.GetStringSlice("block_continent.block_continent")),
		BlockCountry:      toUpperSet(v.GetStringSlice("block_country.block_country")),
		BlockASN:          toIntSet(v.GetIntSlice("block_asn.block_asn")),
		BlockRDNSHostname: toLowerSet(v.GetStringSlice("block_rdns_hostname.block_rdns_hostname")),

		BlockInboundBadIP:  v.GetBool("block_bad_ip.block_inbound_bad_ip"),
		BlockOutboundBadIP: v.GetBool("block_bad_ip.block_outbound_bad_ip"),

		AllowHosting: v.GetBool("allow_hosting.allow_hosting"),
		AllowProxy:   v.GetBool("allow_proxy.allow_proxy"),

		ExceptionIP:   toIPSet(v.GetStringSlice("exception_ip.exception_ip")),
		ExceptionPath: toTrimmedSet(v.GetStringSlice("exception_path.exception_path")),

		Cache: CacheConfig{
			Size:                   v.GetInt("cache.size"),
			InvalidateSuccessAfter: time.Duration(v.GetInt64("cache.invalidate_success_after")) * time.Second,
			InvalidateErrorAfter:   time.Duration(v.GetInt64("cache.invalidate_error_after")) * time.Second,
		},

		BadIP: BadIPListConfig{
			InboundURL:  v.GetString("bad_ip_lists.inbound_url"),
			OutboundURL: v.GetString("bad_ip_lists.outbound_url"),
		},

		Server: ServerConfig{
			ListenAddr:  v.GetString("server.listen_addr"),
			BackendAddr: v.GetString("server.backend_addr"),
		},

		DisableLogging: v.GetBool("disable_logging.disable_logging"),
	}

	mapping, err := loadResponseMapping(v)
	if err != nil {
		return nil, err
	}
	cfg.Response = mapping

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints not already enforced by
// per-field normalization (spec.md §7 "Configuration errors").
func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q; must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("config: cache.size must be > 0, got %d", c.Cache.Size)
	}
	return nil
}

func loadResponseMapping(v *viper.Viper) (ResponseMapping, error) {
	mapping := ResponseMapping{
		IP:           defaultResponseSpec(),
		Continent:    defaultResponseSpec(),
		Country:      defaultResponseSpec(),
		ASN:          defaultResponseSpec(),
		RDNSHostname: defaultResponseSpec(),
		BadIP:        defaultResponseSpec(),
		Hosting:      defaultResponseSpec(),
		Proxy:        defaultResponseSpec(),
	}

	categories := []struct {
		key  string
		dest *ResponseSpec
	}{
		{"response.ip", &mapping.IP},
		{"response.continent", &mapping.Continent},
		{"response.country", &mapping.Country},
		{"response.asn", &mapping.ASN},
		{"response.rdns_hostname", &mapping.RDNSHostname},
		{"response.bad_ip", &mapping.BadIP},
		{"response.hosting", &mapping.Hosting},
		{"response.proxy", &mapping.Proxy},
	}

	for _, c := range categories {
		if !v.IsSet(c.key) {
			continue
		}
		spec, err := parseResponseSpec(v, c.key)
		if err != nil {
			return ResponseMapping{}, err
		}
		*c.dest = spec
	}

	if v.IsSet("response.all") {
		spec, err := parseResponseSpec(v, "response.all")
		if err != nil {
			return ResponseMapping{}, err
		}
		mapping.All = &spec
	}

	return mapping, nil
}

func parseResponseSpec(v *viper.Viper, key string) (ResponseSpec, error) {
	body := v.GetString(key + ".response")
	status := v.GetInt(key + ".status_code")
	returnAs := strings.ToUpper(strings.TrimSpace(v.GetString(key + ".return_as")))

	if status == 0 {
		status = defaultResponseStatus
	}
	if status < 100 || status > 599 {
		return ResponseSpec{}, fmt.Errorf("config: %s.status_code %d is not a valid HTTP status", key, status)
	}

	spec := ResponseSpec{Body: body, StatusCode: status}

	switch ReturnKind(returnAs) {
	case ReturnJSON:
		spec.ReturnAs = ReturnJSON
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(body), &raw); err != nil {
			return ResponseSpec{}, fmt.Errorf("config: %s.response is not valid JSON: %w", key, err)
		}
		compact, err := json.Marshal(raw)
		if err != nil {
			return ResponseSpec{}, fmt.Errorf("config: %s.response: %w", key, err)
		}
		spec.RawJSON = compact
	case ReturnHTML:
		spec.ReturnAs = ReturnHTML
	case ReturnText:
		spec.ReturnAs = ReturnText
	default:
		return ResponseSpec{}, fmt.Errorf("config: %s.return_as %q must be JSON, HTML or TEXT", key, returnAs)
	}

	return spec, nil
}

func toIPSet(raw []string) map[string]struct{} {
	out := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		ip := net.ParseIP(s)
		if ip == nil {
			// Keep the trimmed literal; best-effort for values that fail
			// to parse but are still useful for exact-match comparisons.
			out[s] = struct{}{}
			continue
		}
		out[ip.String()] = struct{}{}
	}
	return out
}

func toUpperSet(raw []string) map[string]struct{} {
	out := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func toLowerSet(raw []string) map[string]struct{} {
	out := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func toTrimmedSet(raw []string) map[string]struct{} {
	out := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func toIntSet(raw []int) map[int]struct{} {
	out := make(map[int]struct{}, len(raw))
	for _, n := range raw {
		out[n] = struct{}{}
	}
	return out
}

// CanonicalIP parses s (a client address) and returns its canonical
// textual form, matching the normalization every configured IP set uses.
func CanonicalIP(s string) (string, error) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return "", fmt.Errorf("config: %q is not a valid IP address", s)
	}
	return ip.String(), nil
}
