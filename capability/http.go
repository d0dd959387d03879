package capability

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second
	maxRedirects          = 5
)

type HTTPConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
	// RequestsPerSecond limits outbound calls across all renders sharing
	// this capability. Zero means unlimited.
	RequestsPerSecond float64
}

// HTTP grants outbound requests to an allowlist of hosts. Subdomains of an
// allowed domain are allowed; IP addresses must match exactly.
type HTTP struct {
	cfg     HTTPConfig
	client  *resty.Client
	limiter *rate.Limiter
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	h := &HTTP{cfg: cfg, limiter: rate.NewLimiter(rate.Inf, 0)}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	h.client = resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetHeader("User-Agent", "jsxbox/1.0").
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if host := req.URL.Hostname(); !h.isHostAllowed(host) {
				return fmt.Errorf("redirect to host not allowed: %s", host)
			}
			return nil
		}))
	return h
}

// Module exposes request and get.
func (h *HTTP) Module() Module {
	return Module{
		"request": Func(h.Request),
		"get":     Func(h.Get),
	}
}

func (h *HTTP) Get(ctx context.Context, args map[string]any) (any, error) {
	getArgs := make(map[string]any, len(args)+1)
	for k, v := range args {
		getArgs[k] = v
	}
	getArgs["method"] = "GET"
	return h.Request(ctx, getArgs)
}

func (h *HTTP) Request(ctx context.Context, args map[string]any) (any, error) {
	method, _ := args["method"].(string)
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)

	switch method {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	rawURL, ok := args["url"].(string)
	if !ok || rawURL == "" {
		return nil, fmt.Errorf("url required")
	}

	if len(rawURL) > h.cfg.MaxURLLength {
		return nil, fmt.Errorf("url exceeds max length")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url")
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https")
	}

	if len(h.cfg.AllowedHosts) == 0 {
		return nil, fmt.Errorf("http not enabled")
	}

	host := parsed.Hostname()
	if !h.isHostAllowed(host) {
		return nil, fmt.Errorf("host not allowed: %s", host)
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limited: %w", err)
	}

	req := h.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)

	if bodyStr, ok := args["body"].(string); ok && bodyStr != "" {
		if int64(len(bodyStr)) > h.cfg.MaxBodySize {
			return nil, fmt.Errorf("request body exceeds max size")
		}
		req.SetBody(bodyStr)
	}

	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if vs, ok := v.(string); ok {
				req.SetHeader(k, vs)
			}
		}
	}

	resp, err := req.Execute(method, rawURL)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	respBody, err := io.ReadAll(io.LimitReader(raw, h.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	respHeaders := make(map[string]string)
	for k, v := range resp.Header() {
		if len(v) > 0 {
			respHeaders[k] = v[0]
		}
	}

	return map[string]any{
		"status":  resp.StatusCode(),
		"body":    string(respBody),
		"headers": respHeaders,
	}, nil
}

func (h *HTTP) isHostAllowed(host string) bool {
	hostIP := net.ParseIP(host)
	for _, allowed := range h.cfg.AllowedHosts {
		if allowedIP := net.ParseIP(allowed); allowedIP != nil || hostIP != nil {
			if allowedIP != nil && hostIP != nil && allowedIP.Equal(hostIP) {
				return true
			}
			continue
		}
		host = strings.ToLower(host)
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
