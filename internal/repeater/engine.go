// Package repeater sends operator-crafted requests from the dashboard.
// It is a deliberate SSRF surface, so targets on loopback or private
// ranges are refused outright.
package repeater

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrPolicyDenied marks a target the repeater refuses to contact.
var ErrPolicyDenied = errors.New("target host denied by policy")

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 200_000
)

// binaryTypePrefixes are content types whose bodies are elided from the
// result instead of being dumped into the dashboard.
var binaryTypePrefixes = []string{
	"application/octet-stream",
	"application/pdf",
	"application/zip",
	"image/",
	"audio/",
	"video/",
	"font/",
}

// Options describes one request to replay.
type Options struct {
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	TimeoutSeconds  float64           `json:"timeout"`
	FollowRedirects bool              `json:"allow_redirects"`
	VerifySSL       bool              `json:"verify_ssl"`
}

// Result is what the dashboard renders for a completed send.
type Result struct {
	StatusCode int               `json:"status_code"`
	Reason     string            `json:"reason"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	BodyNote   string            `json:"body_note,omitempty"`
	ElapsedMS  float64           `json:"elapsed_ms"`
	URL        string            `json:"url"`
}

// Engine performs sends. One engine is shared by all dashboard users;
// the HTTP client is built per call because timeout, redirect policy and
// TLS verification are all operator-chosen.
type Engine struct {
	logger *zap.Logger

	// allowLocal disables the private-host policy. Tests only.
	allowLocal bool
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Send performs the request described by opts.
func (e *Engine) Send(ctx context.Context, opts Options) (*Result, error) {
	target, err := url.Parse(opts.URL)
	if err != nil || !target.IsAbs() || target.Host == "" {
		return nil, fmt.Errorf("invalid url %q", opts.URL)
	}
	if !e.allowLocal && isPrivateHost(target.Hostname()) {
		return nil, fmt.Errorf("%w: %s", ErrPolicyDenied, target.Hostname())
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), strings.NewReader(opts.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	client := e.buildClient(opts)
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	e.logger.Info("repeater send",
		zap.String("method", method),
		zap.String("url", target.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed))

	result := &Result{
		StatusCode: resp.StatusCode,
		Reason:     strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode))),
		Headers:    flattenHeaders(resp.Header),
		ElapsedMS:  float64(elapsed) / float64(time.Millisecond),
		URL:        resp.Request.URL.String(),
	}

	contentType := resp.Header.Get("Content-Type")
	if isBinaryType(contentType) {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes)) //nolint:errcheck
		result.BodyNote = fmt.Sprintf("binary content (%s) not shown", contentType)
		return result, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
		result.BodyNote = fmt.Sprintf("truncated at %d bytes", maxBodyBytes)
	}
	result.Body = string(body)
	return result, nil
}

func (e *Engine) buildClient(opts Options) *http.Client {
	timeout := defaultTimeout
	if opts.TimeoutSeconds > 0 {
		timeout = time.Duration(opts.TimeoutSeconds * float64(time.Second))
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: nil,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !opts.VerifySSL, //nolint:gosec
			},
		},
	}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// isPrivateHost refuses loopback, private, link-local and unspecified
// addresses, plus the localhost name. Hostnames that resolve to private
// space are out of scope here; the check guards against the obvious
// dashboard-to-localhost pivot.
func isPrivateHost(host string) bool {
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

func isBinaryType(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, prefix := range binaryTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}
