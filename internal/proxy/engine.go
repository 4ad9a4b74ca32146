// Package proxy implements the forward HTTP(S) proxy: CONNECT tunneling,
// plain-HTTP forwarding with operator intercept, and response-phase
// beacon injection.
package proxy

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/pmb-go/internal/callback"
	"github.com/user/pmb-go/internal/intercept"
	"github.com/user/pmb-go/internal/models"
	"github.com/user/pmb-go/internal/obs"
	"github.com/user/pmb-go/internal/requestlog"
)

// Trigger headers and query parameters recognized on proxied requests.
const (
	headerInjectPayload = "X-Inject-Payload"
	headerIntercept     = "X-Intercept"
	headerInjectionID   = "X-Injection-Id"
	queryInject         = "inject"
	queryIntercept      = "intercept"
)

const droppedBody = "Intercepted and dropped by operator"

// UpstreamError wraps a failed origin request.
type UpstreamError struct {
	URL string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Config tunes the engine. Zero values fall back to the defaults the
// dashboard documents.
type Config struct {
	// CallbackBase is the absolute URL injected beacons phone home to.
	CallbackBase string
	// BypassHosts are hostnames the proxy forwards verbatim, never
	// injecting or intercepting. The dashboard and callback hosts
	// belong here so the control plane cannot intercept itself.
	BypassHosts []string
	// DecisionWait bounds how long a held request waits for an operator.
	DecisionWait time.Duration
	// UpstreamTimeout bounds the full origin round trip.
	UpstreamTimeout time.Duration
	// DialTimeout bounds CONNECT tunnel dials.
	DialTimeout time.Duration
}

// Deps are the engine's collaborators.
type Deps struct {
	Broker    *intercept.Broker
	Callbacks *callback.Store
	Status    StatusProvider
	ReqLog    *requestlog.Logger
	Metrics   *obs.Metrics
	Logger    *zap.Logger
}

// Engine is the http.Handler bound to the proxy listener.
type Engine struct {
	cfg       Config
	broker    *intercept.Broker
	callbacks *callback.Store
	status    StatusProvider
	reqlog    *requestlog.Logger
	metrics   *obs.Metrics
	logger    *zap.Logger
	client    *http.Client
	bypass    map[string]struct{}
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.DecisionWait <= 0 {
		cfg.DecisionWait = 30 * time.Second
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 15 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ReqLog == nil {
		deps.ReqLog = requestlog.NewDiscard()
	}
	if deps.Metrics == nil {
		deps.Metrics = obs.NewMetrics()
	}

	bypass := make(map[string]struct{}, len(cfg.BypassHosts))
	for _, h := range cfg.BypassHosts {
		h = strings.ToLower(h)
		bypass[h] = struct{}{}
		// A control-plane host reachable as 127.0.0.1 is equally
		// reachable as localhost or ::1; bypassing one name while
		// injecting another would let the proxy intercept itself.
		if isLoopbackHost(h) {
			for _, alias := range loopbackAliases {
				bypass[alias] = struct{}{}
			}
		}
	}

	return &Engine{
		cfg:       cfg,
		broker:    deps.Broker,
		callbacks: deps.Callbacks,
		status:    deps.Status,
		reqlog:    deps.ReqLog,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		bypass:    bypass,
		client: &http.Client{
			Timeout: cfg.UpstreamTimeout,
			Transport: &http.Transport{
				// Never chain through another proxy; that way lies loops.
				Proxy:               nil,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// The client decides what to do with redirects.
				return http.ErrUseLastResponse
			},
		},
	}
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		e.handleTunnel(w, r)
		return
	}
	if !r.URL.IsAbs() {
		e.metrics.ProxyRequests.WithLabelValues("bad_request").Inc()
		http.Error(w, "this is a forward proxy; use an absolute URL", http.StatusBadRequest)
		return
	}
	e.handleForward(w, r)
}

// handleTunnel services CONNECT with a blind TCP relay. TLS bytes pass
// through untouched; there is no interception inside tunnels.
func (e *Engine) handleTunnel(w http.ResponseWriter, r *http.Request) {
	e.reqlog.Request(http.MethodConnect, r.Host, r.Header.Get("User-Agent"))

	dest, err := net.DialTimeout("tcp", r.Host, e.cfg.DialTimeout)
	if err != nil {
		e.metrics.ProxyRequests.WithLabelValues("upstream_error").Inc()
		e.logger.Warn("tunnel dial failed", zap.String("host", r.Host), zap.Error(err))
		http.Error(w, "cannot reach destination", http.StatusBadGateway)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		dest.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hj.Hijack()
	if err != nil {
		dest.Close()
		e.logger.Error("hijack failed", zap.Error(err))
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		dest.Close()
		clientConn.Close()
		return
	}
	e.metrics.ProxyRequests.WithLabelValues("tunneled").Inc()

	done := make(chan struct{}, 2)
	go tunnelCopy(dest, clientConn, done)
	go tunnelCopy(clientConn, dest, done)
	<-done
	<-done
	dest.Close()
	clientConn.Close()
}

func tunnelCopy(dst, src net.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	io.Copy(dst, src) //nolint:errcheck
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite() //nolint:errcheck
	}
}

// handleForward runs the per-request decision procedure: strip the
// reserved header, arm injection, hold for the operator when intercept
// is on, then relay to the origin.
func (e *Engine) handleForward(w http.ResponseWriter, r *http.Request) {
	// Clients do not get to spoof injection attribution.
	r.Header.Del(headerInjectionID)

	e.reqlog.Request(r.Method, r.URL.String(), r.Header.Get("User-Agent"))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		e.metrics.ProxyRequests.WithLabelValues("bad_request").Inc()
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	r.Body.Close()

	method := r.Method
	target := *r.URL
	headers := r.Header.Clone()

	if e.isBypassed(target.Hostname()) {
		e.forward(w, r, method, &target, headers, body, "")
		return
	}

	injectionID := ""
	if truthy(r.Header.Get(headerInjectPayload)) || truthy(r.URL.Query().Get(queryInject)) {
		injectionID = uuid.NewString()
		e.callbacks.RegisterInjection(injectionID, models.Injection{
			Time:      models.EpochSeconds(time.Now()),
			Method:    method,
			URL:       target.String(),
			ClientIP:  clientIP(r.RemoteAddr),
			UserAgent: headers.Get("User-Agent"),
		})
		headers.Set(headerInjectionID, injectionID)
		e.logger.Info("injection armed",
			zap.String("injection_id", injectionID),
			zap.String("url", target.String()))
	}

	if e.interceptRequested(r) {
		d := e.awaitDecision(r, method, &target, headers, body)
		if d == nil {
			e.metrics.Decisions.WithLabelValues("timeout").Inc()
		} else {
			switch d.Kind {
			case models.DecisionDrop:
				e.metrics.Decisions.WithLabelValues("drop").Inc()
				e.metrics.ProxyRequests.WithLabelValues("dropped").Inc()
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusTeapot)
				io.WriteString(w, droppedBody) //nolint:errcheck
				e.reqlog.Response(method, target.String(), http.StatusTeapot, "text/plain")
				return
			case models.DecisionModify:
				e.metrics.Decisions.WithLabelValues("modify").Inc()
				applyModification(d.Modified, &method, &target, headers, &body)
			default:
				e.metrics.Decisions.WithLabelValues("forward").Inc()
			}
		}
	}

	e.forward(w, r, method, &target, headers, body, injectionID)
}

// awaitDecision parks the request on the broker until the operator rules
// or the deadline passes. Any broker fault fails open: a nil return
// means forward unchanged.
func (e *Engine) awaitDecision(r *http.Request, method string, target *url.URL, headers http.Header, body []byte) *models.Decision {
	flowID := uuid.NewString()
	e.broker.Submit(models.Flow{
		FlowID: flowID,
		Data: models.FlowData{
			Method:      method,
			URL:         target.String(),
			Path:        target.Path,
			HTTPVersion: r.Proto,
			Headers:     flattenHeaders(headers),
			Body:        bodyText(body),
			BodyEncoding: func() string {
				if len(body) > 0 && !utf8.Valid(body) {
					return "base64"
				}
				return ""
			}(),
			ClientAddr: clientIP(r.RemoteAddr),
		},
		Created: models.EpochSeconds(time.Now()),
	})
	e.metrics.InterceptedFlows.Inc()

	d, err := e.broker.Await(r.Context(), flowID, e.cfg.DecisionWait)
	if err != nil {
		e.logger.Warn("decision wait aborted",
			zap.String("flow_id", flowID), zap.Error(err))
		return nil
	}
	return d
}

// forward relays the (possibly modified) request to the origin and the
// response back, injecting the beacon into HTML when armed.
func (e *Engine) forward(w http.ResponseWriter, r *http.Request, method string, target *url.URL, headers http.Header, body []byte, injectionID string) {
	outReq, err := http.NewRequestWithContext(r.Context(), method, target.String(), bytes.NewReader(body))
	if err != nil {
		e.metrics.ProxyRequests.WithLabelValues("bad_request").Inc()
		http.Error(w, "cannot build upstream request", http.StatusBadRequest)
		return
	}
	outReq.Header = headers.Clone()
	removeHopByHopHeaders(outReq.Header)
	if host := outReq.Header.Get("Host"); host != "" {
		outReq.Host = host
		outReq.Header.Del("Host")
	}
	outReq.ContentLength = int64(len(body))
	if injectionID != "" {
		// Rewriting compressed HTML is not worth it; ask for identity.
		outReq.Header.Set("Accept-Encoding", "identity")
	}

	start := time.Now()
	resp, err := e.client.Do(outReq)
	if err != nil {
		uerr := &UpstreamError{URL: target.String(), Err: err}
		e.metrics.ProxyRequests.WithLabelValues("upstream_error").Inc()
		e.logger.Warn("upstream request failed", zap.Error(uerr))
		http.Error(w, uerr.Error(), http.StatusBadGateway)
		e.reqlog.Response(method, target.String(), http.StatusBadGateway, "")
		return
	}
	defer resp.Body.Close()
	e.metrics.UpstreamDuration.Observe(time.Since(start).Seconds())

	respHeaders := resp.Header.Clone()
	removeHopByHopHeaders(respHeaders)

	contentType := resp.Header.Get("Content-Type")
	if injectionID != "" && isInjectable(contentType) {
		e.writeInjected(w, resp, respHeaders, injectionID)
	} else {
		if injectionID != "" {
			e.metrics.Injections.WithLabelValues("skipped").Inc()
		}
		copyHeaders(w.Header(), respHeaders)
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body) //nolint:errcheck
	}

	e.metrics.ProxyRequests.WithLabelValues("forwarded").Inc()
	e.reqlog.Response(method, target.String(), resp.StatusCode, contentType)
}

// writeInjected buffers an HTML response, splices in the beacon, and
// sends it with a corrected Content-Length. Failures degrade to the
// unmodified payload; the page must render either way.
func (e *Engine) writeInjected(w http.ResponseWriter, resp *http.Response, respHeaders http.Header, injectionID string) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.metrics.Injections.WithLabelValues("failed").Inc()
		e.logger.Warn("injection read failed",
			zap.String("injection_id", injectionID), zap.Error(err))
		// Only part of the body arrived; the upstream Content-Length
		// no longer matches what goes out.
		respHeaders.Del("Content-Length")
		copyHeaders(w.Header(), respHeaders)
		w.WriteHeader(resp.StatusCode)
		w.Write(raw) //nolint:errcheck
		return
	}

	if !utf8.Valid(raw) {
		e.metrics.Injections.WithLabelValues("failed").Inc()
		e.logger.Warn("injection skipped, body is not valid UTF-8",
			zap.String("injection_id", injectionID), zap.Int("size", len(raw)))
		copyHeaders(w.Header(), respHeaders)
		w.WriteHeader(resp.StatusCode)
		w.Write(raw) //nolint:errcheck
		return
	}

	mutated, appended := injectBeacon(raw, injectionID, e.cfg.CallbackBase)
	e.callbacks.MarkInjected(injectionID, time.Now())
	result := "injected"
	if appended {
		result = "appended"
	}
	e.metrics.Injections.WithLabelValues(result).Inc()
	e.logger.Info("beacon injected",
		zap.String("injection_id", injectionID),
		zap.Bool("appended", appended),
		zap.Int("size", len(mutated)))

	respHeaders.Del("Content-Length")
	respHeaders.Del("Content-Encoding")
	copyHeaders(w.Header(), respHeaders)
	w.Header().Set("Content-Length", fmt.Sprint(len(mutated)))
	w.WriteHeader(resp.StatusCode)
	w.Write(mutated) //nolint:errcheck
}

func (e *Engine) interceptRequested(r *http.Request) bool {
	if truthy(r.Header.Get(headerIntercept)) || truthy(r.URL.Query().Get(queryIntercept)) {
		return true
	}
	return e.status != nil && e.status.Enabled()
}

func (e *Engine) isBypassed(hostname string) bool {
	_, ok := e.bypass[strings.ToLower(hostname)]
	return ok
}

// loopbackAliases are the names a loopback-bound control plane answers
// on regardless of which one the config spells out.
var loopbackAliases = []string{"localhost", "127.0.0.1", "::1"}

func isLoopbackHost(hostname string) bool {
	if hostname == "localhost" {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

func applyModification(m *models.Modification, method *string, target *url.URL, headers http.Header, body *[]byte) {
	if m == nil {
		return
	}
	if m.Method != "" {
		*method = strings.ToUpper(m.Method)
	}
	if m.URL != "" {
		if u, err := url.Parse(m.URL); err == nil && u.IsAbs() && u.Host != "" {
			*target = *u
		}
	}
	if m.Headers != nil {
		clear(headers)
		for k, v := range m.Headers {
			headers.Set(k, v)
		}
	}
	if m.Body.Set {
		if m.Body.Null {
			*body = nil
		} else {
			*body = []byte(m.Body.Value)
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func bodyText(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}
