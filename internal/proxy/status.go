package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// StatusProvider answers whether intercept mode is on. The proxy checks
// it on every plain-HTTP request, so implementations must be cheap.
type StatusProvider interface {
	Enabled() bool
}

const (
	statusCacheTTL     = 1 * time.Second
	statusProbeTimeout = 1500 * time.Millisecond
)

// RemoteStatus probes a dashboard's /ui/intercept/status endpoint.
// Results are cached briefly and the last known value is reused when the
// dashboard is unreachable, so a dashboard outage never stalls or
// flip-flops the proxy.
type RemoteStatus struct {
	url    string
	client *http.Client

	mu      sync.Mutex
	enabled bool
	fetched time.Time
}

// NewRemoteStatus builds a provider for a dashboard base URL such as
// "http://127.0.0.1:5000".
func NewRemoteStatus(dashboardURL string) *RemoteStatus {
	return &RemoteStatus{
		url:    dashboardURL + "/ui/intercept/status",
		client: &http.Client{Timeout: statusProbeTimeout},
	}
}

func (s *RemoteStatus) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.fetched) < statusCacheTTL {
		return s.enabled
	}
	enabled, err := s.probe()
	if err != nil {
		// Keep serving the stale value; refresh the stamp so we do not
		// hammer a dead dashboard on every request.
		s.fetched = time.Now()
		return s.enabled
	}
	s.enabled = enabled
	s.fetched = time.Now()
	return s.enabled
}

func (s *RemoteStatus) probe() (bool, error) {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("status probe: HTTP %d", resp.StatusCode)
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("status probe: %w", err)
	}
	return body.Enabled, nil
}
