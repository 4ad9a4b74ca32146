package intercept

import (
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/user/pmb-go/internal/pkg/fsjson"
)

// Toggle is the global intercept-mode switch. It persists across restarts
// via a small JSON state file; a missing or unreadable file means off.
type Toggle struct {
	mu      sync.Mutex
	enabled bool
	path    string
	logger  *zap.Logger
}

type toggleState struct {
	Enabled bool `json:"enabled"`
}

// NewToggle loads the persisted state from path. An empty path keeps the
// toggle memory-only.
func NewToggle(path string, logger *zap.Logger) *Toggle {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Toggle{path: path, logger: logger}
	if path == "" {
		return t
	}
	var st toggleState
	if err := fsjson.Read(path, &st); err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("intercept state unreadable, defaulting off",
				zap.String("path", path), zap.Error(err))
		}
		return t
	}
	t.enabled = st.Enabled
	return t
}

func (t *Toggle) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Set forces the toggle to a value and returns the new state.
func (t *Toggle) Set(enabled bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	t.persistLocked()
	return t.enabled
}

// Flip inverts the toggle and returns the new state.
func (t *Toggle) Flip() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = !t.enabled
	t.persistLocked()
	return t.enabled
}

func (t *Toggle) persistLocked() {
	if t.path == "" {
		return
	}
	if err := fsjson.Write(t.path, toggleState{Enabled: t.enabled}); err != nil {
		t.logger.Error("failed to persist intercept state",
			zap.String("path", t.path), zap.Error(err))
	}
}
