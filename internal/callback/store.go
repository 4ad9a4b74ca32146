// Package callback tracks beacon injections and the out-of-band hits
// they produce. The store is the single writer for callbacks.json and
// injected.json so their layouts stay interoperable with external
// tooling that reads them.
package callback

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/pmb-go/internal/models"
	"github.com/user/pmb-go/internal/pkg/fsjson"
)

const (
	hitsFile       = "callbacks.json"
	injectionsFile = "injected.json"
)

// Store keeps hits and injections in memory and mirrors every mutation
// to disk. Persistence failures are logged and never surface to the
// request path.
type Store struct {
	mu         sync.RWMutex
	hits       []models.CallbackHit
	injections map[string]*models.Injection

	hitsPath       string
	injectionsPath string
	logger         *zap.Logger
}

// NewStore loads existing state from logDir. Missing files mean empty
// state; corrupt files are logged and start fresh. An empty logDir keeps
// the store memory-only.
func NewStore(logDir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		injections: make(map[string]*models.Injection),
		logger:     logger,
	}
	if logDir == "" {
		return s
	}
	s.hitsPath = filepath.Join(logDir, hitsFile)
	s.injectionsPath = filepath.Join(logDir, injectionsFile)

	if err := fsjson.Read(s.hitsPath, &s.hits); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not load callback hits", zap.Error(err))
		s.hits = nil
	}
	if err := fsjson.Read(s.injectionsPath, &s.injections); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not load injections", zap.Error(err))
		s.injections = make(map[string]*models.Injection)
	}
	if s.injections == nil {
		s.injections = make(map[string]*models.Injection)
	}
	return s
}

// RegisterInjection records that a request was marked for injection.
func (s *Store) RegisterInjection(id string, inj models.Injection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inj.Callbacks == nil {
		inj.Callbacks = []models.InjectionCallback{}
	}
	s.injections[id] = &inj
	s.persistInjectionsLocked()
}

// MarkInjected flags an injection as actually rewritten into a response.
// Unknown ids are ignored.
func (s *Store) MarkInjected(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inj, ok := s.injections[id]
	if !ok {
		return
	}
	ts := models.EpochSeconds(at)
	inj.Injected = true
	inj.InjectedAt = &ts
	s.persistInjectionsLocked()
}

// RecordHit appends a beacon hit. When the hit carries a known injection
// id the per-injection callback list is updated under the same lock, so
// a reader never sees the hit without its attribution.
func (s *Store) RecordHit(hit models.CallbackHit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hits = append(s.hits, hit)
	if inj, ok := s.injections[hit.InjectionID]; ok && hit.InjectionID != "" {
		inj.Callbacks = append(inj.Callbacks, models.InjectionCallback{
			Time:       hit.Time,
			RemoteAddr: hit.RemoteAddr,
			Args:       hit.Args,
		})
		s.persistInjectionsLocked()
	}
	s.persistHitsLocked()
}

// ListHits returns all hits in arrival order.
func (s *Store) ListHits() []models.CallbackHit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CallbackHit, len(s.hits))
	copy(out, s.hits)
	return out
}

// ClearHits empties the hit log. Injection records are kept.
func (s *Store) ClearHits() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = nil
	s.persistHitsLocked()
}

// GetInjection returns a copy of one injection record.
func (s *Store) GetInjection(id string) (models.Injection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inj, ok := s.injections[id]
	if !ok {
		return models.Injection{}, false
	}
	return *inj, true
}

// ListInjections returns a copy of all injection records keyed by id.
func (s *Store) ListInjections() map[string]models.Injection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Injection, len(s.injections))
	for id, inj := range s.injections {
		out[id] = *inj
	}
	return out
}

func (s *Store) persistHitsLocked() {
	if s.hitsPath == "" {
		return
	}
	hits := s.hits
	if hits == nil {
		hits = []models.CallbackHit{}
	}
	if err := fsjson.Write(s.hitsPath, hits); err != nil {
		s.logger.Error("failed to persist callback hits", zap.Error(err))
	}
}

func (s *Store) persistInjectionsLocked() {
	if s.injectionsPath == "" {
		return
	}
	if err := fsjson.Write(s.injectionsPath, s.injections); err != nil {
		s.logger.Error("failed to persist injections", zap.Error(err))
	}
}
