package intercept

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Purger periodically sweeps stale flows out of a broker so an operator
// who walks away does not leave the pending list growing forever.
type Purger struct {
	broker   *Broker
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPurger(broker *Broker, interval, maxAge time.Duration, logger *zap.Logger) *Purger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Purger{
		broker:   broker,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (p *Purger) Start() {
	p.wg.Add(1)
	go p.run()
	p.logger.Info("flow purger started",
		zap.Duration("interval", p.interval),
		zap.Duration("max_age", p.maxAge))
}

func (p *Purger) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Purger) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.broker.Purge(p.maxAge)
		case <-p.stopCh:
			return
		}
	}
}
