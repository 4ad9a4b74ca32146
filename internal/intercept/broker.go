// Package intercept holds requests pending an operator decision and
// delivers each decision to its submitter exactly once.
package intercept

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/user/pmb-go/internal/models"
)

// entry is one pending flow. decision transitions nil -> non-nil at most
// once, always inside a Compute on the owning key; decided is closed at
// the same point so waiters wake without polling.
type entry struct {
	flow     models.Flow
	decision *models.Decision
	decided  chan struct{}
}

// Broker is the rendezvous between proxy workers submitting flows and
// operators deciding them. A flow leaves the table when its decision is
// claimed, when the submitter gives up, or when the purger sweeps it.
type Broker struct {
	flows  *xsync.Map[string, *entry]
	logger *zap.Logger
}

func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		flows:  xsync.NewMap[string, *entry](),
		logger: logger,
	}
}

// Submit registers a flow as pending. Re-submitting an id that is still
// in the table is a no-op; the original snapshot wins.
func (b *Broker) Submit(flow models.Flow) {
	if flow.Created == 0 {
		flow.Created = models.EpochSeconds(time.Now())
	}
	_, loaded := b.flows.LoadOrStore(flow.FlowID, &entry{
		flow:    flow,
		decided: make(chan struct{}),
	})
	if loaded {
		b.logger.Debug("duplicate flow submission ignored",
			zap.String("flow_id", flow.FlowID))
		return
	}
	b.logger.Info("flow pending decision",
		zap.String("flow_id", flow.FlowID),
		zap.String("method", flow.Data.Method),
		zap.String("url", flow.Data.URL))
}

// ListPending returns undecided flows, newest first.
func (b *Broker) ListPending() []models.Flow {
	var out []models.Flow
	b.flows.Range(func(_ string, e *entry) bool {
		select {
		case <-e.decided:
		default:
			out = append(out, e.flow)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Created > out[j].Created
	})
	return out
}

// Decide records the operator verdict for a pending flow and wakes its
// waiter. Deciding a flow that is absent or already decided returns
// ErrUnknownFlow. Modify decisions are validated here so a bad
// replacement URL is rejected before it can reach the forwarding path.
func (b *Broker) Decide(flowID string, d models.Decision) error {
	if err := validateDecision(d); err != nil {
		return err
	}
	var decideErr error
	b.flows.Compute(flowID, func(e *entry, loaded bool) (*entry, xsync.ComputeOp) {
		if !loaded {
			decideErr = ErrUnknownFlow
			return nil, xsync.CancelOp
		}
		select {
		case <-e.decided:
			decideErr = ErrUnknownFlow
			return e, xsync.CancelOp
		default:
		}
		e.decision = &d
		close(e.decided)
		return e, xsync.UpdateOp
	})
	if decideErr != nil {
		return decideErr
	}
	b.logger.Info("flow decided",
		zap.String("flow_id", flowID),
		zap.String("decision", d.Kind))
	return nil
}

// Claim hands out the decision for a flow, removing it from the table.
// A second claim, or a claim on an undecided or unknown flow, returns nil.
func (b *Broker) Claim(flowID string) *models.Decision {
	var claimed *models.Decision
	b.flows.Compute(flowID, func(e *entry, loaded bool) (*entry, xsync.ComputeOp) {
		if !loaded || e.decision == nil {
			return e, xsync.CancelOp
		}
		claimed = e.decision
		return nil, xsync.DeleteOp
	})
	return claimed
}

// Await blocks until the flow is decided, the timeout elapses, or ctx is
// done. On timeout or cancellation the flow is expired (removed without a
// decision) and Await returns nil, nil: the caller should fail open.
func (b *Broker) Await(ctx context.Context, flowID string, timeout time.Duration) (*models.Decision, error) {
	e, ok := b.flows.Load(flowID)
	if !ok {
		return nil, ErrUnknownFlow
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.decided:
		return b.Claim(flowID), nil
	case <-timer.C:
		b.expire(flowID)
		b.logger.Info("decision wait timed out, forwarding",
			zap.String("flow_id", flowID))
		return nil, nil
	case <-ctx.Done():
		b.expire(flowID)
		return nil, ctx.Err()
	}
}

// expire removes a flow only while it is still undecided. A decision that
// raced in stays claimable until the purger ages it out.
func (b *Broker) expire(flowID string) {
	b.flows.Compute(flowID, func(e *entry, loaded bool) (*entry, xsync.ComputeOp) {
		if !loaded || e.decision != nil {
			return e, xsync.CancelOp
		}
		return nil, xsync.DeleteOp
	})
}

// Purge drops flows older than maxAge and returns how many were removed.
// Undecided and decided-but-unclaimed flows are both eligible: a claim
// that never came means the submitter is long gone.
func (b *Broker) Purge(maxAge time.Duration) int {
	cutoff := models.EpochSeconds(time.Now().Add(-maxAge))
	removed := 0
	b.flows.Range(func(id string, e *entry) bool {
		if e.flow.Created >= cutoff {
			return true
		}
		b.flows.Compute(id, func(cur *entry, loaded bool) (*entry, xsync.ComputeOp) {
			if !loaded || cur.flow.Created >= cutoff {
				return cur, xsync.CancelOp
			}
			removed++
			return nil, xsync.DeleteOp
		})
		return true
	})
	if removed > 0 {
		b.logger.Info("purged stale flows", zap.Int("count", removed))
	}
	return removed
}

// Size reports how many flows are currently in the table.
func (b *Broker) Size() int {
	return b.flows.Size()
}

func validateDecision(d models.Decision) error {
	switch d.Kind {
	case models.DecisionForward, models.DecisionDrop:
		return nil
	case models.DecisionModify:
		if d.Modified == nil {
			return fmt.Errorf("%w: modify without modifications", ErrInvalidDecision)
		}
		if d.Modified.URL != "" {
			u, err := url.Parse(d.Modified.URL)
			if err != nil || !u.IsAbs() || u.Host == "" {
				return fmt.Errorf("%w: bad url %q", ErrInvalidDecision, d.Modified.URL)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidDecision, d.Kind)
	}
}
