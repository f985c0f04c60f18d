// Package orchestrator owns the per-turn lifecycle: it loads the session
// state, walks the specialist routing graph, merges deltas, recomputes the
// phase, and persists the results exactly once at the end of the turn.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/solcredito/solcredito/internal/domain"
	"github.com/solcredito/solcredito/internal/metrics"
	"github.com/solcredito/solcredito/internal/store"
)

var tracer = otel.Tracer("solcredito/orchestrator")

// TurnState labels the stage a turn is in, for logs and trace attributes.
type TurnState string

const (
	TurnLoading    TurnState = "loading"
	TurnRouting    TurnState = "routing"
	TurnPersisting TurnState = "persisting"
	TurnComplete   TurnState = "complete"
	TurnFailed     TurnState = "failed"
)

// fallbackReply is sent when no specialist managed to produce an assistant
// message for the turn.
const fallbackReply = "Sorry, something went wrong on my end. Could you send that again?"

// Options tunes the turn loop.
type Options struct {
	// MaxHops caps specialist handoffs within one turn.
	MaxHops int
	// StrictGate makes premature underwriting handoffs fail the turn instead
	// of being silently downgraded.
	StrictGate bool
	// TurnTimeout bounds the whole turn including model calls.
	TurnTimeout time.Duration
	// PersistTimeout bounds the end-of-turn writes. Persistence runs on a
	// context detached from the request so a hung client cannot cancel it.
	PersistTimeout time.Duration
	// RetryInterval is the delay between background persistence retries.
	RetryInterval time.Duration
}

// DefaultOptions returns the production defaults. The hop ceiling leaves room
// for the longest legitimate turn, onboarding bouncing through underwriting,
// coaching, and servicing on an acceptance.
func DefaultOptions() Options {
	return Options{
		MaxHops:        6,
		TurnTimeout:    30 * time.Second,
		PersistTimeout: 5 * time.Second,
		RetryInterval:  2 * time.Second,
	}
}

// TurnResult is what the transport layer renders back to the caller.
type TurnResult struct {
	Reply domain.Message
	State *domain.State
}

// Orchestrator coordinates one turn at a time per session.
type Orchestrator struct {
	store       store.Store
	specialists map[SpecialistID]Specialist
	logger      *slog.Logger
	opts        Options
	locks       *sessionLocks
	retries     *store.RetryQueue
}

// New builds an orchestrator over the given store and specialists. The
// onboarding specialist is mandatory: every turn starts there.
func New(st store.Store, specialists []Specialist, logger *slog.Logger, opts Options) (*Orchestrator, error) {
	if opts.MaxHops <= 0 {
		opts.MaxHops = DefaultOptions().MaxHops
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultOptions().TurnTimeout
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultOptions().PersistTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultOptions().RetryInterval
	}

	byID := make(map[SpecialistID]Specialist, len(specialists))
	for _, sp := range specialists {
		byID[sp.ID()] = sp
	}
	if _, ok := byID[SpecialistOnboarding]; !ok {
		return nil, fmt.Errorf("onboarding specialist is required")
	}

	return &Orchestrator{
		store:       st,
		specialists: byID,
		logger:      logger,
		opts:        opts,
		locks:       newSessionLocks(),
		retries:     store.NewRetryQueue(logger, opts.RetryInterval, 5),
	}, nil
}

// Close drains background persistence retries.
func (o *Orchestrator) Close() {
	o.retries.Close()
}

// Turn runs one full conversation turn for the session: append the inbound
// message, walk the specialist graph starting at onboarding, and persist. It
// always returns a reply when the session itself could be set up; specialist
// failures degrade to a fallback reply rather than an error.
func (o *Orchestrator) Turn(ctx context.Context, sessionID, userID string, inbound domain.Message) (*TurnResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.opts.TurnTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "conversation.turn")
	span.SetAttributes(attribute.String("session.id", sessionID))
	defer span.End()

	setTurnState := func(st TurnState) {
		span.SetAttributes(attribute.String("turn.state", string(st)))
		o.logger.Debug("turn state", "session_id", sessionID, "state", string(st))
	}
	setTurnState(TurnLoading)

	release := o.locks.acquire(sessionID)
	defer release()

	convID, err := o.store.GetOrCreateConversation(ctx, userID, sessionID)
	if err != nil {
		setTurnState(TurnFailed)
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}

	state, err := o.store.LoadState(ctx, convID)
	if err != nil {
		setTurnState(TurnFailed)
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load state: %w", err)
	}
	if state == nil {
		state = domain.NewState(sessionID, userID)
	}
	state.ConversationID = convID
	state.Revision++

	baseline := len(state.Messages)
	state.Messages = append(state.Messages, inbound)

	setTurnState(TurnRouting)
	outcome := o.runGraph(ctx, state)

	if !replyProduced(state, baseline+1) {
		state.Messages = append(state.Messages, domain.TextMessage(domain.RoleAssistant, fallbackReply))
	}

	setTurnState(TurnPersisting)
	o.persist(state)
	setTurnState(TurnComplete)

	span.SetAttributes(
		attribute.String("turn.outcome", outcome),
		attribute.String("turn.phase", string(state.Phase)),
	)

	reply := lastAssistantMessage(state)
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	metrics.TurnDuration.Observe(time.Since(start).Seconds())

	o.logger.Info("turn complete",
		"session_id", sessionID,
		"conversation_id", convID,
		"phase", string(state.Phase),
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &TurnResult{Reply: reply, State: state.Snapshot()}, nil
}

// runGraph walks specialists starting at onboarding until a route ends the
// turn or the hop ceiling is hit. Returns a turn outcome label.
func (o *Orchestrator) runGraph(ctx context.Context, state *domain.State) string {
	current := SpecialistOnboarding
	hadOffer := state.LoanOffer != nil
	hops := 0
	visited := make(map[SpecialistID]bool)

	for current != SpecialistEnd {
		hops++
		if hops > o.opts.MaxHops {
			o.logger.Warn("routing hop ceiling reached, ending turn",
				"session_id", state.SessionID, "hops", hops-1)
			metrics.RoutingHops.Observe(float64(hops - 1))
			// A routing loop is a specialist failure: whatever the looping
			// specialist said is untrustworthy, so the turn degrades to the
			// fallback reply while the partial state still persists.
			state.Messages = append(state.Messages, domain.TextMessage(domain.RoleAssistant, fallbackReply))
			return "hop_ceiling"
		}

		sp, ok := o.specialists[current]
		if !ok {
			o.logger.Error("no specialist registered", "specialist", string(current))
			return "error"
		}

		hopCtx, hopSpan := tracer.Start(ctx, "specialist."+string(current))
		delta, next, err := sp.Run(hopCtx, state)
		if err != nil {
			hopSpan.SetStatus(codes.Error, err.Error())
			hopSpan.End()
			metrics.SpecialistRuns.WithLabelValues(string(current), "error").Inc()
			o.logger.Error("specialist failed",
				"specialist", string(current), "session_id", state.SessionID, "error", err)
			return "specialist_error"
		}
		hopSpan.End()
		metrics.SpecialistRuns.WithLabelValues(string(current), "ok").Inc()

		state.Apply(delta)
		state.Phase = domain.NextPhase(state)

		routed, err := Route(next, state, o.opts.StrictGate)
		if err != nil {
			if errors.Is(err, ErrGateRejected) {
				o.logger.Warn("underwriting handoff rejected by gate",
					"session_id", state.SessionID, "from", string(current))
				return "gate_rejected"
			}
			o.logger.Error("routing failed", "requested", string(next), "error", err)
			return "error"
		}
		if next == SpecialistUnderwriting && routed == SpecialistEnd {
			metrics.GateDowngrades.Inc()
			o.logger.Warn("underwriting handoff downgraded, gate not satisfied",
				"session_id", state.SessionID, "from", string(current))
		}

		// A non-onboarding specialist runs at most once per turn; the state
		// it produced is already folded in, so a repeat request ends the
		// turn instead of re-running it.
		if routed != SpecialistEnd && routed != SpecialistOnboarding {
			if visited[routed] {
				routed = SpecialistEnd
			} else {
				visited[routed] = true
			}
		}
		current = routed
	}

	if !hadOffer && state.LoanOffer != nil {
		metrics.OffersGenerated.Inc()
	}
	metrics.RoutingHops.Observe(float64(hops))
	return "ok"
}

// persist runs the end-of-turn writes on a detached context. Failures are
// queued for background retry and never surface to the caller.
func (o *Orchestrator) persist(state *domain.State) {
	snap := state.Snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), o.opts.PersistTimeout)
	defer cancel()

	if err := o.persistOnce(ctx, snap); err != nil {
		o.logger.Error("turn persistence failed, queueing retry",
			"conversation_id", snap.ConversationID, "error", err)
		o.retries.Enqueue("persist "+snap.ConversationID, func(ctx context.Context) error {
			return o.retryPersist(ctx, snap)
		})
		return
	}

	// Carry the accounting forward so the in-memory state matches what the
	// store now holds.
	state.PersistedMessages = snap.PersistedMessages
	state.OfferPersisted = snap.OfferPersisted
}

// retryPersist re-runs a failed turn's writes under the session lock, unless
// a later turn already persisted. Each snapshot carries the turn's revision;
// once the store holds that revision or a newer one, replaying the old
// snapshot would append its messages after the newer turn's rows and roll the
// state back, so the stale job is dropped instead.
func (o *Orchestrator) retryPersist(ctx context.Context, snap *domain.State) error {
	release := o.locks.acquire(snap.SessionID)
	defer release()

	stored, err := o.store.LoadState(ctx, snap.ConversationID)
	if err != nil {
		return fmt.Errorf("reload state: %w", err)
	}
	if stored != nil && stored.Revision >= snap.Revision {
		o.logger.Warn("dropping stale persistence retry",
			"conversation_id", snap.ConversationID,
			"revision", snap.Revision, "stored_revision", stored.Revision)
		return nil
	}
	return o.persistOnce(ctx, snap)
}

// persistOnce performs the turn's writes in order: new messages, the loan
// offer (write-once), the loan status, then the state snapshot. It advances
// the accounting fields on st as each step lands so a retry after a partial
// failure never duplicates a write.
func (o *Orchestrator) persistOnce(ctx context.Context, st *domain.State) error {
	if pending := st.Messages[st.PersistedMessages:]; len(pending) > 0 {
		if err := o.store.AppendMessages(ctx, st.ConversationID, pending); err != nil {
			metrics.PersistFailures.WithLabelValues("messages").Inc()
			return fmt.Errorf("append messages: %w", err)
		}
		st.PersistedMessages = len(st.Messages)
	}

	if st.LoanOffer != nil && !st.OfferPersisted {
		err := o.store.SaveLoanOffer(ctx, st.ConversationID, st.UserID, *st.LoanOffer, st.RiskScore, st.LoanPurpose)
		if err != nil && !errors.Is(err, store.ErrOfferExists) {
			metrics.PersistFailures.WithLabelValues("offer").Inc()
			return fmt.Errorf("save loan offer: %w", err)
		}
		st.OfferPersisted = true
	}

	if st.OfferPersisted {
		if err := o.store.UpdateLoanStatus(ctx, st.ConversationID, loanStatusFor(st)); err != nil {
			metrics.PersistFailures.WithLabelValues("status").Inc()
			return fmt.Errorf("update loan status: %w", err)
		}
	}

	if err := o.store.SaveState(ctx, st); err != nil {
		metrics.PersistFailures.WithLabelValues("state").Inc()
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// loanStatusFor maps state to the stored loan status. The application is
// "disbursed" from the moment the transfer is initiated, not when it lands.
func loanStatusFor(st *domain.State) string {
	switch {
	case st.DisbursementStatus != "":
		return store.LoanStatusDisbursed
	case st.LoanAccepted:
		return store.LoanStatusAccepted
	default:
		return store.LoanStatusOffered
	}
}

// replyProduced reports whether any assistant message was appended at or
// after index from.
func replyProduced(st *domain.State, from int) bool {
	for i := from; i < len(st.Messages); i++ {
		if st.Messages[i].Role == domain.RoleAssistant {
			return true
		}
	}
	return false
}

func lastAssistantMessage(st *domain.State) domain.Message {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == domain.RoleAssistant {
			return st.Messages[i]
		}
	}
	return domain.Message{}
}
