// Package orchestrator glues the prompt builder and the session manager
// together to drive one scheduled call occurrence from start to teardown.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"eldervoice/internal/logger"
	"eldervoice/internal/metrics"
	"eldervoice/internal/prompt"
	"eldervoice/internal/voice"
	"eldervoice/pkg/models"

	"github.com/sirupsen/logrus"
)

// SessionDriver is the narrow slice of the voice client this facade needs.
type SessionDriver interface {
	StartSession(ctx context.Context, pkg *prompt.PromptPackage) (*voice.Session, error)
	EndSession(ctx context.Context, s *voice.Session) error
}

// CallOutcome is the only result a caller of this subsystem sees: either the
// call completed or it never connected.
type CallOutcome struct {
	Connected       bool   `json:"connected"`
	SessionID       string `json:"session_id,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Reason          string `json:"reason,omitempty"`

	// Retryable marks an unconnected attempt the scheduler may try again.
	// Missing or revoked credentials and provider rejections are configuration
	// faults or defects, so another attempt cannot succeed until an operator
	// intervenes.
	Retryable bool `json:"-"`
}

func Completed(sessionID string, duration time.Duration) CallOutcome {
	return CallOutcome{
		Connected:       true,
		SessionID:       sessionID,
		DurationSeconds: int(duration.Seconds()),
	}
}

func NotConnected(reason string, retryable bool) CallOutcome {
	return CallOutcome{Connected: false, Reason: reason, Retryable: retryable}
}

type Orchestrator struct {
	driver      SessionDriver
	maxDuration time.Duration
	log         *logger.Logger
}

func New(driver SessionDriver, maxDuration time.Duration, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		driver:      driver,
		maxDuration: maxDuration,
		log:         log,
	}
}

// RunScheduledCall drives one call occurrence for a care recipient: build
// the prompt package, open a session, wait for the call to end, and tear
// the session down. EndSession runs on every exit path so no session is
// ever leaked in Active state. A failed start is returned as NotConnected
// without retry; retry decisions belong to the scheduler.
func (o *Orchestrator) RunScheduledCall(ctx context.Context, rec *models.CareRecipient) CallOutcome {
	return o.RunCall(ctx, rec, nil)
}

// RunCall is RunScheduledCall with a hook: onStart receives the live session
// right after it opens, so a transport can route user turns into it while
// this call blocks waiting for the end.
func (o *Orchestrator) RunCall(ctx context.Context, rec *models.CareRecipient, onStart func(*voice.Session)) CallOutcome {
	pkg, err := prompt.BuildPromptPackage(rec)
	if err != nil {
		o.log.Error("Cannot build prompt package", logrus.Fields{"error": err.Error()})
		return o.finish(NotConnected("invalid care profile", false))
	}

	metrics.CallsStartedTotal.Inc()

	sess, err := o.driver.StartSession(ctx, pkg)
	if err != nil {
		o.log.Warn("Session start failed", logrus.Fields{
			"recipient_id": rec.ID,
			"error":        err.Error(),
		})
		reason, retryable := reasonFor(err)
		return o.finish(NotConnected(reason, retryable))
	}

	endSession := func() {
		if err := o.driver.EndSession(context.Background(), sess); err != nil {
			o.log.Warn("Session teardown reported an error", logrus.Fields{
				"session_id": sess.ID,
				"error":      err.Error(),
			})
		}
	}
	// Backstop against panics and early returns; EndSession is idempotent.
	defer endSession()

	if onStart != nil {
		onStart(sess)
	}

	o.waitForCallEnd(ctx, sess)
	endSession()

	o.log.Info("Scheduled call finished", logrus.Fields{
		"recipient_id": rec.ID,
		"session_id":   sess.ID,
		"duration":     sess.Duration().Round(time.Second).String(),
	})
	return o.finish(Completed(sess.ID, sess.Duration()))
}

// waitForCallEnd blocks until the conversation reaches a terminal state, the
// caller hangs up (ctx cancelled), or the local duration backstop fires. The
// provider enforces the real maximum on its side; the local timer only
// guards against a session whose end we never observe.
func (o *Orchestrator) waitForCallEnd(ctx context.Context, sess *voice.Session) {
	backstop := o.maxDuration + 30*time.Second

	timer := time.NewTimer(backstop)
	defer timer.Stop()

	select {
	case <-sess.Done():
	case <-ctx.Done():
	case <-timer.C:
		o.log.Warn("Call hit local duration backstop", logrus.Fields{"session_id": sess.ID})
	}
}

func (o *Orchestrator) finish(outcome CallOutcome) CallOutcome {
	if outcome.Connected {
		metrics.CallOutcomesTotal.WithLabelValues("completed").Inc()
		metrics.CallDurationSeconds.Observe(float64(outcome.DurationSeconds))
	} else {
		metrics.CallOutcomesTotal.WithLabelValues("not_connected").Inc()
	}
	return outcome
}

// reasonFor collapses the provider error taxonomy into the small set of
// human-readable reasons surfaced to families, and decides whether another
// call attempt may succeed. Only transport and 5xx failures are transient;
// credential and rejection errors need an operator, never a retry.
func reasonFor(err error) (reason string, retryable bool) {
	var pe *voice.ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case voice.KindUnauthenticated:
			return "assistant service is not configured", false
		case voice.KindUnavailable:
			return "could not reach assistant service", true
		case voice.KindRejected:
			return "assistant service rejected the call", false
		}
	}
	return "could not start the call", true
}
