package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"eldervoice/internal/logger"
	"eldervoice/internal/orchestrator"
	"eldervoice/internal/prompt"
	"eldervoice/internal/voice"
	"eldervoice/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver stands in for the voice client. endAfter, when set, ends the
// session from the "provider side" after the given delay, simulating a call
// that finishes on its own.
type fakeDriver struct {
	mu         sync.Mutex
	startErr   error
	endAfter   time.Duration
	started    int
	endCalls   int
	lastPkg    *prompt.PromptPackage
	lastEnded  *voice.Session
	endSession func(s *voice.Session)
}

func (f *fakeDriver) StartSession(ctx context.Context, pkg *prompt.PromptPackage) (*voice.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.started++
	f.lastPkg = pkg
	if f.startErr != nil {
		return nil, f.startErr
	}

	sess := voice.NewTestSession(fmt.Sprintf("conv-%d", f.started), "agent-1")
	if f.endAfter > 0 {
		go func() {
			time.Sleep(f.endAfter)
			sess.MarkEnded()
		}()
	}
	return sess, nil
}

func (f *fakeDriver) EndSession(ctx context.Context, s *voice.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.endCalls++
	f.lastEnded = s
	s.MarkEnded()
	if f.endSession != nil {
		f.endSession(s)
	}
	return nil
}

func testRecipient() *models.CareRecipient {
	return &models.CareRecipient{ID: 7, Name: "Mary", PreferredName: "May"}
}

func newOrchestrator(driver orchestrator.SessionDriver) *orchestrator.Orchestrator {
	return orchestrator.New(driver, 200*time.Millisecond, logger.NewLogger("error", false))
}

func TestRunScheduledCallCompletes(t *testing.T) {
	driver := &fakeDriver{endAfter: 20 * time.Millisecond}
	o := newOrchestrator(driver)

	outcome := o.RunScheduledCall(context.Background(), testRecipient())

	assert.True(t, outcome.Connected)
	assert.Equal(t, "conv-1", outcome.SessionID)
	assert.Empty(t, outcome.Reason)
	assert.GreaterOrEqual(t, driver.endCalls, 1, "EndSession must always run")

	require.NotNil(t, driver.lastPkg)
	assert.Contains(t, driver.lastPkg.OpeningLine, "May")
}

func TestRunScheduledCallStartFailure(t *testing.T) {
	tests := map[string]struct {
		startErr      error
		wantReason    string
		wantRetryable bool
	}{
		"Unauthenticated": {
			startErr:   &voice.ProviderError{Kind: voice.KindUnauthenticated, Op: "create session"},
			wantReason: "assistant service is not configured",
		},
		"Unavailable": {
			startErr:      &voice.ProviderError{Kind: voice.KindUnavailable, Op: "create session"},
			wantReason:    "could not reach assistant service",
			wantRetryable: true,
		},
		"Rejected": {
			startErr:   &voice.ProviderError{Kind: voice.KindRejected, Op: "create session"},
			wantReason: "assistant service rejected the call",
		},
		"PlainError": {
			startErr:      fmt.Errorf("something odd"),
			wantReason:    "could not start the call",
			wantRetryable: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			driver := &fakeDriver{startErr: tc.startErr}
			o := newOrchestrator(driver)

			outcome := o.RunScheduledCall(context.Background(), testRecipient())

			assert.False(t, outcome.Connected)
			assert.Equal(t, tc.wantReason, outcome.Reason)
			assert.Equal(t, tc.wantRetryable, outcome.Retryable)
			assert.Equal(t, 1, driver.started, "no retry on start failure")
			assert.Zero(t, driver.endCalls, "nothing to tear down when start fails")
		})
	}
}

func TestRunScheduledCallInvalidProfile(t *testing.T) {
	driver := &fakeDriver{}
	o := newOrchestrator(driver)

	outcome := o.RunScheduledCall(context.Background(), &models.CareRecipient{})

	assert.False(t, outcome.Connected)
	assert.Equal(t, "invalid care profile", outcome.Reason)
	assert.False(t, outcome.Retryable, "a broken profile cannot connect on retry")
	assert.Zero(t, driver.started)
}

// A caller hangup (context cancel) still tears the session down and yields a
// completed outcome.
func TestRunScheduledCallHangup(t *testing.T) {
	driver := &fakeDriver{}
	o := newOrchestrator(driver)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	outcome := o.RunScheduledCall(ctx, testRecipient())

	assert.True(t, outcome.Connected)
	assert.GreaterOrEqual(t, driver.endCalls, 1)
	assert.Equal(t, voice.StateEnded, driver.lastEnded.State())
}

// When the session never ends on its own, the local backstop fires and the
// session is still released.
func TestRunScheduledCallDurationBackstop(t *testing.T) {
	driver := &fakeDriver{} // endAfter unset: session never ends by itself
	o := orchestrator.New(driver, 20*time.Millisecond, logger.NewLogger("error", false))

	done := make(chan orchestrator.CallOutcome, 1)
	go func() {
		done <- o.RunScheduledCall(context.Background(), testRecipient())
	}()

	select {
	case outcome := <-done:
		assert.True(t, outcome.Connected, "timeout is an expected termination, not a failure")
		assert.GreaterOrEqual(t, driver.endCalls, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator never returned after duration backstop")
	}
}

// Every reachable path resolves to exactly Completed or NotConnected.
func TestCallOutcomeAlwaysResolved(t *testing.T) {
	drivers := map[string]*fakeDriver{
		"CleanEnd":     {endAfter: 10 * time.Millisecond},
		"StartFailure": {startErr: &voice.ProviderError{Kind: voice.KindUnavailable}},
	}

	for name, driver := range drivers {
		t.Run(name, func(t *testing.T) {
			o := newOrchestrator(driver)
			outcome := o.RunScheduledCall(context.Background(), testRecipient())

			if outcome.Connected {
				assert.NotEmpty(t, outcome.SessionID)
			} else {
				assert.NotEmpty(t, outcome.Reason)
			}
		})
	}
}
