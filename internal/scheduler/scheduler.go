// Package scheduler is the time-based trigger that fires due scheduled
// calls. Retry decisions for unanswered calls live here, at call-attempt
// granularity, never inside an active session.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"eldervoice/internal/config"
	"eldervoice/internal/email"
	"eldervoice/internal/logger"
	"eldervoice/internal/metrics"
	"eldervoice/internal/orchestrator"
	"eldervoice/internal/push"
	"eldervoice/internal/schedule"
	"eldervoice/pkg/models"

	"github.com/sirupsen/logrus"
)

// Store is the slice of the database the trigger loop needs.
type Store interface {
	ListActiveSchedules() ([]models.StoredSchedule, error)
	GetCareRecipient(id int64) (*models.CareRecipient, error)
	InsertCallRecord(rec models.CallRecord) error
	CompletedCallToday(recipientID int64) (bool, error)
	FailedAttemptsToday(recipientID int64) (int, error)
	NonRetryableFailureToday(recipientID int64) (bool, error)
	GetPrimaryCaregiver(recipientID int64) (*models.Caregiver, error)
	ClearRecipientDeviceToken(recipientID int64) error
	ClearCaregiverDeviceToken(caregiverID int64) error
}

type Scheduler struct {
	cfg          *config.Config
	db           Store
	orch         *orchestrator.Orchestrator
	pushService  *push.FirebaseService
	emailService *email.EmailService
	log          *logger.Logger
	stopChan     chan struct{}
}

// NewScheduler wires the trigger loop. pushService and emailService may be
// nil when the corresponding channel is not configured; missed-call alerts
// then fall through to whichever channel is available.
func NewScheduler(cfg *config.Config, db Store, orch *orchestrator.Orchestrator,
	pushService *push.FirebaseService, emailService *email.EmailService, log *logger.Logger) *Scheduler {

	return &Scheduler{
		cfg:          cfg,
		db:           db,
		orch:         orch,
		pushService:  pushService,
		emailService: emailService,
		log:          log,
		stopChan:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	interval := time.Duration(s.cfg.SchedulerIntervalSeconds) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("Scheduler started", logrus.Fields{"interval": interval.String()})

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.checkAndTriggerCalls(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// checkAndTriggerCalls scans every active schedule and launches one
// independent call task per due recipient. Tasks for different recipients
// run concurrently and share no mutable state.
func (s *Scheduler) checkAndTriggerCalls(ctx context.Context) {
	schedules, err := s.db.ListActiveSchedules()
	if err != nil {
		s.log.Error("Failed to list schedules", logrus.Fields{"error": err.Error()})
		return
	}

	now := time.Now()
	weekday := strings.ToLower(now.Weekday().String())

	for _, stored := range schedules {
		sched := &schedule.CallSchedule{
			SelectedDays: stored.SelectedDays,
			DefaultTime:  stored.DefaultTime,
			DayOverrides: stored.DayOverrides,
		}

		slot, err := schedule.ResolveTimeForDay(sched, weekday)
		if err != nil {
			// Not a call day for this recipient.
			continue
		}

		if !s.dueNow(now, slot) {
			continue
		}

		eligible, err := s.eligibleForAttempt(stored.CareRecipientID)
		if err != nil {
			s.log.Error("Failed to check call eligibility", logrus.Fields{
				"recipient_id": stored.CareRecipientID,
				"error":        err.Error(),
			})
			continue
		}
		if !eligible {
			continue
		}

		metrics.ScheduledCallsDueTotal.Inc()
		go s.placeCall(ctx, stored.CareRecipientID)
	}
}

// dueNow reports whether a slot fired: now is past the slot time but still
// inside the grace window. Attempts retried on later ticks stay inside the
// same window.
func (s *Scheduler) dueNow(now time.Time, slot string) bool {
	var hour, minute int
	if _, err := fmt.Sscanf(slot, "%02d:%02d", &hour, &minute); err != nil {
		return false
	}

	slotTime := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	grace := time.Duration(s.cfg.DueGraceMinutes) * time.Minute

	return !now.Before(slotTime) && now.Sub(slotTime) < grace
}

// eligibleForAttempt blocks a second connected call on one day, caps
// unanswered retries at MaxRetries per day, and stops immediately after any
// non-retryable failure: a bad credential or a provider rejection will fail
// the same way on every tick until an operator steps in.
func (s *Scheduler) eligibleForAttempt(recipientID int64) (bool, error) {
	completed, err := s.db.CompletedCallToday(recipientID)
	if err != nil {
		return false, err
	}
	if completed {
		return false, nil
	}

	nonRetryable, err := s.db.NonRetryableFailureToday(recipientID)
	if err != nil {
		return false, err
	}
	if nonRetryable {
		return false, nil
	}

	failed, err := s.db.FailedAttemptsToday(recipientID)
	if err != nil {
		return false, err
	}
	return failed < s.cfg.MaxRetries, nil
}

// placeCall runs one full call attempt for one care recipient.
func (s *Scheduler) placeCall(ctx context.Context, recipientID int64) {
	rec, err := s.db.GetCareRecipient(recipientID)
	if err != nil {
		s.log.Error("Failed to load care recipient", logrus.Fields{
			"recipient_id": recipientID,
			"error":        err.Error(),
		})
		return
	}

	s.wakeDevice(rec)

	startedAt := time.Now()
	outcome := s.orch.RunScheduledCall(ctx, rec)

	record := models.CallRecord{
		CareRecipientID: rec.ID,
		SessionID:       outcome.SessionID,
		StartedAt:       startedAt,
		DurationSeconds: outcome.DurationSeconds,
		Connected:       outcome.Connected,
		FailureReason:   outcome.Reason,
		Retryable:       outcome.Retryable,
	}
	if err := s.db.InsertCallRecord(record); err != nil {
		s.log.Error("Failed to record call attempt", logrus.Fields{
			"recipient_id": rec.ID,
			"error":        err.Error(),
		})
	}

	if outcome.Connected {
		s.log.Info("Scheduled call completed", logrus.Fields{
			"recipient_id": rec.ID,
			"session_id":   outcome.SessionID,
			"duration_s":   outcome.DurationSeconds,
		})
		return
	}

	s.log.Warn("Scheduled call did not connect", logrus.Fields{
		"recipient_id": rec.ID,
		"reason":       outcome.Reason,
		"retryable":    outcome.Retryable,
	})
	s.handleMissedCall(rec, outcome)
}

// wakeDevice pushes the incoming-call notification so the app can open the
// audio channel. Push failure is not fatal: the device may already be
// connected. A dead token is cleared so later attempts stop sending to it.
func (s *Scheduler) wakeDevice(rec *models.CareRecipient) {
	if s.pushService == nil || rec.DeviceToken == "" {
		return
	}

	attemptID := fmt.Sprintf("call-%d-%d", rec.ID, time.Now().Unix())
	name := rec.PreferredName
	if name == "" {
		name = rec.Name
	}

	err := s.pushService.SendIncomingCallNotification(rec.DeviceToken, attemptID, name)
	if err == nil {
		return
	}

	s.log.Warn("Incoming-call push failed", logrus.Fields{
		"recipient_id": rec.ID,
		"error":        err.Error(),
	})
	if push.IsInvalidTokenError(err) {
		if err := s.db.ClearRecipientDeviceToken(rec.ID); err != nil {
			s.log.Error("Failed to clear dead device token", logrus.Fields{
				"recipient_id": rec.ID,
				"error":        err.Error(),
			})
		}
	}
}

// handleMissedCall alerts the primary caregiver: push first, email fallback
// when push is unavailable or fails. Retryable failures wait until the day's
// attempts are exhausted; non-retryable ones alert immediately, there will
// be no further attempts.
func (s *Scheduler) handleMissedCall(rec *models.CareRecipient, outcome orchestrator.CallOutcome) {
	if outcome.Retryable {
		failed, err := s.db.FailedAttemptsToday(rec.ID)
		if err != nil || failed < s.cfg.MaxRetries {
			// More attempts remain on later ticks; do not alert yet.
			return
		}
	}

	caregiver, err := s.db.GetPrimaryCaregiver(rec.ID)
	if err != nil {
		s.log.Warn("No caregiver to notify about missed call", logrus.Fields{
			"recipient_id": rec.ID,
			"error":        err.Error(),
		})
		return
	}

	if s.pushService != nil && caregiver.DeviceToken != "" {
		err := s.pushService.SendMissedCallAlert(caregiver.DeviceToken, rec.Name)
		if err == nil {
			s.log.Info("Caregiver notified about missed call", logrus.Fields{
				"recipient_id": rec.ID,
				"caregiver_id": caregiver.ID,
				"channel":      "push",
			})
			return
		}
		if push.IsInvalidTokenError(err) {
			if err := s.db.ClearCaregiverDeviceToken(caregiver.ID); err != nil {
				s.log.Error("Failed to clear dead caregiver token", logrus.Fields{
					"caregiver_id": caregiver.ID,
					"error":        err.Error(),
				})
			}
		}
	}

	if s.cfg.EnableEmailFallback && s.emailService != nil && caregiver.Email != "" {
		if err := s.emailService.SendMissedCallAlert(caregiver.Email, caregiver.Name, rec.Name); err != nil {
			s.log.Error("Missed-call email failed", logrus.Fields{
				"recipient_id": rec.ID,
				"error":        err.Error(),
			})
			return
		}
		s.log.Info("Caregiver notified about missed call", logrus.Fields{
			"recipient_id": rec.ID,
			"caregiver_id": caregiver.ID,
			"channel":      "email",
		})
		return
	}

	s.log.Warn("Missed call could not be escalated to any channel", logrus.Fields{
		"recipient_id": rec.ID,
	})
}
