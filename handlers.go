package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"eldervoice/internal/config"
	"eldervoice/internal/database"
	"eldervoice/internal/logger"
	"eldervoice/internal/orchestrator"
	"eldervoice/internal/schedule"
	"eldervoice/internal/signaling"
	"eldervoice/internal/voice"
	"eldervoice/pkg/models"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type apiHandlers struct {
	cfg         *config.Config
	db          *database.DB
	orch        *orchestrator.Orchestrator
	voiceClient *voice.Client
	signaling   *signaling.Server
	log         *logger.Logger
	startTime   time.Time
}

func (h *apiHandlers) health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.GetConnection().Ping(); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *apiHandlers) stats(w http.ResponseWriter, r *http.Request) {
	dbStatus := false
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.GetConnection().PingContext(ctx); err == nil {
		dbStatus = true
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_clients": h.signaling.ClientCount(),
		"uptime":         formatDuration(time.Since(h.startTime)),
		"db_status":      dbStatus,
		"timestamp":      time.Now().Unix(),
	})
}

func (h *apiHandlers) logs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs": h.log.Recent(),
	})
}

func (h *apiHandlers) providerHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	writeJSON(w, http.StatusOK, h.voiceClient.CheckHealth(ctx))
}

// upsertSchedule is the signup-flow intake: it normalizes the submitted
// schedule, persists it, and answers with the confirmation summary shown to
// the family.
func (h *apiHandlers) upsertSchedule(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CareRecipientID == 0 {
		writeError(w, http.StatusBadRequest, "care_recipient_id is required")
		return
	}

	if _, err := h.db.GetCareRecipient(req.CareRecipientID); err != nil {
		writeError(w, http.StatusNotFound, "unknown care recipient")
		return
	}

	sched, err := schedule.Normalize(req.Days, req.DefaultTime, req.CustomTimes)
	if err != nil {
		writeError(w, http.StatusBadRequest, scheduleErrorMessage(err))
		return
	}

	if err := h.db.UpsertSchedule(req.CareRecipientID, sched); err != nil {
		h.log.Error("Schedule upsert failed", logrus.Fields{
			"recipient_id": req.CareRecipientID,
			"error":        err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "could not save schedule")
		return
	}

	writeJSON(w, http.StatusOK, scheduleResponse(req.CareRecipientID, sched))
}

func (h *apiHandlers) getSchedule(w http.ResponseWriter, r *http.Request) {
	recipientID, err := strconv.ParseInt(mux.Vars(r)["recipientID"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid recipient id")
		return
	}

	stored, err := h.db.GetScheduleByRecipient(recipientID)
	if err != nil {
		writeError(w, http.StatusNotFound, "no schedule for this care recipient")
		return
	}

	writeJSON(w, http.StatusOK, scheduleResponse(recipientID, &schedule.CallSchedule{
		SelectedDays: stored.SelectedDays,
		DefaultTime:  stored.DefaultTime,
		DayOverrides: stored.DayOverrides,
	}))
}

// callNow places an immediate call outside the schedule, for family-initiated
// check-ins. The attempt is recorded in call history like a scheduled one.
func (h *apiHandlers) callNow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CareRecipientID int64 `json:"care_recipient_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CareRecipientID == 0 {
		writeError(w, http.StatusBadRequest, "care_recipient_id is required")
		return
	}

	rec, err := h.db.GetCareRecipient(req.CareRecipientID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown care recipient")
		return
	}

	go func() {
		startedAt := time.Now()
		outcome := h.orch.RunScheduledCall(context.Background(), rec)

		record := models.CallRecord{
			CareRecipientID: rec.ID,
			SessionID:       outcome.SessionID,
			StartedAt:       startedAt,
			DurationSeconds: outcome.DurationSeconds,
			Connected:       outcome.Connected,
			FailureReason:   outcome.Reason,
			Retryable:       outcome.Retryable,
		}
		if err := h.db.InsertCallRecord(record); err != nil {
			h.log.Error("Failed to record immediate call", logrus.Fields{
				"recipient_id": rec.ID,
				"error":        err.Error(),
			})
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":       "call started",
		"recipient_id": rec.ID,
	})
}

func scheduleResponse(recipientID int64, s *schedule.CallSchedule) models.ScheduleResponse {
	summary := schedule.Summarize(s)
	return models.ScheduleResponse{
		CareRecipientID: recipientID,
		SelectedDays:    s.SelectedDays,
		DefaultTime:     s.DefaultTime,
		DayOverrides:    s.DayOverrides,
		FrequencyLabel:  summary.FrequencyLabel,
		TimeOfDay:       summary.TimeOfDay,
	}
}

func scheduleErrorMessage(err error) string {
	switch {
	case errors.Is(err, schedule.ErrEmptySchedule):
		return "select at least one call day"
	case errors.Is(err, schedule.ErrInvalidWeekday):
		return "unrecognized weekday"
	case errors.Is(err, schedule.ErrInvalidTimeSlot):
		return "call times must be on the half hour between 08:00 and 20:00"
	default:
		return "invalid schedule"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
