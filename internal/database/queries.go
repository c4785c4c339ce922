package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"eldervoice/internal/schedule"
	"eldervoice/pkg/models"

	"github.com/lib/pq"
)

func (db *DB) GetCareRecipient(id int64) (*models.CareRecipient, error) {
	query := `
		SELECT
			id, name, COALESCE(preferred_name, ''),
			COALESCE(life_story, ''), COALESCE(family_info, ''),
			COALESCE(hobbies_interests, ''), COALESCE(favorite_topics, ''),
			COALESCE(personality_traits, ''), COALESCE(health_status, ''),
			COALESCE(conversation_style, ''), COALESCE(special_notes, ''),
			COALESCE(voice_id, ''), COALESCE(device_token, ''), active
		FROM care_recipients
		WHERE id = $1
	`

	var rec models.CareRecipient
	err := db.conn.QueryRow(query, id).Scan(
		&rec.ID, &rec.Name, &rec.PreferredName,
		&rec.LifeStory, &rec.FamilyInfo,
		&rec.HobbiesInterests, &rec.FavoriteTopics,
		&rec.PersonalityTraits, &rec.HealthStatus,
		&rec.ConversationStyle, &rec.SpecialNotes,
		&rec.VoiceID, &rec.DeviceToken, &rec.Active,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("care recipient %d not found", id)
		}
		return nil, fmt.Errorf("failed to query care recipient: %w", err)
	}

	return &rec, nil
}

// ListActiveSchedules returns the call schedule of every active care
// recipient, for the trigger loop to scan.
func (db *DB) ListActiveSchedules() ([]models.StoredSchedule, error) {
	query := `
		SELECT s.id, s.care_recipient_id, s.selected_days, s.default_time,
		       COALESCE(s.day_overrides, '{}'::jsonb), s.updated_at
		FROM call_schedules s
		JOIN care_recipients r ON r.id = s.care_recipient_id
		WHERE r.active = true
	`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []models.StoredSchedule
	for rows.Next() {
		var s models.StoredSchedule
		var overrides []byte

		err := rows.Scan(&s.ID, &s.CareRecipientID, pq.Array(&s.SelectedDays),
			&s.DefaultTime, &overrides, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		if err := json.Unmarshal(overrides, &s.DayOverrides); err != nil {
			return nil, fmt.Errorf("failed to decode overrides for schedule %d: %w", s.ID, err)
		}
		schedules = append(schedules, s)
	}

	return schedules, rows.Err()
}

func (db *DB) GetScheduleByRecipient(recipientID int64) (*models.StoredSchedule, error) {
	query := `
		SELECT id, care_recipient_id, selected_days, default_time,
		       COALESCE(day_overrides, '{}'::jsonb), updated_at
		FROM call_schedules
		WHERE care_recipient_id = $1
	`

	var s models.StoredSchedule
	var overrides []byte

	err := db.conn.QueryRow(query, recipientID).Scan(
		&s.ID, &s.CareRecipientID, pq.Array(&s.SelectedDays),
		&s.DefaultTime, &overrides, &s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no schedule for care recipient %d", recipientID)
		}
		return nil, fmt.Errorf("failed to query schedule: %w", err)
	}

	if err := json.Unmarshal(overrides, &s.DayOverrides); err != nil {
		return nil, fmt.Errorf("failed to decode overrides: %w", err)
	}
	return &s, nil
}

// UpsertSchedule stores a normalized schedule, superseding any previous one
// for the same care recipient. Only normalized schedules reach this point:
// an empty selection never gets persisted.
func (db *DB) UpsertSchedule(recipientID int64, s *schedule.CallSchedule) error {
	overrides, err := json.Marshal(s.DayOverrides)
	if err != nil {
		return fmt.Errorf("failed to encode overrides: %w", err)
	}

	query := `
		INSERT INTO call_schedules (care_recipient_id, selected_days, default_time, day_overrides, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (care_recipient_id) DO UPDATE
		SET selected_days = EXCLUDED.selected_days,
		    default_time = EXCLUDED.default_time,
		    day_overrides = EXCLUDED.day_overrides,
		    updated_at = NOW()
	`

	if _, err := db.conn.Exec(query, recipientID, pq.Array(s.SelectedDays), s.DefaultTime, overrides); err != nil {
		return fmt.Errorf("failed to upsert schedule: %w", err)
	}
	return nil
}

func (db *DB) InsertCallRecord(rec models.CallRecord) error {
	query := `
		INSERT INTO call_history (care_recipient_id, session_id, started_at, duration_seconds, connected, failure_reason, retryable, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), $7, NOW())
	`

	_, err := db.conn.Exec(query,
		rec.CareRecipientID, rec.SessionID, rec.StartedAt,
		rec.DurationSeconds, rec.Connected, rec.FailureReason, rec.Retryable,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call record: %w", err)
	}
	return nil
}

// CompletedCallToday reports whether a connected call was already placed to
// this recipient today, so the trigger does not fire twice for one slot.
func (db *DB) CompletedCallToday(recipientID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM call_history
			WHERE care_recipient_id = $1
			  AND connected = true
			  AND started_at >= date_trunc('day', NOW())
		)
	`

	var exists bool
	if err := db.conn.QueryRow(query, recipientID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check call history: %w", err)
	}
	return exists, nil
}

// FailedAttemptsToday counts unconnected attempts today, the input to the
// scheduler's retry cap.
func (db *DB) FailedAttemptsToday(recipientID int64) (int, error) {
	query := `
		SELECT COUNT(*) FROM call_history
		WHERE care_recipient_id = $1
		  AND connected = false
		  AND started_at >= date_trunc('day', NOW())
	`

	var count int
	if err := db.conn.QueryRow(query, recipientID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count failed attempts: %w", err)
	}
	return count, nil
}

// NonRetryableFailureToday reports whether today already has a failed attempt
// that retrying cannot fix (bad credentials, provider rejection). One such
// failure stops further attempts until an operator intervenes.
func (db *DB) NonRetryableFailureToday(recipientID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM call_history
			WHERE care_recipient_id = $1
			  AND connected = false
			  AND retryable = false
			  AND started_at >= date_trunc('day', NOW())
		)
	`

	var exists bool
	if err := db.conn.QueryRow(query, recipientID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check for non-retryable failure: %w", err)
	}
	return exists, nil
}

// ClearRecipientDeviceToken drops a dead push token so later attempts stop
// sending to it.
func (db *DB) ClearRecipientDeviceToken(recipientID int64) error {
	if _, err := db.conn.Exec(`UPDATE care_recipients SET device_token = NULL WHERE id = $1`, recipientID); err != nil {
		return fmt.Errorf("failed to clear recipient device token: %w", err)
	}
	return nil
}

func (db *DB) ClearCaregiverDeviceToken(caregiverID int64) error {
	if _, err := db.conn.Exec(`UPDATE caregivers SET device_token = NULL WHERE id = $1`, caregiverID); err != nil {
		return fmt.Errorf("failed to clear caregiver device token: %w", err)
	}
	return nil
}

func (db *DB) GetPrimaryCaregiver(recipientID int64) (*models.Caregiver, error) {
	query := `
		SELECT id, care_recipient_id, name, COALESCE(email, ''), COALESCE(device_token, ''), priority, active
		FROM caregivers
		WHERE care_recipient_id = $1 AND active = true
		ORDER BY priority ASC
		LIMIT 1
	`

	var c models.Caregiver
	err := db.conn.QueryRow(query, recipientID).Scan(
		&c.ID, &c.CareRecipientID, &c.Name, &c.Email, &c.DeviceToken, &c.Priority, &c.Active,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active caregiver for care recipient %d", recipientID)
		}
		return nil, fmt.Errorf("failed to query caregiver: %w", err)
	}
	return &c, nil
}

// PruneCallHistory removes call records older than the retention window.
func (db *DB) PruneCallHistory(olderThan time.Time) (int64, error) {
	result, err := db.conn.Exec(`DELETE FROM call_history WHERE started_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune call history: %w", err)
	}
	return result.RowsAffected()
}
