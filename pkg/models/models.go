package models

import "time"

type CareRecipient struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PreferredName     string `json:"preferred_name,omitempty"`
	LifeStory         string `json:"life_story,omitempty"`
	FamilyInfo        string `json:"family_info,omitempty"`
	HobbiesInterests  string `json:"hobbies_interests,omitempty"`
	FavoriteTopics    string `json:"favorite_topics,omitempty"`
	PersonalityTraits string `json:"personality_traits,omitempty"`
	HealthStatus      string `json:"health_status,omitempty"`
	ConversationStyle string `json:"conversation_style,omitempty"`
	SpecialNotes      string `json:"special_notes,omitempty"`
	VoiceID           string `json:"voice_id,omitempty"`
	DeviceToken       string `json:"device_token,omitempty"`
	Active            bool   `json:"active"`
}

type Caregiver struct {
	ID              int64  `json:"id"`
	CareRecipientID int64  `json:"care_recipient_id"`
	Name            string `json:"name"`
	Email           string `json:"email,omitempty"`
	DeviceToken     string `json:"device_token,omitempty"`
	Priority        int    `json:"priority"`
	Active          bool   `json:"active"`
}

// StoredSchedule is a persisted call schedule as read from the database.
type StoredSchedule struct {
	ID              int64             `json:"id"`
	CareRecipientID int64             `json:"care_recipient_id"`
	SelectedDays    []string          `json:"selected_days"`
	DefaultTime     string            `json:"default_time"`
	DayOverrides    map[string]string `json:"day_overrides,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// CallRecord is one call attempt, connected or not, written to call_history.
// Retryable only carries meaning on unconnected attempts: false marks a
// failure that blocks further attempts for the day.
type CallRecord struct {
	ID              int64     `json:"id"`
	CareRecipientID int64     `json:"care_recipient_id"`
	SessionID       string    `json:"session_id,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Connected       bool      `json:"connected"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	Retryable       bool      `json:"retryable"`
}

// ScheduleRequest is the intake payload from the signup flow.
type ScheduleRequest struct {
	CareRecipientID int64             `json:"care_recipient_id"`
	Days            []string          `json:"days"`
	DefaultTime     string            `json:"default_time"`
	CustomTimes     map[string]string `json:"custom_times,omitempty"`
}

type ScheduleResponse struct {
	CareRecipientID int64             `json:"care_recipient_id"`
	SelectedDays    []string          `json:"selected_days"`
	DefaultTime     string            `json:"default_time"`
	DayOverrides    map[string]string `json:"day_overrides,omitempty"`
	FrequencyLabel  string            `json:"frequency_label"`
	TimeOfDay       string            `json:"time_of_day"`
}
