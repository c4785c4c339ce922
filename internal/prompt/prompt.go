// Package prompt renders a care-recipient profile into the opening line,
// system prompt and voice selection for one companion call.
package prompt

import (
	"fmt"
	"strings"

	"eldervoice/pkg/models"
)

var ErrMissingIdentity = fmt.Errorf("care recipient has no name")

// DefaultVoiceID is the baseline synthesized voice used when a profile does
// not pick one.
const DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

// Neutral fallbacks for absent narrative fields. Rendering the fallback
// instead of leaving a blank keeps the prompt well-formed for any profile.
const (
	defaultLifeStory         = "They have lived a rich and full life with many experiences worth hearing about."
	defaultFamilyInfo        = "They have loved ones who care about them deeply."
	defaultHobbies           = "They enjoy simple everyday pleasures and good conversation."
	defaultTopics            = "They are happy to chat about whatever is on their mind."
	defaultPersonality       = "They are kind and appreciate genuine company."
	defaultHealthStatus      = "No specific health concerns have been shared."
	defaultConversationStyle = "They enjoy a relaxed, unhurried conversation."
	defaultSpecialNotes      = "None."
)

// PromptPackage is everything the session manager needs to open a
// personalized conversation.
type PromptPackage struct {
	OpeningLine  string
	SystemPrompt string
	VoiceID      string
}

// BuildPromptPackage renders the prompt package for one call. It never fails
// for a profile that has a name; every other field falls back to a neutral
// default.
func BuildPromptPackage(rec *models.CareRecipient) (*PromptPackage, error) {
	if rec == nil || strings.TrimSpace(rec.Name) == "" {
		return nil, ErrMissingIdentity
	}

	name := preferredName(rec)

	opening := fmt.Sprintf(
		"Hello %s! It's your companion calling for our regular check-in. How are you doing today?",
		name,
	)

	system := fmt.Sprintf(`You are a warm, patient phone companion for %s, an elderly person receiving a routine check-in call.

About %s:
- Life story: %s
- Family: %s
- Hobbies and interests: %s
- Favorite topics: %s
- Personality: %s
- Health: %s
- Conversation style: %s
- Special notes: %s

During the call you must:
1. Always address them as %s.
2. Keep a warm, patient and unhurried tone throughout the call.
3. Ask about their daily life, their family and their interests.
4. If they sound distressed or upset, respond with calm, empathetic de-escalation and reassurance.
5. End the call naturally and kindly, never abruptly.`,
		name,
		name,
		fallback(rec.LifeStory, defaultLifeStory),
		fallback(rec.FamilyInfo, defaultFamilyInfo),
		fallback(rec.HobbiesInterests, defaultHobbies),
		fallback(rec.FavoriteTopics, defaultTopics),
		fallback(rec.PersonalityTraits, defaultPersonality),
		fallback(rec.HealthStatus, defaultHealthStatus),
		fallback(rec.ConversationStyle, defaultConversationStyle),
		fallback(rec.SpecialNotes, defaultSpecialNotes),
		name,
	)

	voiceID := rec.VoiceID
	if strings.TrimSpace(voiceID) == "" {
		voiceID = DefaultVoiceID
	}

	return &PromptPackage{
		OpeningLine:  opening,
		SystemPrompt: system,
		VoiceID:      voiceID,
	}, nil
}

func preferredName(rec *models.CareRecipient) string {
	if n := strings.TrimSpace(rec.PreferredName); n != "" {
		return n
	}
	return strings.TrimSpace(rec.Name)
}

func fallback(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}
