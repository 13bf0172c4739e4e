package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hyperio-mc/agent-talk/src/logging"
	"github.com/hyperio-mc/agent-talk/src/models"
)

// wordsPerSecond approximates conversational speech (150 wpm)
const wordsPerSecond = 2.5

// DefaultVoices is the built-in voice catalogue
func DefaultVoices() []models.Voice {
	return []models.Voice{
		{ID: "rachel", Name: "Rachel", Gender: "female", Description: "Calm, clear narration voice"},
		{ID: "domi", Name: "Domi", Gender: "female", Description: "Strong, confident voice"},
		{ID: "adam", Name: "Adam", Gender: "male", Description: "Deep, warm voice"},
	}
}

// MemoService validates memo requests against the caller's tier and
// produces simulated audio.
type MemoService struct {
	policy       *TierPolicy
	voices       []models.Voice
	audioBaseURL string
	now          func() time.Time
}

// NewMemoService creates a memo service. audioBaseURL prefixes audio links.
func NewMemoService(policy *TierPolicy, audioBaseURL string) *MemoService {
	return &MemoService{
		policy:       policy,
		voices:       DefaultVoices(),
		audioBaseURL: strings.TrimRight(audioBaseURL, "/"),
		now:          time.Now,
	}
}

// SetClock replaces the time source (tests)
func (s *MemoService) SetClock(now func() time.Time) {
	s.now = now
}

// Voices returns the voice catalogue
func (s *MemoService) Voices() []models.Voice {
	out := make([]models.Voice, len(s.voices))
	copy(out, s.voices)
	return out
}

// Voice looks up a voice by ID
func (s *MemoService) Voice(id string) (models.Voice, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, v := range s.voices {
		if v.ID == id {
			return v, true
		}
	}
	return models.Voice{}, false
}

// Validate checks req against the voice catalogue and the limits of tier.
// The returned request has its voice and engine normalised.
func (s *MemoService) Validate(tier models.TierName, req models.MemoRequest) (models.MemoRequest, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return req, NewError(KindValidation, "Text is required.")
	}

	length := utf8.RuneCountInString(text)
	if !s.policy.IsWithinCharLimit(tier, length) {
		limit := s.policy.Resolve(tier).CharsPerMemo
		return req, &APIError{
			Kind:    KindValidation,
			Message: fmt.Sprintf("Text is %d characters; the %s tier allows %d per memo.", length, tier, limit),
			Details: map[string]interface{}{
				"field":  "text",
				"length": length,
				"limit":  limit,
			},
		}
	}

	voice, ok := s.Voice(req.Voice)
	if !ok {
		available := make([]string, 0, len(s.voices))
		for _, v := range s.voices {
			available = append(available, v.ID)
		}
		return req, &APIError{
			Kind:    KindInvalidVoice,
			Message: fmt.Sprintf("Invalid voice: %q", req.Voice),
			Details: map[string]interface{}{
				"field":            "voice",
				"requested_voice":  req.Voice,
				"available_voices": available,
			},
		}
	}

	engine := strings.ToLower(strings.TrimSpace(req.Engine))
	if engine == "" {
		engine = models.EngineSimulation
	}
	if !s.policy.IsEngineAllowed(tier, engine) {
		required, known := s.policy.LowestTierWithEngine(engine)
		if !known {
			return req, &APIError{
				Kind:    KindValidation,
				Message: fmt.Sprintf("Unknown engine %q.", engine),
				Details: map[string]interface{}{"field": "engine"},
			}
		}
		return req, InsufficientTierError(
			fmt.Sprintf("The %s engine requires the %s tier or higher.", engine, required),
			string(required), string(tier),
		)
	}

	return models.MemoRequest{Text: text, Voice: voice.ID, Engine: engine}, nil
}

// Synthesize produces a memo for a validated request. Audio is simulated:
// the link points at the audio store and the duration is estimated from
// the word count.
func (s *MemoService) Synthesize(ctx context.Context, req models.MemoRequest) (*models.Memo, error) {
	voice, ok := s.Voice(req.Voice)
	if !ok {
		return nil, NewError(KindInvalidVoice, fmt.Sprintf("Invalid voice: %q", req.Voice))
	}

	id := uuid.New().String()
	memo := &models.Memo{
		ID:     id,
		Text:   req.Text,
		Voice:  voice,
		Engine: req.Engine,
		Audio: models.MemoAudio{
			URL:      fmt.Sprintf("%s/audio/%s.mp3", s.audioBaseURL, id),
			Duration: estimateDuration(req.Text),
			Format:   "mp3",
		},
		CreatedAt: s.now().UTC(),
	}

	logger := logging.FromContext(ctx, "memos")
	logger.Debug().
		Str("memo_id", id).
		Str("voice", voice.ID).
		Str("engine", req.Engine).
		Int("chars", utf8.RuneCountInString(req.Text)).
		Msg("memo synthesised")

	return memo, nil
}

// estimateDuration returns seconds of speech, rounded to a tenth
func estimateDuration(text string) float64 {
	words := len(strings.Fields(text))
	secs := float64(words) / wordsPerSecond
	if secs < 1 {
		secs = 1
	}
	return math.Round(secs*10) / 10
}
