package models

import "time"

// Voice is a TTS voice from the catalogue
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Gender      string `json:"gender"`
	Description string `json:"description"`
}

// MemoRequest is the body of a memo or demo request
type MemoRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Engine string `json:"engine,omitempty"`
}

// MemoAudio describes the synthesised audio
type MemoAudio struct {
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
	Format   string  `json:"format"`
}

// Memo is a synthesised voice memo
type Memo struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Voice     Voice     `json:"voice"`
	Engine    string    `json:"engine"`
	Audio     MemoAudio `json:"audio"`
	CreatedAt time.Time `json:"createdAt"`
}
