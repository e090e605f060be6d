package session

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session does not exist or expired.
var ErrSessionNotFound = errors.New("session not found")

// Session carries conversational continuity for one farmer across queries.
// History is bounded; old exchanges fall off the front.
type Session struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	History   []Exchange     `json:"history"`
	Context   map[string]any `json:"context,omitempty"`
}

// Exchange is one completed question/answer round.
type Exchange struct {
	QueryID  string    `json:"query_id"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Tier     string    `json:"tier"`
	Outcome  string    `json:"outcome"`
	AskedAt  time.Time `json:"asked_at"`
}

// LastQuestion returns the most recent question, or "" for a fresh session.
func (s *Session) LastQuestion() string {
	if len(s.History) == 0 {
		return ""
	}
	return s.History[len(s.History)-1].Question
}

// RecentHistory returns up to count most recent exchanges.
func (s *Session) RecentHistory(count int) []Exchange {
	if len(s.History) <= count {
		return s.History
	}
	return s.History[len(s.History)-count:]
}
