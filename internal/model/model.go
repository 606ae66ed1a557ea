// Package model holds the records shared by the store, the session flows and
// the reminder jobs.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Recipient is a registered end-user addressed by a stable chat id.
type Recipient struct {
	ChatID   int64
	Name     string
	Username string
}

// ClassEvent is one class scheduled for the current day.
// Time is always a zero-padded 24-hour "HH:MM" string.
type ClassEvent struct {
	ID      int64
	Time    string
	Course  string
	Room    string
	Teacher string
}

type Notice struct {
	ID        int64
	Title     string
	Body      string
	CreatedAt time.Time
}

type ResourceKind string

const (
	ResourceDocument ResourceKind = "document"
	ResourcePhoto    ResourceKind = "photo"
)

// DefaultResourceCaption is stored when an upload has no caption.
const DefaultResourceCaption = "Resource File"

type Resource struct {
	ID        int64
	FileID    string
	Kind      ResourceKind
	Caption   string
	CreatedAt time.Time
}

// TimeLayout is the wall-clock layout used for class times and alert targets.
const TimeLayout = "15:04"

// ValidationError reports malformed user input for a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NormalizeTime validates a 24-hour "H:MM" or "HH:MM" string and returns it
// zero-padded. Minutes must have two digits.
func NormalizeTime(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return "", &ValidationError{Field: "time", Reason: fmt.Sprintf("%q is not HH:MM (24-hour)", s)}
	}
	return t.Format(TimeLayout), nil
}

// RequireText trims s and rejects an empty result.
func RequireText(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ValidationError{Field: field, Reason: "must not be empty"}
	}
	return s, nil
}
