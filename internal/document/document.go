// Package document defines the synchronized document: a flat map of
// string values, the field taxonomy that decides which local keys belong
// to it, and the family classification used for change notifications.
package document

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Settings fields.
const (
	KeySleepHours = "sleepHours"
	KeyMiscHours  = "miscHours"
	KeyTimeFormat = "timeFormat"
	KeyWeekStart  = "weekStart"
)

// Focus-area and event-list fields.
const (
	KeyFocusCategories = "focusCategories"
	KeyEvents          = "events"
	KeyCalendarEvents  = "calendarEvents"
)

// Namespace prefixes. Keys under these prefixes are collected and applied
// as open-ended maps keyed by their full original key string.
const (
	PrefixWeeklySnapshot = "focusAreas:week:"
	PrefixNotes          = "notes:"
	PrefixEventNotes     = "eventNotes:"
	PrefixCalendarEvent  = "calendarEvents:"
)

var fixedKeys = map[string]Family{
	KeySleepHours:      FamilySettings,
	KeyMiscHours:       FamilySettings,
	KeyTimeFormat:      FamilySettings,
	KeyWeekStart:       FamilySettings,
	KeyFocusCategories: FamilyFocusAreas,
	KeyEvents:          FamilyCalendar,
	KeyCalendarEvents:  FamilyCalendar,
}

var prefixes = []struct {
	prefix string
	family Family
}{
	{PrefixWeeklySnapshot, FamilyFocusAreas},
	{PrefixNotes, FamilyNotes},
	{PrefixEventNotes, FamilyCalendar},
	{PrefixCalendarEvent, FamilyCalendar},
}

// Family groups document keys by the part of the application that
// renders them.
type Family int

const (
	FamilyNone Family = iota
	FamilySettings
	FamilyFocusAreas
	FamilyCalendar
	FamilyNotes
)

func (f Family) String() string {
	switch f {
	case FamilySettings:
		return "settings"
	case FamilyFocusAreas:
		return "focus-areas"
	case FamilyCalendar:
		return "calendar"
	case FamilyNotes:
		return "notes"
	default:
		return "none"
	}
}

// FamilyOf classifies a key. Keys outside the taxonomy are FamilyNone.
func FamilyOf(key string) Family {
	if f, ok := fixedKeys[key]; ok {
		return f
	}

	for _, p := range prefixes {
		if strings.HasPrefix(key, p.prefix) && len(key) > len(p.prefix) {
			return p.family
		}
	}

	return FamilyNone
}

// Relevant reports whether a local key is part of the synchronized
// document. UI-only flags, credentials and drag state are not.
func Relevant(key string) bool {
	return FamilyOf(key) != FamilyNone
}

// WeekKey returns the weekly snapshot key for the week starting on day.
func WeekKey(weekStart time.Time) string {
	return PrefixWeeklySnapshot + weekStart.Format(time.DateOnly)
}

// Document is one user's synchronizable state. Every value is the
// field's own JSON serialization, kept as an opaque string so the wire
// layout stays byte-for-byte compatible with the stored layout.
type Document map[string]string

// Collect builds a document from every relevant key in values.
func Collect(values map[string]string) Document {
	doc := make(Document)

	for k, v := range values {
		if Relevant(k) {
			doc[k] = v
		}
	}

	return doc
}

// Sanitize returns a copy of doc with keys outside the taxonomy dropped.
// Remote payloads pass through this before being applied locally.
func (d Document) Sanitize() Document {
	return Collect(d)
}

// Families returns the distinct families present in the document.
func (d Document) Families() []Family {
	seen := make(map[Family]struct{})

	for k := range d {
		if f := FamilyOf(k); f != FamilyNone {
			seen[f] = struct{}{}
		}
	}

	return slices.Sorted(maps.Keys(seen))
}

// Keys returns the document keys in sorted order.
func (d Document) Keys() []string {
	return slices.Sorted(maps.Keys(d))
}

// Equal reports whether two documents hold the same keys and values.
func (d Document) Equal(other Document) bool {
	return maps.Equal(d, other)
}

// Clone returns a shallow copy.
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}

	return maps.Clone(d)
}

// UnmarshalJSON rejects documents whose top-level values are not
// strings. Nested objects would break the per-field serialization
// contract.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Document, len(raw))

	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("field %q: value must be a string", k)
		}

		out[k] = s
	}

	*d = out

	return nil
}

// Record is one stored remote document together with its metadata.
type Record struct {
	Document  Document  `json:"document"`
	UpdatedAt time.Time `json:"updatedAt"`
	Device    string    `json:"device,omitempty"`
}
