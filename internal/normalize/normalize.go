// Package normalize converts loosely-typed note and user records into
// canonical text and metadata snapshots.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/starford/noterank/internal/models"
)

const (
	maxTopicTokens = 50
	maxTitles      = 50
)

// displayKeys is the fixed priority used to resolve a mapping to a display name.
var displayKeys = []string{"name", "title", "value", "id"}

// ResolveTag resolves a raw tag or series value to a Tag. Plain strings become
// PlainTag; mappings become StructuredTag using displayKeys; anything else is
// converted with fmt. ok is false for nil and empty values.
func ResolveTag(v any) (tag models.Tag, ok bool) {
	switch t := v.(type) {
	case nil:
		return models.Tag{}, false
	case models.Tag:
		return t, t.Display != ""
	case string:
		s := strings.TrimSpace(t)
		return models.Plain(s), s != ""
	case map[string]any:
		id := stringField(t, "id")
		for _, k := range displayKeys {
			if s := stringField(t, k); s != "" {
				return models.Structured(s, id), true
			}
		}
		if len(t) == 0 {
			return models.Tag{}, false
		}
		return models.Structured(fmt.Sprint(t), id), true
	case fmt.Stringer:
		s := t.String()
		return models.Plain(s), s != ""
	default:
		s := fmt.Sprint(t)
		return models.Plain(s), s != ""
	}
}

// ResolveTags resolves every element of a raw list, skipping empty values.
// A single non-list value is treated as a one-element list.
func ResolveTags(v any) []models.Tag {
	var items []any
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		items = t
	case []string:
		for _, s := range t {
			items = append(items, s)
		}
	default:
		items = []any{t}
	}
	out := make([]models.Tag, 0, len(items))
	for _, it := range items {
		if tag, ok := ResolveTag(it); ok {
			out = append(out, tag)
		}
	}
	return out
}

func resolveSeries(v any) *models.Tag {
	tag, ok := ResolveTag(v)
	if !ok {
		return nil
	}
	return &tag
}

// RecordID returns the id of a raw record as a string, or "" when absent.
func RecordID(raw map[string]any) string {
	return strings.TrimSpace(stringField(raw, "id"))
}

// DecodeNote builds a Note from a raw record. Missing fields fall back to
// defaults: visibility flags default to true, counters to zero. The id is
// trimmed the same way the catalog keys it.
func DecodeNote(raw map[string]any) models.Note {
	return models.Note{
		ID:           RecordID(raw),
		AuthorID:     stringField(raw, "author_id"),
		Title:        stringField(raw, "title"),
		Description:  stringField(raw, "description"),
		Content:      stringField(raw, "content"),
		IsPublic:     boolField(raw, "is_public", true),
		IsPublished:  boolField(raw, "is_published", true),
		Tags:         ResolveTags(raw["tags"]),
		Series:       resolveSeries(raw["series"]),
		CreatedAt:    timeField(raw, "created_at"),
		LikeCount:    intField(raw, "like_count"),
		ViewCount:    intField(raw, "view_count"),
		ThumbnailURL: stringField(raw, "thumbnail_url"),
	}
}

// DecodeUser builds a UserProfile from a raw record.
func DecodeUser(raw map[string]any) models.UserProfile {
	return models.UserProfile{
		ID:          RecordID(raw),
		LikedNotes:  decodeRefs(raw["liked_notes"]),
		RecentNotes: decodeRefs(raw["recently_read_notes"]),
		Skills:      ResolveTags(raw["skills"]),
		SeriesPrefs: ResolveTags(raw["series"]),
	}
}

func decodeRefs(v any) []models.NoteRef {
	items, _ := v.([]any)
	out := make([]models.NoteRef, 0, len(items))
	for _, it := range items {
		switch t := it.(type) {
		case string:
			out = append(out, models.NoteRef{ID: strings.TrimSpace(t)})
		case map[string]any:
			out = append(out, models.NoteRef{
				ID:     RecordID(t),
				Title:  stringField(t, "title"),
				Tags:   ResolveTags(t["tags"]),
				Series: resolveSeries(t["series"]),
			})
		}
	}
	return out
}

// NoteText renders the canonical embedding text of a note.
func NoteText(n models.Note) string {
	series := ""
	if n.Series != nil {
		series = n.Series.Display
	}
	return strings.Join([]string{
		"[TITLE] " + n.Title,
		"[DESC] " + n.Description,
		"[TAGS] " + joinDisplay(n.Tags, " "),
		"[SERIES] " + series,
		"[BODY] " + n.Content,
	}, "\n")
}

// UserText renders the canonical query text of a user profile. Liked topics
// aggregate tags across all liked notes.
func UserText(u models.UserProfile) string {
	return strings.Join([]string{
		"[LIKED_TOPICS] " + strings.Join(LikedTags(u, maxTopicTokens), " "),
		"[LIKED_TITLES] " + titles(u.LikedNotes),
		"[RECENT_TITLES] " + titles(u.RecentNotes),
		"[SKILLS] " + joinDisplay(u.Skills, " "),
		"[SERIES_PREF] " + joinDisplay(u.SeriesPrefs, " "),
	}, "\n")
}

// LikedTags returns the display names of tags across every liked note in
// order, keeping duplicates. limit <= 0 means no cap.
func LikedTags(u models.UserProfile, limit int) []string {
	var out []string
	for _, n := range u.LikedNotes {
		for _, t := range n.Tags {
			if limit > 0 && len(out) >= limit {
				return out
			}
			out = append(out, t.Display)
		}
	}
	return out
}

// NoteMetadata builds the metadata snapshot for a note.
func NoteMetadata(n models.Note) models.Metadata {
	md := models.Metadata{
		ID:          n.ID,
		AuthorID:    n.AuthorID,
		IsPublic:    n.IsPublic,
		IsPublished: n.IsPublished,
		Tags:        make([]string, 0, len(n.Tags)),
		LikeCount:   n.LikeCount,
		ViewCount:   n.ViewCount,
	}
	for _, t := range n.Tags {
		md.Tags = append(md.Tags, t.Display)
	}
	if n.Series != nil {
		s := n.Series.Display
		md.Series = &s
	}
	if n.CreatedAt != "" {
		c := n.CreatedAt
		md.CreatedAt = &c
	}
	if n.ThumbnailURL != "" {
		u := n.ThumbnailURL
		md.ThumbnailURL = &u
	}
	return md
}

func titles(refs []models.NoteRef) string {
	if len(refs) > maxTitles {
		refs = refs[:maxTitles]
	}
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.Title
	}
	return strings.Join(parts, " | ")
}

func joinDisplay(tags []models.Tag, sep string) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = t.Display
	}
	return strings.Join(parts, sep)
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func boolField(m map[string]any, key string, def bool) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func timeField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprint(v)
	}
}
