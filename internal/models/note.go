// Package models defines the domain types for noterank.
package models

// TagKind discriminates how a tag or series value was supplied.
type TagKind int

const (
	// PlainTag is a bare string value.
	PlainTag TagKind = iota
	// StructuredTag is a mapping/object resolved to a display name.
	StructuredTag
)

// Tag is a display-resolvable tag or series value. It is resolved once at
// ingestion and never re-inspected at query time.
type Tag struct {
	Kind    TagKind `json:"-"`
	Display string  `json:"display"`
	ID      string  `json:"id,omitempty"`
}

// Plain returns a PlainTag holding text.
func Plain(text string) Tag {
	return Tag{Kind: PlainTag, Display: text}
}

// Structured returns a StructuredTag with the given display name and id.
func Structured(display, id string) Tag {
	return Tag{Kind: StructuredTag, Display: display, ID: id}
}

// Note is a normalized note record.
type Note struct {
	ID           string
	AuthorID     string
	Title        string
	Description  string
	Content      string
	IsPublic     bool
	IsPublished  bool
	Tags         []Tag
	Series       *Tag
	// CreatedAt is the ISO-8601 text as supplied; empty when absent.
	CreatedAt    string
	LikeCount    int
	ViewCount    int
	ThumbnailURL string
}

// NoteRef is a lightweight reference to a note held inside a user profile.
type NoteRef struct {
	ID     string
	Title  string
	Tags   []Tag
	Series *Tag
}

// UserProfile is a normalized user record.
type UserProfile struct {
	ID          string
	LikedNotes  []NoteRef
	RecentNotes []NoteRef
	Skills      []Tag
	SeriesPrefs []Tag
}

// Metadata is the immutable snapshot attached to an indexed document and
// exposed to callers.
type Metadata struct {
	ID           string   `json:"id"`
	AuthorID     string   `json:"author_id"`
	IsPublic     bool     `json:"is_public"`
	IsPublished  bool     `json:"is_published"`
	Tags         []string `json:"tags"`
	Series       *string  `json:"series"`
	CreatedAt    *string  `json:"created_at"`
	LikeCount    int      `json:"like_count"`
	ViewCount    int      `json:"view_count"`
	ThumbnailURL *string  `json:"thumbnail_url"`
}

// Visible reports whether the snapshot may be exposed to callers.
func (m Metadata) Visible() bool {
	return m.IsPublic && m.IsPublished
}

// SeriesName returns the series display name or empty string.
func (m Metadata) SeriesName() string {
	if m.Series == nil {
		return ""
	}
	return *m.Series
}

// Clone returns a deep copy so callers cannot mutate an attached snapshot.
func (m Metadata) Clone() Metadata {
	out := m
	out.Tags = append([]string(nil), m.Tags...)
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if m.Series != nil {
		s := *m.Series
		out.Series = &s
	}
	if m.CreatedAt != nil {
		c := *m.CreatedAt
		out.CreatedAt = &c
	}
	if m.ThumbnailURL != nil {
		u := *m.ThumbnailURL
		out.ThumbnailURL = &u
	}
	return out
}

// ScoredItem is one ranked recommendation.
type ScoredItem struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}
