// Package recommend composes index search, visibility filtering, scoring and
// diversification into the note and user recommendation flows.
package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/starford/noterank/internal/models"
	"github.com/starford/noterank/internal/normalize"
	"github.com/starford/noterank/internal/ranking"
	"github.com/starford/noterank/internal/vectorindex"
)

const (
	similarOverfetch = 5
	userOverfetch    = 5
	maxPerSeries     = 3
)

// Ingest modes reported by IngestNotes.
const (
	ModeNone   = "none"
	ModeBuild  = "build"
	ModeUpsert = "upsert"
)

// Catalog is the record store the service reads from and writes to.
type Catalog interface {
	Note(ctx context.Context, id string) (models.Note, error)
	User(ctx context.Context, id string) (models.UserProfile, error)
	Notes(ctx context.Context) ([]models.Note, error)
	PutNotes(ctx context.Context, source string, raws []map[string]any) error
	PutUsers(ctx context.Context, source string, raws []map[string]any) error
}

// Index is the vector index the service searches.
type Index interface {
	Ready() bool
	Status() vectorindex.Status
	Rebuild(ctx context.Context, load func(context.Context) ([]models.Note, error)) (int, error)
	Upsert(ctx context.Context, notes []models.Note) error
	SearchByText(ctx context.Context, text string, k int) ([]vectorindex.Candidate, error)
	SearchByRecord(ctx context.Context, note models.Note, k int) ([]vectorindex.Candidate, error)
}

// Notifier receives index lifecycle events.
type Notifier interface {
	PublishIndexEvent(kind string, data any)
}

// IngestResult describes one ingestion call.
type IngestResult struct {
	Count int    `json:"count"`
	Mode  string `json:"mode,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for freshness.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithTauDays sets the freshness decay constant.
func WithTauDays(tau float64) Option {
	return func(s *Service) {
		if tau > 0 {
			s.tauDays = tau
		}
	}
}

// WithNotifier publishes index events to n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// Service is the recommendation orchestrator.
type Service struct {
	catalog  Catalog
	index    Index
	notifier Notifier
	now      func() time.Time
	tauDays  float64
	logger   *slog.Logger
}

// NewService creates a Service over the given catalog and index.
func NewService(catalog Catalog, index Index, opts ...Option) *Service {
	s := &Service{
		catalog: catalog,
		index:   index,
		now:     time.Now,
		tauDays: ranking.DefaultTauDays,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready reports whether the index can serve queries.
func (s *Service) Ready() bool {
	return s.index.Ready()
}

// Status returns the index status.
func (s *Service) Status() vectorindex.Status {
	return s.index.Status()
}

// SimilarToNote returns up to k visible notes most similar to noteID,
// excluding the note itself.
func (s *Service) SimilarToNote(ctx context.Context, noteID string, k int) ([]models.ScoredItem, error) {
	note, err := s.catalog.Note(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []models.ScoredItem{}, nil
	}

	cands, err := s.index.SearchByRecord(ctx, note, k+similarOverfetch)
	if err != nil {
		return nil, fmt.Errorf("recommend: similar to %q: %w", noteID, err)
	}

	now := s.now()
	items := make([]models.ScoredItem, 0, len(cands))
	for _, c := range cands {
		if c.ID == noteID || !c.Metadata.Visible() {
			continue
		}
		items = append(items, s.score(c, 0, now))
	}
	sortByScore(items)
	return truncate(items, k), nil
}

// ForUser returns up to k visible notes for userID, skipping recently read
// ones and keeping at most three per series.
func (s *Service) ForUser(ctx context.Context, userID string, k int) ([]models.ScoredItem, error) {
	user, err := s.catalog.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []models.ScoredItem{}, nil
	}

	cands, err := s.index.SearchByText(ctx, normalize.UserText(user), k*userOverfetch)
	if err != nil {
		return nil, fmt.Errorf("recommend: for user %q: %w", userID, err)
	}

	recent := make(map[string]struct{}, len(user.RecentNotes))
	for _, r := range user.RecentNotes {
		recent[r.ID] = struct{}{}
	}
	userTags := normalize.LikedTags(user, 0)
	series := preferredSeries(user)

	now := s.now()
	items := make([]models.ScoredItem, 0, len(cands))
	for _, c := range cands {
		if _, seen := recent[c.ID]; seen {
			continue
		}
		if !c.Metadata.Visible() {
			continue
		}
		_, sameSeries := series[c.Metadata.SeriesName()]
		sameSeries = sameSeries && c.Metadata.Series != nil
		meta := ranking.MetaMatch(userTags, c.Metadata.Tags, sameSeries)
		items = append(items, s.score(c, meta, now))
	}
	sortByScore(items)
	items = ranking.Diversify(items, func(it models.ScoredItem) string {
		return it.Metadata.SeriesName()
	}, maxPerSeries)
	return truncate(items, k), nil
}

// IngestNotes stores raw note records in the catalog and indexes them.
func (s *Service) IngestNotes(ctx context.Context, source string, raws []map[string]any) (IngestResult, error) {
	if len(raws) == 0 {
		return IngestResult{Mode: ModeNone}, nil
	}
	if err := s.catalog.PutNotes(ctx, source, raws); err != nil {
		return IngestResult{}, err
	}
	mode, err := s.IndexNotes(ctx, raws)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Count: len(raws), Mode: mode}, nil
}

// IndexNotes indexes raw note records already stored in the catalog: a full
// build from the catalog when the index is empty, an upsert of the batch
// otherwise.
func (s *Service) IndexNotes(ctx context.Context, raws []map[string]any) (string, error) {
	if len(raws) == 0 {
		return ModeNone, nil
	}
	if !s.index.Ready() {
		if _, err := s.Rebuild(ctx); err != nil {
			return "", err
		}
		return ModeBuild, nil
	}

	notes := make([]models.Note, len(raws))
	for i, raw := range raws {
		notes[i] = normalize.DecodeNote(raw)
	}
	if err := s.index.Upsert(ctx, notes); err != nil {
		return "", fmt.Errorf("recommend: upsert: %w", err)
	}
	s.publish("index.upserted", len(notes))
	return ModeUpsert, nil
}

// IngestUsers stores raw user records.
func (s *Service) IngestUsers(ctx context.Context, source string, raws []map[string]any) (IngestResult, error) {
	if err := s.catalog.PutUsers(ctx, source, raws); err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Count: len(raws)}, nil
}

// Rebuild builds a fresh index generation from every catalog note and
// returns the number of notes indexed. The catalog is read under the index
// writer lock. An empty catalog leaves the index untouched.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	var loadErr error
	n, err := s.index.Rebuild(ctx, func(ctx context.Context) ([]models.Note, error) {
		notes, err := s.catalog.Notes(ctx)
		loadErr = err
		return notes, err
	})
	if loadErr != nil {
		return 0, loadErr
	}
	if err != nil {
		return 0, fmt.Errorf("recommend: build: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	s.publish("index.built", n)
	return n, nil
}

func (s *Service) score(c vectorindex.Candidate, meta float64, now time.Time) models.ScoredItem {
	createdAt := ""
	if c.Metadata.CreatedAt != nil {
		createdAt = *c.Metadata.CreatedAt
	}
	sim := ranking.Similarity(c.Distance)
	fresh := ranking.Freshness(createdAt, now, s.tauDays)
	return models.ScoredItem{
		ID:       c.ID,
		Score:    ranking.Blend(sim, 0, meta, fresh),
		Metadata: c.Metadata,
	}
}

func (s *Service) publish(kind string, count int) {
	st := s.index.Status()
	s.logger.Debug("index event", slog.String("kind", kind), slog.Int("count", count))
	if s.notifier == nil {
		return
	}
	s.notifier.PublishIndexEvent(kind, map[string]any{
		"count":      count,
		"generation": st.Generation,
		"documents":  st.Documents,
	})
}

// preferredSeries collects the series of liked notes and explicit series
// preferences.
func preferredSeries(u models.UserProfile) map[string]struct{} {
	out := make(map[string]struct{})
	for _, n := range u.LikedNotes {
		if n.Series != nil {
			out[n.Series.Display] = struct{}{}
		}
	}
	for _, t := range u.SeriesPrefs {
		out[t.Display] = struct{}{}
	}
	return out
}

// sortByScore sorts descending; ties keep index order.
func sortByScore(items []models.ScoredItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
}

func truncate(items []models.ScoredItem, k int) []models.ScoredItem {
	if len(items) > k {
		return items[:k]
	}
	return items
}
