// Package scrape fetches Apple Fitness+ workout pages and extracts their
// metadata and playlist.
package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pders01/fitlist/internal/config"
	"github.com/pders01/fitlist/internal/debuglog"
	"github.com/pders01/fitlist/internal/metrics"
	"github.com/pders01/fitlist/internal/plugins"
	"github.com/pders01/fitlist/internal/plugins/fitness"
	"github.com/pders01/fitlist/internal/storage"
	"github.com/pders01/fitlist/internal/validation"
	"github.com/rs/zerolog"
)

// PartialRecord is what one scrape learned about a workout. Any metadata
// field may be empty.
type PartialRecord struct {
	OriginalURL  string         `json:"original_url"`
	CanonicalURL string         `json:"canonical_url"`
	Title        string         `json:"title,omitempty"`
	Trainer      string         `json:"trainer,omitempty"`
	Duration     string         `json:"duration,omitempty"`
	Genre        string         `json:"genre,omitempty"`
	Category     string         `json:"workout_category,omitempty"`
	Episode      string         `json:"episode,omitempty"`
	WorkoutType  string         `json:"workout_type,omitempty"`
	Date         string         `json:"date,omitempty"`
	DateTime     string         `json:"datetime,omitempty"`
	Songs        []storage.Song `json:"songs"`
	FetchedAt    time.Time      `json:"fetched_at"`
}

// ToRecord converts the scrape into a cache record. NeedsUpdate is left for
// the store's evaluator to decide.
func (p *PartialRecord) ToRecord() *storage.WorkoutRecord {
	songs := p.Songs
	if songs == nil {
		songs = []storage.Song{}
	}
	return &storage.WorkoutRecord{
		OriginalURL:   p.OriginalURL,
		CanonicalURL:  p.CanonicalURL,
		Title:         p.Title,
		Trainer:       p.Trainer,
		Duration:      p.Duration,
		Genre:         p.Genre,
		Category:      p.Category,
		Episode:       p.Episode,
		WorkoutType:   p.WorkoutType,
		Date:          p.Date,
		DateTime:      p.DateTime,
		Songs:         songs,
		LastFetchedAt: p.FetchedAt,
	}
}

// PageObserver is told about every page that parsed successfully.
type PageObserver interface {
	OnPageFetched(ctx context.Context, page *Page, rec *PartialRecord)
}

type Scraper struct {
	registry  *plugins.Registry
	fetcher   *Fetcher
	parser    *Parser
	observers []PageObserver
	log       zerolog.Logger
}

// New builds a scraper with the Fitness+ plugin registered.
func New(cfg *config.Config) *Scraper {
	registry := plugins.NewRegistry()
	registry.Register(fitness.New())
	return NewWithRegistry(cfg, registry)
}

func NewWithRegistry(cfg *config.Config, registry *plugins.Registry) *Scraper {
	s := &Scraper{
		registry: registry,
		fetcher:  NewFetcher(cfg),
		parser:   NewParser(),
		log:      debuglog.WithComponent("scrape"),
	}
	var names []string
	for _, p := range registry.ListPlugins() {
		names = append(names, p.Name())
	}
	s.log.Debug().Strs("plugins", names).Msg("scraper ready")
	return s
}

func (s *Scraper) AddObserver(o PageObserver) {
	s.observers = append(s.observers, o)
}

// Scrape canonicalises rawURL, fetches the first candidate that exists and
// parses it. The canonical URL is the normalized address the page was
// finally served from.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (rec *PartialRecord, err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = KindNetwork.String()
			if k, ok := KindOf(err); ok {
				outcome = k.String()
			}
		}
		metrics.RecordScrape(outcome, time.Since(start))
	}()

	loc, err := s.registry.Canonicalize(ctx, rawURL)
	if err != nil {
		return nil, &Error{Kind: KindNotFound, URL: rawURL, Err: err}
	}

	var page *Page
	for _, candidate := range loc.Candidates {
		page, err = s.fetcher.Fetch(ctx, candidate)
		if err == nil {
			break
		}
		if !IsNotFound(err) {
			return nil, err
		}
		s.log.Debug().Str("url", candidate).Msg("candidate not found, trying next")
	}
	if page == nil {
		return nil, err
	}

	rec, err = s.parse(loc.OriginalURL, page)
	if err != nil {
		return nil, err
	}

	for _, o := range s.observers {
		o.OnPageFetched(ctx, page, rec)
	}

	s.log.Debug().
		Str("url", rec.OriginalURL).
		Str("canonical", rec.CanonicalURL).
		Int("songs", len(rec.Songs)).
		Msg("scraped workout")
	return rec, nil
}

// ParseArchived re-parses a previously fetched page without touching the network.
func (s *Scraper) ParseArchived(originalURL string, page *Page) (*PartialRecord, error) {
	return s.parse(originalURL, page)
}

func (s *Scraper) parse(originalURL string, page *Page) (*PartialRecord, error) {
	rec, err := s.parser.Parse(bytes.NewReader(page.Body))
	if err != nil {
		if !errors.Is(err, ErrNoWorkoutData) {
			err = fmt.Errorf("parsing %s: %w", page.FinalURL, err)
		}
		return nil, &Error{Kind: KindParse, URL: page.RequestedURL, Status: page.Status, Err: err}
	}

	final := page.FinalURL
	if final == "" {
		final = page.RequestedURL
	}
	rec.OriginalURL = validation.StripQuery(originalURL)
	rec.CanonicalURL = validation.Normalize(final)
	rec.Category = CategoryFromURL(rec.CanonicalURL)
	rec.FetchedAt = page.FetchedAt
	return rec, nil
}
