// Package fitness canonicalises Apple Fitness+ workout URLs.
package fitness

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/pders01/fitlist/internal/plugins"
	"github.com/pders01/fitlist/internal/validation"
)

// ErrNotWorkout is returned for Fitness+ URLs that do not point at a workout page.
var ErrNotWorkout = errors.New("not a Fitness+ workout page")

// Plugin rewrites regional storefronts to /us/ and keeps the submitted
// region as a fallback candidate, since some workouts are region-exclusive.
type Plugin struct{}

func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string {
	return "fitness"
}

func (p *Plugin) Priority() int {
	return 100
}

// CanHandle matches fitness.apple.com with or without www.
func (p *Plugin) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host == validation.FitnessHost
}

func (p *Plugin) Canonicalize(_ context.Context, rawURL string) (*plugins.Locator, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	u.Host = validation.FitnessHost

	slug, id, ok := workoutPath(u.Path)
	if !ok {
		return nil, ErrNotWorkout
	}

	original := validation.StripQuery(rawURL)
	canonical := validation.Normalize(u.String())

	loc := &plugins.Locator{
		OriginalURL:  original,
		CanonicalURL: canonical,
		Candidates:   []string{canonical},
		Metadata: map[string]string{
			"slug":       slug,
			"workout_id": id,
		},
	}

	region := validation.Region(rawURL)
	if region != "" {
		loc.Metadata["region"] = region
	}
	if region != "" && region != validation.CanonicalRegion {
		regional := *u
		regional.Scheme = "https"
		regional.Path = strings.TrimRight(regional.Path, "/")
		regional.RawQuery, regional.Fragment = "", ""
		loc.Candidates = append(loc.Candidates, regional.String())
	}
	return loc, nil
}

// workoutPath extracts slug and id from /{region}/workout/{slug}/{id}.
func workoutPath(path string) (slug, id string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		if part != "workout" {
			continue
		}
		if i+1 < len(parts) && parts[i+1] != "" {
			slug = parts[i+1]
		}
		if i+2 < len(parts) {
			id = parts[i+2]
		}
		return slug, id, slug != ""
	}
	return "", "", false
}
