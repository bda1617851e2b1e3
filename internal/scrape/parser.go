package scrape

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pders01/fitlist/internal/storage"
)

// ErrNoWorkoutData means the page parsed but carried neither a title nor a playlist.
var ErrNoWorkoutData = errors.New("no workout data found")

const unknownArtist = "Unknown Artist"

// playlistKeys name JSON-LD properties that hold track lists.
var playlistKeys = map[string]bool{
	"tracks":   true,
	"songs":    true,
	"playlist": true,
	"music":    true,
}

var workoutTypeMarkers = []string{"Cycle", "Strength", "Yoga", "HIIT"}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse extracts metadata and the ordered playlist from a workout page. The
// playlist comes from JSON-LD when present and from the song-lockup markup
// otherwise.
func (p *Parser) Parse(r io.Reader) (*PartialRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}

	rec := &PartialRecord{}
	extractMetadata(doc, rec)

	rec.Songs = songsFromJSONLD(doc)
	if len(rec.Songs) == 0 {
		rec.Songs = songsFromMarkup(doc)
	}

	if rec.Title == "" && len(rec.Songs) == 0 {
		return nil, ErrNoWorkoutData
	}
	return rec, nil
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func extractMetadata(doc *goquery.Document, rec *PartialRecord) {
	rec.Title = cleanText(doc.Find("h1.t-intro-elevated").First().Text())

	doc.Find("div.workout-subcaption").First().Find("li.metadata__attribute").Each(func(_ int, attr *goquery.Selection) {
		text := cleanText(attr.Text())
		switch {
		case text == "":
		case strings.HasSuffix(text, "min"):
			rec.Duration = text
		case strings.HasPrefix(text, "Ep"):
			rec.Episode = text
		case containsAny(text, workoutTypeMarkers):
			rec.WorkoutType = text
		default:
			if tm := attr.Find("time").First(); tm.Length() > 0 {
				rec.Date = cleanText(tm.Text())
				rec.DateTime, _ = tm.Attr("datetime")
			} else if rec.Genre == "" {
				rec.Genre = text
			}
		}
	})

	rec.Trainer = cleanText(doc.Find(`a[href*="/trainer/"]`).First().Text())
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func songsFromJSONLD(doc *goquery.Document) []storage.Song {
	var songs []storage.Song
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := s.Text()
		if !strings.Contains(raw, "workoutData") {
			return
		}
		var data any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return
		}
		if _, ok := data.(map[string]any); !ok {
			return
		}
		songs = append(songs, findTracks(data)...)
	})
	return songs
}

// findTracks walks a decoded JSON value depth-first, collecting songs from
// every list stored under a playlist key.
func findTracks(v any) []storage.Song {
	var songs []storage.Song
	switch t := v.(type) {
	case map[string]any:
		for _, key := range slices.Sorted(maps.Keys(t)) {
			value := t[key]
			if items, ok := value.([]any); ok && playlistKeys[strings.ToLower(key)] {
				for _, item := range items {
					if m, ok := item.(map[string]any); ok {
						if song, ok := songFromMap(m); ok {
							songs = append(songs, song)
						}
					}
				}
			}
			songs = append(songs, findTracks(value)...)
		}
	case []any:
		for _, item := range t {
			songs = append(songs, findTracks(item)...)
		}
	}
	return songs
}

func songFromMap(m map[string]any) (storage.Song, bool) {
	title := firstString(m, "name", "title", "trackName")
	if title == "" {
		return storage.Song{}, false
	}

	artist := ""
	switch {
	case m["artist"] != nil:
		artist = nameOf(m["artist"])
	case m["by"] != nil:
		artist = nameOf(m["by"])
	case m["performer"] != nil:
		artist = nameOf(m["performer"])
	case m["byArtist"] != nil:
		artist = nameOf(m["byArtist"])
	}
	if artist == "" {
		artist = unknownArtist
	}

	return storage.Song{
		Title:  title,
		Artist: artist,
		Link:   firstString(m, "url", "link"),
	}, true
}

func nameOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return firstString(t, "name")
	case []any:
		if len(t) > 0 {
			return nameOf(t[0])
		}
	}
	return ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func songsFromMarkup(doc *goquery.Document) []storage.Song {
	var songs []storage.Song
	doc.Find("figure.song-lockup").Each(func(_ int, fig *goquery.Selection) {
		link := fig.Find("a.song-lockup__song-name").First()
		if link.Length() == 0 {
			return
		}
		title := cleanText(link.Text())
		if title == "" {
			return
		}
		href, _ := link.Attr("href")

		artist := cleanText(fig.Find("div.song-lockup__artist-name").First().Text())
		if artist == "" {
			artist = unknownArtist
		}
		songs = append(songs, storage.Song{Title: title, Artist: artist, Link: href})
	})
	return songs
}
