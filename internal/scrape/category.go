package scrape

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// UnknownCategory is reported when a URL carries no workout slug.
const UnknownCategory = "Unknown"

// acronyms keep their upper-case spelling.
var acronyms = map[string]string{
	"hiit": "HIIT",
}

// CategoryFromURL derives the workout category from the page slug:
// /us/workout/cycling-with-emily/123 yields "Cycling". Slugs without
// "-with-" fall back to their first dash-separated token.
func CategoryFromURL(raw string) string {
	path := raw
	if u, err := url.Parse(raw); err == nil {
		path = u.Path
	}

	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part != "workout" || i+1 >= len(parts) {
			continue
		}
		slug := strings.ToLower(parts[i+1])
		if slug == "" {
			break
		}

		category, _, found := strings.Cut(slug, "-with-")
		if !found {
			category, _, _ = strings.Cut(slug, "-")
		}
		if category == "" {
			break
		}
		if a, ok := acronyms[category]; ok {
			return a
		}
		return cases.Title(language.English).String(category)
	}
	return UnknownCategory
}
