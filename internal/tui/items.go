package tui

import (
	"fmt"
	"strings"

	"github.com/pders01/fitlist/internal/media"
	"github.com/pders01/fitlist/internal/search"
	"github.com/pders01/fitlist/internal/storage"
)

type workoutItem struct {
	record   *storage.WorkoutRecord
	maxTitle int
}

func workoutLabel(r *storage.WorkoutRecord) string {
	if r.Title != "" {
		return r.Title
	}
	return r.URL()
}

func (i workoutItem) Title() string {
	label := workoutLabel(i.record)
	if i.record.Title == "" {
		label = truncateMiddle(label, i.maxTitle)
	} else {
		label = truncateEnd(label, i.maxTitle)
	}
	switch {
	case i.record.NeedsUpdate:
		return StaleItemStyle.Render("↻ " + label)
	case i.record.IsFavorite:
		return FavoriteItemStyle.Render("★ " + label)
	default:
		return ItemStyle.Render(label)
	}
}

func (i workoutItem) Description() string {
	r := i.record
	var parts []string
	for _, s := range []string{r.Trainer, r.Duration, r.Genre} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(r.Songs) > 0 {
		parts = append(parts, fmt.Sprintf("%d songs", len(r.Songs)))
	}

	when := "not fetched yet"
	if !r.LastFetchedAt.IsZero() {
		when = r.LastFetchedAt.Local().Format("Jan 2, 15:04")
	}
	return renderMuted(strings.Join(parts, " • ")) + TimeStyle.Render(" • "+when)
}

func (i workoutItem) FilterValue() string {
	return strings.Join([]string{i.record.Title, i.record.Trainer, i.record.Genre, i.record.Category}, " ")
}

type songItem struct {
	song  storage.Song
	index int
	total int
}

func (i songItem) Title() string {
	return fmt.Sprintf("%d/%d  %s", i.index+1, i.total, i.song.Title)
}

func (i songItem) Description() string {
	link := media.SongLink(i.song)
	if i.song.Link == "" && link != "" {
		return renderMuted(i.song.Artist + " • search Apple Music")
	}
	return renderMuted(i.song.Artist + " • " + truncateMiddle(link, 60))
}

func (i songItem) FilterValue() string { return i.song.Artist + " " + i.song.Title }

type searchResultItem struct {
	result *search.Result
}

func (i searchResultItem) Title() string {
	if i.result.IsSong && i.result.Song != nil {
		return ItemStyle.Render("♪ " + i.result.Song.Title)
	}
	return HeaderStyle.Render("▸ " + workoutLabel(i.result.Workout))
}

func (i searchResultItem) Description() string {
	w := i.result.Workout
	if i.result.IsSong && i.result.Song != nil {
		return renderMuted(truncateEnd(i.result.Song.Artist+" • from "+workoutLabel(w), 70))
	}
	var fields []string
	for _, m := range i.result.Matches {
		fields = append(fields, m.Field)
	}
	desc := strings.TrimSpace(w.Trainer + " • " + w.Genre)
	if len(fields) > 0 {
		desc += " • matched " + strings.Join(fields, ", ")
	}
	return renderMuted(truncateEnd(desc, 70))
}

func (i searchResultItem) FilterValue() string {
	if i.result.IsSong && i.result.Song != nil {
		return i.result.Song.Artist + " " + i.result.Song.Title
	}
	return workoutLabel(i.result.Workout)
}
