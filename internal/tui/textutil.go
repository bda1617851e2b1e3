package tui

const ellipsis = "…"

// truncateEnd cuts s to limit runes, ending in an ellipsis when shortened.
func truncateEnd(s string, limit int) string {
	r := []rune(s)
	switch {
	case limit <= 0:
		return ""
	case len(r) <= limit:
		return s
	}
	return string(r[:limit-1]) + ellipsis
}

// truncateMiddle keeps the head and tail of s. Workout URLs carry the host
// at the front and the workout ID at the end.
func truncateMiddle(s string, limit int) string {
	r := []rune(s)
	switch {
	case limit <= 0:
		return ""
	case len(r) <= limit:
		return s
	}
	head := (limit - 1) / 2
	tail := limit - 1 - head
	return string(r[:head]) + ellipsis + string(r[len(r)-tail:])
}
