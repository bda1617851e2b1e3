package tui

type View int

const (
	ViewLibrary View = iota
	ViewWorkout
	ViewSongs
	ViewAddWorkouts
	ViewSearch
)
