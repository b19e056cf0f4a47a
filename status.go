package beodesk

import "fmt"

// Status is a document's lifecycle state.
type Status string

const (
	StatusNew                Status = "new"
	StatusSelected           Status = "selected"
	StatusReadyForAnnotation Status = "ready_for_annotation"
	StatusAnnotated          Status = "annotated"
)

// transitions lists the states reachable from each state. Documents created
// by a split or the batch path enter at StatusReadyForAnnotation directly.
var transitions = map[Status][]Status{
	StatusNew:                {StatusSelected, StatusReadyForAnnotation},
	StatusSelected:           {StatusSelected, StatusReadyForAnnotation},
	StatusReadyForAnnotation: {StatusSelected, StatusReadyForAnnotation, StatusAnnotated},
	StatusAnnotated:          {StatusAnnotated},
}

// Valid reports whether s is a known state.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a document in s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// advance returns the status a document in cur ends up in when an operation
// wants next. Page selection and promotion leave an annotated document
// annotated; any other disallowed move is an error.
func advance(cur, next Status) (Status, error) {
	if cur == StatusAnnotated && (next == StatusSelected || next == StatusReadyForAnnotation) {
		return StatusAnnotated, nil
	}
	if !cur.CanTransition(next) {
		return cur, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	return next, nil
}
