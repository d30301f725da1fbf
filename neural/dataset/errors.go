package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrLabelIndexPrecondition is returned when a training split is given a
	// label index or an evaluation split is given none.
	ErrLabelIndexPrecondition = errors.New("training splits build their own label index; evaluation splits require one")
	// ErrVocabularyNotBuilt is returned when features are requested from a
	// vocabulary that was never built from data.
	ErrVocabularyNotBuilt = errors.New("vocabulary has not been built")
	// ErrStaleFeatures is returned when features were encoded against a
	// different vocabulary build than the one in use.
	ErrStaleFeatures = errors.New("features were encoded against a different vocabulary")
	// ErrEmptyBatch is returned when collating zero features.
	ErrEmptyBatch = errors.New("cannot collate an empty batch")
)

// LabelMismatchError reports a label in an evaluation split that the
// training split never produced.
type LabelMismatchError struct {
	Label string
	Path  string
	Line  int
}

func (e *LabelMismatchError) Error() string {
	return fmt.Sprintf("%s:%d: label %q is not in the training label index", e.Path, e.Line, e.Label)
}

// MalformedLineError reports a data line with too few fields.
type MalformedLineError struct {
	Path   string
	Line   int
	Fields int
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("%s:%d: expected at least %d comma separated fields, got %d", e.Path, e.Line, minFields, e.Fields)
}
