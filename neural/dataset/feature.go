package dataset

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/golangast/emotagger/neural/nnu/vocab"
)

// Feature is the integer-encoded form of an Instance.
type Feature struct {
	WordIDs  []int
	SeqLen   int
	LabelID  int
	HasLabel bool
}

// FeatureSet is the encoded form of a whole split. VocabVersion records the
// vocabulary build the ids belong to.
type FeatureSet struct {
	Features     []Feature
	VocabVersion uuid.UUID
	// Unknown counts words replaced by vocab.UnknownID.
	Unknown int
}

// Len returns the number of features.
func (s *FeatureSet) Len() int {
	return len(s.Features)
}

// Convert encodes every instance of d against v. It must be rerun whenever v
// is rebuilt; NewIterator rejects sets encoded against another build.
func Convert(d *Dataset, v *vocab.Vocabulary) (*FeatureSet, error) {
	if v == nil || !v.Built() {
		return nil, fmt.Errorf("convert %s: %w", d.Path, ErrVocabularyNotBuilt)
	}

	set := &FeatureSet{
		Features:     make([]Feature, 0, len(d.Instances)),
		VocabVersion: v.Version(),
	}
	for _, inst := range d.Instances {
		wordIDs := make([]int, len(inst.Words))
		for j, word := range inst.Words {
			id, ok := v.Lookup(word)
			if !ok {
				id = vocab.UnknownID
				set.Unknown++
			}
			wordIDs[j] = id
		}

		f := Feature{WordIDs: wordIDs, SeqLen: len(inst.Words)}
		if inst.HasLabel {
			if d.Labels == nil {
				return nil, fmt.Errorf("convert %s: %w", d.Path, ErrLabelIndexPrecondition)
			}
			id, ok := d.Labels.ID(inst.Label)
			if !ok {
				return nil, &LabelMismatchError{Label: inst.Label, Path: d.Path, Line: inst.Line}
			}
			f.LabelID = id
			f.HasLabel = true
		}
		set.Features = append(set.Features, f)
	}
	return set, nil
}
