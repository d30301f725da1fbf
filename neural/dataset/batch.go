package dataset

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/golangast/emotagger/neural/nnu/vocab"
	"github.com/golangast/emotagger/neural/tensor"
)

// PadID fills the positions past a sequence's length.
const PadID = 0

// Batch is a padded group of features processed in one step.
type Batch struct {
	// WordIDs has shape [batch, max_len].
	WordIDs *tensor.Tensor
	SeqLens []int
	// LabelIDs is nil unless every feature in the batch has a label.
	LabelIDs []int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	return len(b.SeqLens)
}

// MaxLen returns the padded sequence length.
func (b *Batch) MaxLen() int {
	return b.WordIDs.Shape[1]
}

// Collate pads features to a common length. The features are not modified.
func Collate(features []Feature) (*Batch, error) {
	if len(features) == 0 {
		return nil, ErrEmptyBatch
	}
	return collate(features), nil
}

func collate(features []Feature) *Batch {
	maxLen := 0
	for _, f := range features {
		if f.SeqLen > maxLen {
			maxLen = f.SeqLen
		}
	}
	// Keep at least one column so an all-empty batch still has a shape.
	width := maxLen
	if width == 0 {
		width = 1
	}

	ids := tensor.NewTensor([]int{len(features), width}, nil, false)
	seqLens := make([]int, len(features))
	allLabeled := true
	for i, f := range features {
		row := ids.Row(i)
		for j := 0; j < width; j++ {
			if j < f.SeqLen {
				row[j] = float64(f.WordIDs[j])
			} else {
				row[j] = PadID
			}
		}
		seqLens[i] = f.SeqLen
		allLabeled = allLabeled && f.HasLabel
	}

	b := &Batch{WordIDs: ids, SeqLens: seqLens}
	if allLabeled {
		b.LabelIDs = make([]int, len(features))
		for i, f := range features {
			b.LabelIDs[i] = f.LabelID
		}
	}
	return b
}

// IteratorOptions configures batch iteration.
type IteratorOptions struct {
	BatchSize int
	// Shuffle reorders the features on every Reset using Seed.
	Shuffle bool
	Seed    uint64
}

// Iterator yields batches over a FeatureSet.
type Iterator struct {
	set       *FeatureSet
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	order     []int
	pos       int
}

// NewIterator checks that set was encoded against v and prepares iteration.
func NewIterator(set *FeatureSet, v *vocab.Vocabulary, opts IteratorOptions) (*Iterator, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if v == nil || set.VocabVersion != v.Version() {
		return nil, ErrStaleFeatures
	}
	it := &Iterator{
		set:       set,
		batchSize: opts.BatchSize,
		shuffle:   opts.Shuffle,
		rng:       rand.New(rand.NewSource(opts.Seed)),
		order:     make([]int, set.Len()),
	}
	for i := range it.order {
		it.order[i] = i
	}
	it.Reset()
	return it, nil
}

// Reset rewinds the iterator, reshuffling when enabled.
func (it *Iterator) Reset() {
	it.pos = 0
	if it.shuffle {
		it.rng.Shuffle(len(it.order), func(i, j int) {
			it.order[i], it.order[j] = it.order[j], it.order[i]
		})
	}
}

// Next returns the next batch, or false once the set is exhausted.
func (it *Iterator) Next() (*Batch, bool) {
	if it.pos >= len(it.order) {
		return nil, false
	}
	end := it.pos + it.batchSize
	if end > len(it.order) {
		end = len(it.order)
	}
	features := make([]Feature, 0, end-it.pos)
	for _, idx := range it.order[it.pos:end] {
		features = append(features, it.set.Features[idx])
	}
	it.pos = end
	return collate(features), true
}

// NumBatches returns the number of batches per pass.
func (it *Iterator) NumBatches() int {
	return (len(it.order) + it.batchSize - 1) / it.batchSize
}
