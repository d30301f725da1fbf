package glove

import (
	"fmt"
	"log/slog"

	"golang.org/x/exp/rand"

	"github.com/golangast/emotagger/neural/nnu/vocab"
	"github.com/golangast/emotagger/neural/tensor"
)

// BuildTable returns a [v.Size(), dim] embedding table. Row i is the
// pretrained vector of word i when store has one, otherwise a draw from
// N(0, 1). The number of pretrained rows is returned as well. store may be
// nil, in which case every row is random.
func BuildTable(v *vocab.Vocabulary, store *Store, dim int, rng *rand.Rand) (*tensor.Tensor, int, error) {
	if dim <= 0 {
		return nil, 0, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	if store != nil && store.Dim() != dim {
		return nil, 0, fmt.Errorf("pretrained vectors have dimension %d, embedding dimension is %d", store.Dim(), dim)
	}

	words := v.Words()
	table := tensor.NewTensor([]int{len(words), dim}, nil, false)
	matched := 0
	for i, word := range words {
		row := table.Row(i)
		if store != nil {
			if vec, ok := store.Vector(word); ok {
				copy(row, vec)
				matched++
				continue
			}
		}
		for j := range row {
			row[j] = rng.NormFloat64()
		}
	}
	slog.Info("Vocabulary match", "matched", matched, "vocab_size", len(words))
	return table, matched, nil
}
