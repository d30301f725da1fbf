// Package dataset reads labeled sentences and turns them into padded,
// integer-encoded batches.
package dataset

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode"

	"github.com/golangast/emotagger/neural/nnu/vocab"
	"github.com/golangast/emotagger/neural/tokenizer"
)

const (
	labelField    = 2
	sentenceField = 5
	minFields     = sentenceField + 1

	commaPlaceholder = "_comma_"
	digitSentinel    = '0'
)

// Instance is one sentence after tokenization.
type Instance struct {
	Sentence string
	Words    []string
	Label    string
	HasLabel bool
	// Line is the 1-based line number in the source file.
	Line int
}

// Dataset is the ordered list of instances read from one split file, plus
// the label index that applies to it.
type Dataset struct {
	Path      string
	Instances []Instance
	Labels    *vocab.LabelIndex
}

// LoadOptions controls how a split is read.
type LoadOptions struct {
	// IsTrain builds a new label index from the split. Evaluation splits
	// must pass the training index in Labels instead.
	IsTrain       bool
	Labels        *vocab.LabelIndex
	Tokenizer     tokenizer.Tokenizer
	ReplaceDigits bool
}

// Load reads a split file. The first line is a header; every other line has
// at least six comma separated fields with the label in field 2 and the
// sentence in field 5.
func Load(path string, opts LoadOptions) (*Dataset, error) {
	if opts.IsTrain == (opts.Labels != nil) {
		return nil, fmt.Errorf("load %s: %w", path, ErrLabelIndexPrecondition)
	}
	if opts.Tokenizer == nil {
		return nil, fmt.Errorf("load %s: tokenizer is nil", path)
	}

	slog.Info("Reading file", "path", path)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file %s: %w", path, err)
	}
	defer file.Close()

	labels := opts.Labels
	if opts.IsTrain {
		slog.Info("Using the training set to build label index", "path", path)
		labels = vocab.NewLabelIndex()
	}

	ds := &Dataset{Path: path, Labels: labels}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo == 1 {
			continue
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < minFields {
			return nil, &MalformedLineError{Path: path, Line: lineNo, Fields: len(parts)}
		}

		sentence := strings.ReplaceAll(parts[sentenceField], commaPlaceholder, ",")
		if opts.ReplaceDigits {
			sentence = replaceDigits(sentence)
		}
		words, err := opts.Tokenizer.Tokenize(sentence)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}

		inst := Instance{Sentence: sentence, Words: words, Label: parts[labelField], Line: lineNo}
		inst.HasLabel = inst.Label != ""
		if inst.HasLabel {
			if opts.IsTrain {
				labels.Add(inst.Label)
			} else if _, ok := labels.ID(inst.Label); !ok {
				return nil, &LabelMismatchError{Label: inst.Label, Path: path, Line: lineNo}
			}
		}
		ds.Instances = append(ds.Instances, inst)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dataset file %s: %w", path, err)
	}

	slog.Info("number of sentences", "path", path, "count", len(ds.Instances))
	return ds, nil
}

func replaceDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return digitSentinel
		}
		return r
	}, s)
}

// Len returns the number of instances.
func (d *Dataset) Len() int {
	return len(d.Instances)
}

// Words returns the tokenized sentences in order, as consumed by
// vocab.BuildVocabulary.
func (d *Dataset) Words() [][]string {
	out := make([][]string, len(d.Instances))
	for i, inst := range d.Instances {
		out[i] = inst.Words
	}
	return out
}
