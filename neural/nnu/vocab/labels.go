package vocab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golangast/emotagger/neural/nnu/indexer"
)

// LabelIndex is a bijection between label strings and class ids. Ids start
// at 0 and follow the order labels were first seen in the training split.
type LabelIndex struct {
	labels *indexer.Indexer[string]
}

// NewLabelIndex returns an empty label index.
func NewLabelIndex() *LabelIndex {
	return &LabelIndex{labels: indexer.New[string](0)}
}

// BuildLabelIndex indexes labels in order.
func BuildLabelIndex(labels ...string) *LabelIndex {
	return &LabelIndex{labels: indexer.Build(0, labels...)}
}

// Add returns the id of label, assigning a new one if needed.
func (l *LabelIndex) Add(label string) int {
	return l.labels.Add(label)
}

// ID returns the class id of label.
func (l *LabelIndex) ID(label string) (int, bool) {
	return l.labels.Index(label)
}

// Label returns the label string of a class id.
func (l *LabelIndex) Label(id int) (string, bool) {
	return l.labels.Item(id)
}

// Len returns the number of classes.
func (l *LabelIndex) Len() int {
	return l.labels.Len()
}

// Labels returns the labels ordered by id.
func (l *LabelIndex) Labels() []string {
	return l.labels.Items()
}

// Mapping returns a copy of the label -> id map.
func (l *LabelIndex) Mapping() map[string]int {
	return l.labels.Mapping()
}

// WriteTo writes one label per line in id order.
func (l *LabelIndex) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for _, label := range l.labels.Items() {
		n, err := fmt.Fprintln(w, label)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ReadLabelIndex reads labels written by WriteTo. Blank lines are ignored.
func ReadLabelIndex(r io.Reader) (*LabelIndex, error) {
	l := NewLabelIndex()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, dup := l.ID(line); dup {
			return nil, fmt.Errorf("duplicate label %q", line)
		}
		l.Add(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return l, nil
}

// Save writes the label index to filePath.
func (l *LabelIndex) Save(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := l.WriteTo(file); err != nil {
		return fmt.Errorf("failed to write labels to %s: %w", filePath, err)
	}
	return nil
}

// LoadLabelIndex reads a label index written by Save.
func LoadLabelIndex(filePath string) (*LabelIndex, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	l, err := ReadLabelIndex(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels from %s: %w", filePath, err)
	}
	return l, nil
}
