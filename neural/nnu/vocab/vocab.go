// Package vocab holds the word vocabulary and the label index shared by
// every dataset split.
package vocab

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/golangast/emotagger/neural/nnu/indexer"
)

const (
	// UnknownToken stands in for every word outside the vocabulary.
	UnknownToken = "<unk>"
	// UnknownID is the reserved index of UnknownToken. Real words start at 1.
	UnknownID = 0
)

// Vocabulary maps words to indices. Index 0 is reserved for UnknownToken.
// Every build stamps a new Version so features encoded against an older
// vocabulary can be told apart.
type Vocabulary struct {
	words   *indexer.Indexer[string]
	version uuid.UUID
}

// NewVocabulary returns a vocabulary holding only the unknown token.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{words: indexer.New[string](UnknownID + 1)}
}

// BuildVocabulary deduplicates the words of every split in first-seen order.
// Each split is a list of tokenized sentences.
func BuildVocabulary(splits ...[][]string) *Vocabulary {
	v := NewVocabulary()
	for _, split := range splits {
		for _, sentence := range split {
			for _, word := range sentence {
				if word == UnknownToken {
					continue
				}
				v.words.Add(word)
			}
		}
	}
	v.version = uuid.New()
	return v
}

// ID returns the index of word, or UnknownID when the word is not known.
func (v *Vocabulary) ID(word string) int {
	if id, ok := v.words.Index(word); ok {
		return id
	}
	return UnknownID
}

// Lookup reports the index of word and whether it is a real vocabulary entry.
func (v *Vocabulary) Lookup(word string) (int, bool) {
	return v.words.Index(word)
}

// Word returns the word stored at id.
func (v *Vocabulary) Word(id int) (string, bool) {
	if id == UnknownID {
		return UnknownToken, true
	}
	return v.words.Item(id)
}

// Size returns the number of entries including the unknown token.
func (v *Vocabulary) Size() int {
	return v.words.Len() + 1
}

// Words returns the inverse mapping: Words()[id] is the word with that id.
func (v *Vocabulary) Words() []string {
	return append([]string{UnknownToken}, v.words.Items()...)
}

// Version identifies the build that produced this vocabulary.
func (v *Vocabulary) Version() uuid.UUID {
	return v.version
}

// Built reports whether the vocabulary was built from data.
func (v *Vocabulary) Built() bool {
	return v.version != uuid.Nil && v.words.Len() > 0
}

// MarshalBinary serializes the vocabulary with gob.
func (v *Vocabulary) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v.version); err != nil {
		return nil, err
	}
	if err := enc.Encode(v.words.Items()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a vocabulary written by MarshalBinary.
func (v *Vocabulary) UnmarshalBinary(data []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var version uuid.UUID
	if err := dec.Decode(&version); err != nil {
		return err
	}
	var words []string
	if err := dec.Decode(&words); err != nil {
		return err
	}
	v.version = version
	v.words = indexer.Build(UnknownID+1, words...)
	if v.words.Len() != len(words) {
		return fmt.Errorf("vocabulary contains %d duplicate words", len(words)-v.words.Len())
	}
	return nil
}

// Save writes the vocabulary to filePath.
func (v *Vocabulary) Save(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(v); err != nil {
		return fmt.Errorf("failed to encode vocabulary to %s: %w", filePath, err)
	}
	return nil
}

// LoadVocabulary reads a vocabulary written by Save.
func LoadVocabulary(filePath string) (*Vocabulary, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	v := NewVocabulary()
	if err := gob.NewDecoder(file).Decode(v); err != nil {
		return nil, fmt.Errorf("failed to decode vocabulary from %s: %w", filePath, err)
	}
	return v, nil
}
