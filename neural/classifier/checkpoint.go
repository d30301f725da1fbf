package classifier

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/golangast/emotagger/neural/tensor"
)

// FormatVersion is the checkpoint layout written by Save. Load accepts any
// checkpoint with the same major version.
const FormatVersion = "v1.0.0"

// ErrIncompatibleCheckpoint is returned when a checkpoint was written with a
// different major format version.
var ErrIncompatibleCheckpoint = errors.New("incompatible checkpoint format")

// Meta describes the training state a checkpoint was taken at.
type Meta struct {
	RunID     uuid.UUID
	Epoch     int
	ValidLoss float64
}

type header struct {
	FormatVersion string
	Meta          Meta
	Config        Config
}

// Save writes the configuration, the embedding table and every parameter
// to filePath as a gob stream.
func (m *Classifier) Save(filePath string, meta Meta) error {
	file, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := gob.NewEncoder(file)
	if err := enc.Encode(header{FormatVersion: FormatVersion, Meta: meta, Config: m.Config}); err != nil {
		return fmt.Errorf("failed to encode checkpoint header: %w", err)
	}
	if err := enc.Encode(m.Embedding.Weight); err != nil {
		return fmt.Errorf("failed to encode embedding table: %w", err)
	}
	if err := enc.Encode(m.Parameters()); err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	return file.Close()
}

// Load reads a classifier written by Save.
func Load(filePath string) (*Classifier, Meta, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, Meta{}, err
	}
	defer file.Close()

	dec := gob.NewDecoder(file)
	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, Meta{}, fmt.Errorf("failed to decode checkpoint header from %s: %w", filePath, err)
	}
	if !semver.IsValid(h.FormatVersion) || semver.Major(h.FormatVersion) != semver.Major(FormatVersion) {
		return nil, Meta{}, fmt.Errorf("%s has format %q, want %s: %w", filePath, h.FormatVersion, semver.Major(FormatVersion), ErrIncompatibleCheckpoint)
	}

	var table tensor.Tensor
	if err := dec.Decode(&table); err != nil {
		return nil, Meta{}, fmt.Errorf("failed to decode embedding table from %s: %w", filePath, err)
	}
	m, err := New(h.Config, &table, nil)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("checkpoint %s: %w", filePath, err)
	}

	var saved []*tensor.Tensor
	if err := dec.Decode(&saved); err != nil {
		return nil, Meta{}, fmt.Errorf("failed to decode parameters from %s: %w", filePath, err)
	}
	params := m.Parameters()
	if len(saved) != len(params) {
		return nil, Meta{}, fmt.Errorf("checkpoint %s has %d parameters, model has %d", filePath, len(saved), len(params))
	}
	for i, p := range params {
		if len(saved[i].Data) != len(p.Data) {
			return nil, Meta{}, fmt.Errorf("checkpoint %s: parameter %d has %d values, model expects %d", filePath, i, len(saved[i].Data), len(p.Data))
		}
		copy(p.Data, saved[i].Data)
	}
	return m, h.Meta, nil
}
