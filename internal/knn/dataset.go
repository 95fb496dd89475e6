package knn

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// DatasetVersion is the schema version written by this package.
const DatasetVersion = 1

// Format selects the encoding of a serialized dataset.
type Format string

const (
	// FormatJSON encodes datasets as JSON.
	FormatJSON Format = "json"
	// FormatMsgpack encodes datasets as MessagePack.
	FormatMsgpack Format = "msgpack"
)

// Dataset is the persisted form of a Store: every label with its vectors.
type Dataset struct {
	Version        int                    `json:"version" msgpack:"version"`
	Dimensionality int                    `json:"dimensionality" msgpack:"dimensionality"`
	Labels         map[string][][]float32 `json:"labels" msgpack:"labels"`
}

// Validate checks the dataset for internal consistency.
func (d *Dataset) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil dataset", ErrCorruptDataset)
	}
	if d.Version != DatasetVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptDataset, d.Version)
	}
	if d.Dimensionality < 0 {
		return fmt.Errorf("%w: negative dimensionality", ErrCorruptDataset)
	}

	for label, vectors := range d.Labels {
		if label == "" {
			return fmt.Errorf("%w: empty label", ErrCorruptDataset)
		}
		for i, v := range vectors {
			if len(v) == 0 || len(v) != d.Dimensionality {
				return fmt.Errorf("%w: label %q vector %d has %d values, expected %d",
					ErrCorruptDataset, label, i, len(v), d.Dimensionality)
			}
		}
	}

	return nil
}

// ParseFormat converts a format name into a Format. An empty name selects JSON.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatMsgpack:
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("unknown dataset format %q", name)
	}
}

// Encode serializes the dataset in the given format.
func (d *Dataset) Encode(format Format) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	switch format {
	case "", FormatJSON:
		return json.Marshal(d)
	case FormatMsgpack:
		return msgpack.Marshal(d)
	default:
		return nil, fmt.Errorf("unknown dataset format %q", format)
	}
}

// DecodeDataset parses a serialized dataset. The encoding is detected from the
// content: JSON documents start with '{', anything else is read as MessagePack.
func DecodeDataset(blob []byte) (*Dataset, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrCorruptDataset)
	}

	var ds Dataset
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &ds); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptDataset, err)
		}
	} else {
		if err := msgpack.Unmarshal(blob, &ds); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptDataset, err)
		}
	}

	if ds.Labels == nil {
		ds.Labels = make(map[string][][]float32)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}
