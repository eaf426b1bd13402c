package models

import (
	"encoding/json"
	"fmt"
)

// CurrentFormatVersion is written into every serialized document.
// Documents without the field are treated as version 0.
const CurrentFormatVersion = 1

// ModelDocument is the serialized diagram stored inside Model.Value.
type ModelDocument struct {
	FormatVersion    int                `json:"formatVersion" msgpack:"formatVersion"`
	Nodes            []NodeRecord       `json:"nodes" msgpack:"nodes"`
	Connections      []ConnectionRecord `json:"connections" msgpack:"connections"`
	NumberOfElements int                `json:"numberOfElements" msgpack:"numberOfElements"`
	ElementIDCount   int                `json:"elementIdCount" msgpack:"elementIdCount"`
}

// NewModelDocument returns an empty document at the current format version.
func NewModelDocument() *ModelDocument {
	return &ModelDocument{
		FormatVersion: CurrentFormatVersion,
		Nodes:         make([]NodeRecord, 0),
		Connections:   make([]ConnectionRecord, 0),
	}
}

// Model is the named, persisted diagram.
type Model struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Value       string `json:"value"`
}

// Document decodes the serialized document held in Value.
// An empty Value yields an empty document.
func (m *Model) Document() (*ModelDocument, error) {
	if m.Value == "" {
		return NewModelDocument(), nil
	}
	return DecodeDocument([]byte(m.Value))
}

// SetDocument encodes doc into Value.
func (m *Model) SetDocument(doc *ModelDocument) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode model document: %w", err)
	}
	m.Value = string(b)
	return nil
}

// DecodeDocument parses a serialized document and checks its format version.
func DecodeDocument(data []byte) (*ModelDocument, error) {
	doc := NewModelDocument()
	doc.FormatVersion = 0
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode model document: %w", err)
	}
	if doc.FormatVersion > CurrentFormatVersion {
		return nil, fmt.Errorf("unsupported model format version %d", doc.FormatVersion)
	}
	if doc.Nodes == nil {
		doc.Nodes = make([]NodeRecord, 0)
	}
	if doc.Connections == nil {
		doc.Connections = make([]ConnectionRecord, 0)
	}
	return doc, nil
}
