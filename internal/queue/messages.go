package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

// Source locations understood by IngestMessage.
const (
	LocationS3   = "s3"
	LocationWeb  = "web"
	LocationFile = "file"
)

// IngestMessage asks the worker to ingest one document.
type IngestMessage struct {
	SourceID string        `json:"source_id"`
	Location string        `json:"location"`
	Path     string        `json:"path"`
	Format   loader.Format `json:"format,omitempty"`
}

// InferMessage asks the worker to run an inference pass.
type InferMessage struct {
	Scope string `json:"scope,omitempty"`
}

// ErrMalformed marks messages that can never be processed.
var ErrMalformed = errors.New("malformed message")

func DecodeIngest(body []byte) (*IngestMessage, error) {
	var msg IngestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate normalizes the message in place and rejects it when the worker
// could never load it. An empty location means S3 and an empty source id
// defaults to the path.
func (m *IngestMessage) Validate() error {
	m.Path = strings.TrimSpace(m.Path)
	if m.Path == "" {
		return fmt.Errorf("%w: ingest message without path", ErrMalformed)
	}
	switch m.Location {
	case "":
		m.Location = LocationS3
	case LocationS3, LocationWeb, LocationFile:
	default:
		return fmt.Errorf("%w: unknown location %q", ErrMalformed, m.Location)
	}
	if m.SourceID == "" {
		m.SourceID = m.Path
	}
	return nil
}

func DecodeInfer(body []byte) (*InferMessage, error) {
	var msg InferMessage
	if len(strings.TrimSpace(string(body))) == 0 {
		return &msg, nil
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &msg, nil
}
