// Package schema validates the on-disk JSON documents this system writes
// (RunState checkpoints, provenance sidecars) against compiled JSON
// Schemas, catching file corruption or hand-edited state before it is fed
// back into the pipeline.
//
// Grounded in the teacher's pkg/firewall/firewall.go AddResource/Compile
// usage of github.com/santhosh-tekuri/jsonschema/v5, narrowed from
// per-tool parameter schemas to two fixed document schemas.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	runStateSchemaURL     = "https://vaultmind.local/schema/run_state.schema.json"
	provenanceTagSchemaURL = "https://vaultmind.local/schema/provenance_tag.schema.json"
)

// RunStateSchema is the compiled schema for runs/<run_id>.json documents.
const RunStateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["run_id", "status", "steps"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "status": {"enum": ["in_progress", "complete", "failed"]},
    "steps": {"type": "object"}
  }
}`

// ProvenanceTagSchema is the compiled schema for a persisted provenance
// tag sidecar entry.
const ProvenanceTagSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_version", "source", "trust", "timestamp", "content_hash"],
  "properties": {
    "schema_version": {"type": "string"},
    "source": {"type": "string", "minLength": 1},
    "trust": {"enum": ["internal", "external"]},
    "origin": {"type": "string"},
    "timestamp": {"type": "string"},
    "content_hash": {"type": "string", "minLength": 64}
  }
}`

// Validator holds the compiled schemas used to validate on-disk state.
type Validator struct {
	runState      *jsonschema.Schema
	provenanceTag *jsonschema.Schema
}

// New compiles both built-in schemas.
func New() (*Validator, error) {
	runState, err := compile(runStateSchemaURL, RunStateSchema)
	if err != nil {
		return nil, fmt.Errorf("schema: compile run state schema: %w", err)
	}
	provenanceTag, err := compile(provenanceTagSchemaURL, ProvenanceTagSchema)
	if err != nil {
		return nil, fmt.Errorf("schema: compile provenance tag schema: %w", err)
	}
	return &Validator{runState: runState, provenanceTag: provenanceTag}, nil
}

func compile(url, raw string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// ValidateRunState checks raw JSON bytes against the run state schema.
func (v *Validator) ValidateRunState(raw []byte) error {
	return validate(v.runState, raw)
}

// ValidateProvenanceTag checks raw JSON bytes against the provenance tag
// schema.
func (v *Validator) ValidateProvenanceTag(raw []byte) error {
	return validate(v.provenanceTag, raw)
}

func validate(s *jsonschema.Schema, raw []byte) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("schema: invalid JSON: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("schema: validation failed: %w", err)
	}
	return nil
}
