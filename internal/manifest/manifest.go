// Package manifest decodes mod manifest documents. A manifest is a JSON
// object carried either as a bare archive entry (library mods) or as an
// embedded assembly resource (plugin mods). Decoding is tolerant of a
// UTF-8 byte-order mark and preserves unrecognized top-level keys so
// presence-only validation rules observe the same document the typed
// fields were read from.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/modvet-project/modvet/internal/version"
)

// Sentinel errors
var (
	// ErrNotJSON means the bytes could not be decoded as a JSON object.
	// Distinct from missing-field errors, which are the validator's concern.
	ErrNotJSON = errors.New("manifest is not valid JSON")
)

// Requirement is one entry of a dependsOn or conflictsWith mapping:
// an identifier and its raw, unparsed range expression. Entries keep
// the document's insertion order and are never deduplicated.
type Requirement struct {
	ID    string
	Range string
}

// Record is a decoded manifest. Created once per validation call and
// never mutated after Decode returns.
type Record struct {
	ID            string
	Name          string
	Author        string
	Description   string
	Version       version.Version
	DependsOn     []Requirement
	ConflictsWith []Requirement

	// Raw holds every top-level key of the document, recognized or not,
	// populated in the same decode pass as the typed fields.
	Raw map[string]json.RawMessage
}

// Has reports whether the document contained the given top-level key,
// regardless of its value (null included).
func (r *Record) Has(key string) bool {
	_, ok := r.Raw[key]
	return ok
}

// Decode parses manifest bytes into a Record. A leading UTF-8 BOM is
// stripped before decoding. A version field that is absent or fails
// semantic-version parsing decodes to the Zero sentinel; only malformed
// JSON fails the decode itself.
func Decode(data []byte) (*Record, error) {
	stripped, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), unicode.UTF8BOM.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}

	dec := json.NewDecoder(bytes.NewReader(stripped))
	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	// Anything after the closing brace is trailing garbage.
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after document", ErrNotJSON)
	}

	rec := &Record{Raw: raw}
	rec.ID = stringField(raw, "id")
	rec.Name = stringField(raw, "name")
	rec.Author = stringField(raw, "author")
	rec.Description = stringField(raw, "description")

	if ver, ok := raw["version"]; ok {
		var s string
		if json.Unmarshal(ver, &s) == nil {
			// Parse failure leaves the Zero sentinel in place.
			rec.Version, _ = version.Parse(s)
		}
	}

	if rec.DependsOn, err = requirementField(raw, "dependsOn"); err != nil {
		return nil, err
	}
	if rec.ConflictsWith, err = requirementField(raw, "conflictsWith"); err != nil {
		return nil, err
	}

	return rec, nil
}

// stringField reads a top-level key as a string, returning "" when the
// key is absent or holds a non-string value.
func stringField(raw map[string]json.RawMessage, key string) string {
	msg, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		return ""
	}
	return s
}

// requirementField decodes a string→string JSON object while preserving
// key order, which encoding/json map decoding would lose.
func requirementField(raw map[string]json.RawMessage, key string) ([]Requirement, error) {
	msg, ok := raw[key]
	if !ok {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(msg))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: %s must be an object", ErrNotJSON, key)
	}

	var reqs []Requirement
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
		}
		id, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: non-string key in %s", ErrNotJSON, key)
		}
		var expr string
		if err := dec.Decode(&expr); err != nil {
			return nil, fmt.Errorf("%w: %s entry %q must map to a string", ErrNotJSON, key, id)
		}
		reqs = append(reqs, Requirement{ID: id, Range: expr})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}

	return reqs, nil
}
