// Package persist moves the in-memory aggregate (identities, pending links, cones)
// to and from a document store. Gateways load and save the whole aggregate as one
// snapshot; a single Writer goroutine owns every save so snapshots never race.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Document is plain structured data: strings, numbers, bools, nested maps and slices.
type Document map[string]any

// Aggregate is the whole persisted state keyed by top-level entry name.
type Aggregate map[string]Document

// Gateway is a snapshot store for the aggregate.
type Gateway interface {
	LoadAll(ctx context.Context) (Aggregate, error)
	SaveAll(ctx context.Context, agg Aggregate) error
}

// Source contributes entries to a snapshot and restores them on load.
type Source interface {
	Snapshot(ctx context.Context) (Aggregate, error)
	Restore(agg Aggregate) error
}

// TimeLayout is the timestamp encoding used inside documents (ISO-8601).
const TimeLayout = time.RFC3339Nano

// FormatTime encodes t for a document; the zero time encodes as "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// ParseTime decodes a document timestamp. Naive timestamps without a zone
// (written by older snapshots) are read as UTC.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05.999999"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ToDocument converts a json-tagged struct into a Document.
func ToDocument(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// FromDocument decodes a Document into a json-tagged struct.
func FromDocument(doc Document, v any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Combine merges several sources into one. Later sources win on key collisions,
// so entry names should be disjoint.
func Combine(sources ...Source) Source { return combined(sources) }

type combined []Source

func (c combined) Snapshot(ctx context.Context) (Aggregate, error) {
	out := Aggregate{}
	for _, s := range c {
		part, err := s.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		for k, v := range part {
			out[k] = v
		}
	}
	return out, nil
}

func (c combined) Restore(agg Aggregate) error {
	for _, s := range c {
		if err := s.Restore(agg); err != nil {
			return err
		}
	}
	return nil
}

// Encode serializes an aggregate as indented JSON.
func Encode(agg Aggregate) ([]byte, error) {
	if agg == nil {
		agg = Aggregate{}
	}
	return json.MarshalIndent(agg, "", "  ")
}

// Decode parses JSON written by Encode (or by older snapshot files).
func Decode(b []byte) (Aggregate, error) {
	agg := Aggregate{}
	if len(b) == 0 {
		return agg, nil
	}
	if err := json.Unmarshal(b, &agg); err != nil {
		return nil, fmt.Errorf("decode aggregate: %w", err)
	}
	return agg, nil
}
