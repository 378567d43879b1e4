package store

import (
	"time"

	"github.com/google/uuid"
)

// DefaultReliability is the trust assumed for evidence whose metadata carries none.
const DefaultReliability float32 = 0.70

// UnknownSourceType labels evidence without provenance.
const UnknownSourceType = "unknown"

// Metadata is stored alongside every entity as a JSON blob.
type Metadata struct {
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is reserved. Entities are immutable and nothing writes it.
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	Source      string     `json:"source,omitempty"`
	SourceType  string     `json:"source_type,omitempty"` // session, commit, comment, ...
	Reliability *float32   `json:"reliability,omitempty"` // [0,1]
	// Confidence is the engine confidence recorded when a belief was asserted.
	Confidence *float32 `json:"confidence,omitempty"`
}

// EffectiveReliability returns Reliability or DefaultReliability when unset.
func (m Metadata) EffectiveReliability() float32 {
	if m.Reliability == nil {
		return DefaultReliability
	}
	return *m.Reliability
}

// EffectiveSourceType returns SourceType or UnknownSourceType when unset.
func (m Metadata) EffectiveSourceType() string {
	if m.SourceType == "" {
		return UnknownSourceType
	}
	return m.SourceType
}

// Reliability returns a pointer suitable for Metadata.Reliability.
func Reliability(v float32) *float32 {
	return &v
}

// Observation is a fact distilled from a session, commit or code.
type Observation struct {
	ID        string
	Kind      string // pattern, decision, challenge, ...
	Content   string
	Embedding []float32 // empty on search results
	Metadata  Metadata
}

// Belief is a higher-level claim validated against observations.
type Belief struct {
	ID        string
	Content   string
	Embedding []float32 // empty on search results
	Metadata  Metadata
}

// NewObservation builds an observation with a fresh random ID.
func NewObservation(kind, content string, embedding []float32, meta Metadata) Observation {
	return Observation{
		ID:        uuid.New().String(),
		Kind:      kind,
		Content:   content,
		Embedding: embedding,
		Metadata:  meta,
	}
}

// NewBelief builds a belief with a fresh random ID.
func NewBelief(content string, embedding []float32, meta Metadata) Belief {
	return Belief{
		ID:        uuid.New().String(),
		Content:   content,
		Embedding: embedding,
		Metadata:  meta,
	}
}

// Scored pairs a hydrated entity with its cosine similarity to the query.
type Scored[T any] struct {
	Entity T
	Score  float32
}

// record is the kind-agnostic row shape shared by both stores.
type record struct {
	key       int64
	id        string
	kind      string
	content   string
	metadata  Metadata
	embedding []float32
}

// codec converts between an entity and its row.
type codec[T any] interface {
	encode(T) record
	decode(record) T
}

type observationCodec struct{}

func (observationCodec) encode(o Observation) record {
	return record{id: o.ID, kind: o.Kind, content: o.Content, metadata: o.Metadata, embedding: o.Embedding}
}

func (observationCodec) decode(r record) Observation {
	return Observation{ID: r.id, Kind: r.kind, Content: r.content, Metadata: r.metadata}
}

type beliefCodec struct{}

func (beliefCodec) encode(b Belief) record {
	return record{id: b.ID, content: b.Content, metadata: b.Metadata, embedding: b.Embedding}
}

func (beliefCodec) decode(r record) Belief {
	return Belief{ID: r.id, Content: r.content, Metadata: r.metadata}
}
