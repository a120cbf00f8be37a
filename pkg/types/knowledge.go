// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// MonographPassage is one passage of a drug monograph, tagged with the
// section it belongs to.
type MonographPassage struct {
	// ID is a stable identifier for this passage, unique within the knowledge base.
	ID string `json:"id" yaml:"id"`

	// Section is the monograph section the passage was filed under.
	Section Section `json:"section" yaml:"section"`

	// Content is the passage text.
	Content string `json:"content" yaml:"content"`
}

// DrugMonograph is the on-disk ingest unit of the knowledge base: one YAML
// file per drug under knowledge/drugs/.
type DrugMonograph struct {
	// Drug is the drug name as referenced by patient medication lists.
	Drug string `json:"drug" yaml:"drug"`

	// Source names where the monograph text came from (e.g. "drugbank-5.1").
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	Passages []MonographPassage `json:"passages" yaml:"passages"`
}

// RetrievalRequest is the scoping handed to a retrieval backend for one
// medication: which sections to search and how to weight relevance.
type RetrievalRequest struct {
	Medication MedicationRef `json:"medication"`
	Sections   SectionSet    `json:"sections"`

	// SimilarityWeight multiplies relevance scores before ranking.
	SimilarityWeight float64 `json:"similarity_weight"`

	// ContextTerms are extra query terms, typically the patient's conditions.
	ContextTerms []string `json:"context_terms,omitempty"`

	// PerSection caps the passages returned per section. Zero uses the backend default.
	PerSection int `json:"per_section,omitempty"`
}

// ScoredPassage is a retrieved passage with its unweighted and weighted relevance.
type ScoredPassage struct {
	MonographPassage
	Drug      string  `json:"drug" yaml:"drug"`
	BaseScore float64 `json:"base_score" yaml:"base_score"`
	Score     float64 `json:"score" yaml:"score"`
}

// RetrievalResult holds the passages retrieved for one medication. Error is
// set when the backend call failed or timed out; the scoping that produced
// the request stays valid and can be reused on retry.
type RetrievalResult struct {
	Medication MedicationRef   `json:"medication" yaml:"medication"`
	Passages   []ScoredPassage `json:"passages" yaml:"passages"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
}
