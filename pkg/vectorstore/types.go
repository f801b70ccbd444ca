// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorstore

import "time"

// Document is one stored record: text content plus its embedding and
// optional metadata.
type Document struct {
	// ID uniquely identifies the document within its collection.
	ID string `json:"id"`

	// Content is the original text.
	Content string `json:"content"`

	// Embedding is the dense vector for similarity search.
	Embedding []float32 `json:"embedding"`

	// Metadata holds caller-defined key/value pairs used for filtering.
	Metadata map[string]string `json:"metadata,omitempty"`

	// AddedAt is when the document was written.
	AddedAt time.Time `json:"added_at"`
}

// Include selects which fields Query copies into its results.
// Distances and IDs are always included.
const (
	IncludeDocuments  = "documents"
	IncludeMetadatas  = "metadatas"
	IncludeEmbeddings = "embeddings"
)

// QueryResult is one ranked hit from a similarity query.
type QueryResult struct {
	// ID of the matching document.
	ID string `json:"id"`

	// Distance is the cosine distance to the query vector
	// (0 = identical, 2 = opposite).
	Distance float32 `json:"distance"`

	// Content is set when IncludeDocuments was requested.
	Content string `json:"content,omitempty"`

	// Metadata is set when IncludeMetadatas was requested.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Embedding is set when IncludeEmbeddings was requested.
	Embedding []float32 `json:"embedding,omitempty"`
}

// Where is an equality filter over document metadata. A document
// matches when every key/value pair is present in its metadata.
type Where map[string]string

// Matches reports whether the given metadata satisfies the filter.
// A nil or empty filter matches everything.
func (w Where) Matches(metadata map[string]string) bool {
	for key, want := range w {
		if metadata[key] != want {
			return false
		}
	}
	return true
}
