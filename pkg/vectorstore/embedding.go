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

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// =============================================================================
// Embedder Interface
// =============================================================================

// Embedder converts text into dense vectors for similarity search.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// =============================================================================
// OpenAI-Compatible Embedder
// =============================================================================

// EmbedderConfig configures OpenAIEmbedder.
type EmbedderConfig struct {
	// BaseURL is the OpenAI-compatible endpoint.
	// Default: http://localhost:11434/v1 (local Ollama).
	BaseURL string

	// APIKey authenticates against the endpoint. Local endpoints
	// typically ignore it; a placeholder is used when empty.
	APIKey string

	// Model is the embedding model name.
	// Default: nomic-embed-text
	Model string
}

// DefaultEmbedderConfig returns defaults targeting a local endpoint.
func DefaultEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{
		BaseURL: "http://localhost:11434/v1",
		APIKey:  "not-needed",
		Model:   "nomic-embed-text",
	}
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
//
// # Description
//
// Works against any server speaking the OpenAI embeddings API: the
// hosted service, Ollama, vLLM, or llama.cpp. The endpoint and model
// come from EmbedderConfig.
//
// # Limitations
//
//   - No client-side batching: all texts go in one request. Callers
//     with very large batches should chunk before calling.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder. Zero-value config fields are
// replaced with defaults.
func NewOpenAIEmbedder(config EmbedderConfig) *OpenAIEmbedder {
	defaults := DefaultEmbedderConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.APIKey == "" {
		config.APIKey = defaults.APIKey
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
	}
}

// Embed requests embeddings for the given texts.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors",
			len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		if len(data.Embedding) == 0 {
			return nil, errors.New("endpoint returned an empty embedding")
		}
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

// =============================================================================
// Mock Embedder
// =============================================================================

// MockEmbedder is a test double for Embedder.
//
// Without an EmbedFunc it produces deterministic vectors derived from
// the text content, so identical texts embed identically and distinct
// texts almost never collide.
type MockEmbedder struct {
	// EmbedFunc overrides Embed when set.
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions controls the width of generated vectors. Default: 8.
	Dimensions int

	mu sync.Mutex

	// Calls records the texts of every Embed invocation.
	Calls [][]string
}

// Embed records the call and delegates to EmbedFunc or the generator.
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, texts)
	m.mu.Unlock()

	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}

	dims := m.Dimensions
	if dims <= 0 {
		dims = 8
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = deterministicVector(text, dims)
	}
	return vectors, nil
}

// CallCount returns how many times Embed was invoked.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// deterministicVector derives a unit vector from a text's hash.
func deterministicVector(text string, dims int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vector := make([]float32, dims)
	var norm float64
	for i := 0; i < dims; i++ {
		// Re-hash when the digest runs out of distinct words.
		offset := (i * 4) % (len(sum) - 4)
		bits := binary.BigEndian.Uint32(sum[offset : offset+4])
		v := float64(int32(bits^uint32(i*2654435761))) / float64(math.MaxInt32)
		vector[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector
}

// Compile-time interface checks
var (
	_ Embedder = (*OpenAIEmbedder)(nil)
	_ Embedder = (*MockEmbedder)(nil)
)
