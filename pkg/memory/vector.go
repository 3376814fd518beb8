// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VectorStore is a similarity index over embedded points.
type VectorStore interface {
	// CreateCollection creates a collection if it does not exist.
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error)
	// DeleteBefore removes points whose "timestamp" payload (unix seconds)
	// is older than cutoff.
	DeleteBefore(ctx context.Context, collection string, cutoff time.Time) error
}

// Point is one embedded item.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type SearchResult struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Point Point   `json:"point"`
}

// Embedder converts text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorMemory stores and recalls texts by similarity.
type VectorMemory struct {
	store      VectorStore
	embedder   Embedder
	collection string
}

func NewVectorMemory(store VectorStore, embedder Embedder, collection string) *VectorMemory {
	return &VectorMemory{store: store, embedder: embedder, collection: collection}
}

// Initialize creates the collection sized to the embedder's output.
func (vm *VectorMemory) Initialize(ctx context.Context) error {
	vec, err := vm.embedder.Embed(ctx, "dimension check")
	if err != nil {
		return fmt.Errorf("detect embedding dimension: %w", err)
	}
	return vm.store.CreateCollection(ctx, vm.collection, uint64(len(vec)))
}

// Store embeds text and saves it with payload. The payload gains "text" and
// "timestamp" keys. An empty id gets a fresh uuid.
func (vm *VectorMemory) Store(ctx context.Context, id, text string, payload map[string]any) (string, error) {
	vec, err := vm.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embed text: %w", err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	p := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		p[k] = v
	}
	p["text"] = text
	if _, ok := p["timestamp"]; !ok {
		p["timestamp"] = time.Now().Unix()
	}
	if err := vm.store.Upsert(ctx, vm.collection, []Point{{ID: id, Vector: vec, Payload: p}}); err != nil {
		return "", fmt.Errorf("store point: %w", err)
	}
	return id, nil
}

// Search returns the points closest to query scoring at least threshold.
func (vm *VectorMemory) Search(ctx context.Context, query string, limit int, threshold float32) ([]SearchResult, error) {
	vec, err := vm.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	res, err := vm.store.Search(ctx, vm.collection, vec, limit, threshold)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return res, nil
}

// Prune removes points stored before cutoff.
func (vm *VectorMemory) Prune(ctx context.Context, cutoff time.Time) error {
	return vm.store.DeleteBefore(ctx, vm.collection, cutoff)
}
