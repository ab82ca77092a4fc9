package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/scripture-rag/backend/internal/verse"
)

// DecodeOrderedObject walks the members of a JSON object in document order.
func DecodeOrderedObject(data []byte, fn func(key string, value json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func (s *EmbeddingStore) UnmarshalJSON(data []byte) error {
	var raw struct {
		Metadata        EmbeddingMetadata `json:"metadata"`
		VerseEmbeddings json.RawMessage   `json:"verse_embeddings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	store := NewEmbeddingStore(raw.Metadata)
	if len(raw.VerseEmbeddings) == 0 || string(raw.VerseEmbeddings) == "null" {
		return fmt.Errorf("verse_embeddings is missing")
	}

	err := DecodeOrderedObject(raw.VerseEmbeddings, func(key string, value json.RawMessage) error {
		var vec []float64
		if err := json.Unmarshal(value, &vec); err != nil {
			return fmt.Errorf("embedding %q: %w", key, err)
		}
		store.Add(key, vec)
		return nil
	})
	if err != nil {
		return err
	}

	*s = *store
	return nil
}

func (s EmbeddingStore) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`{"metadata":`)
	buf.Write(meta)
	buf.WriteString(`,"verse_embeddings":{`)
	for i, id := range s.IDs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(id)
		vec, err := json.Marshal(s.Vectors[id])
		if err != nil {
			return nil, fmt.Errorf("embedding %q: %w", id, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(vec)
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

func DecodeCrossReferences(data []byte) (*CrossReferenceDocument, error) {
	var doc CrossReferenceDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: cross references: %v", ErrMalformed, err)
	}
	if err := ValidateCrossReferences(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func DecodeSimilarities(data []byte) (*SimilarityDocument, error) {
	var doc SimilarityDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: similarities: %v", ErrMalformed, err)
	}
	if doc.Similarities == nil {
		return nil, fmt.Errorf("%w: similarities: missing similarities table", ErrMalformed)
	}
	if err := ValidateSimilarities(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func DecodeEmbeddings(data []byte) (*EmbeddingStore, error) {
	var store EmbeddingStore
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("%w: embeddings: %v", ErrMalformed, err)
	}
	if err := ValidateEmbeddings(&store); err != nil {
		return nil, err
	}
	return &store, nil
}

func ValidateCrossReferences(doc *CrossReferenceDocument) error {
	for source, edges := range doc.DirectReferences {
		if !verse.Valid(source) {
			return fmt.Errorf("%w: direct_references: bad verse id %q", ErrMalformed, source)
		}
		for _, e := range edges {
			if !verse.Valid(e.Verse) {
				return fmt.Errorf("%w: direct_references[%s]: bad target %q", ErrMalformed, source, e.Verse)
			}
			if !(e.Weight > 0 && e.Weight <= 1) {
				return fmt.Errorf("%w: direct_references[%s]: weight %v out of (0,1]", ErrMalformed, source, e.Weight)
			}
		}
	}
	for source, themes := range doc.ThematicConnections {
		if !verse.Valid(source) {
			return fmt.Errorf("%w: thematic_connections: bad verse id %q", ErrMalformed, source)
		}
		for theme, verses := range themes {
			for _, v := range verses {
				if !verse.Valid(v) {
					return fmt.Errorf("%w: thematic_connections[%s][%s]: bad verse id %q", ErrMalformed, source, theme, v)
				}
			}
		}
	}
	return nil
}

func ValidateSimilarities(doc *SimilarityDocument) error {
	for source, edges := range doc.Similarities {
		if !verse.Valid(source) {
			return fmt.Errorf("%w: similarities: bad verse id %q", ErrMalformed, source)
		}
		for _, e := range edges {
			if !verse.Valid(e.Verse) {
				return fmt.Errorf("%w: similarities[%s]: bad target %q", ErrMalformed, source, e.Verse)
			}
			if math.IsNaN(e.Score) || e.Score < -1 || e.Score > 1+1e-9 {
				return fmt.Errorf("%w: similarities[%s]: score %v out of range", ErrMalformed, source, e.Score)
			}
		}
	}
	return nil
}

// ValidateEmbeddings enforces a single dimension across the whole store.
func ValidateEmbeddings(store *EmbeddingStore) error {
	dim := store.Metadata.Dimension
	for _, id := range store.IDs {
		if !verse.Valid(id) {
			return fmt.Errorf("%w: embeddings: bad verse id %q", ErrMalformed, id)
		}
		vec := store.Vectors[id]
		if len(vec) == 0 {
			return fmt.Errorf("%w: embeddings: empty vector for %q", ErrMalformed, id)
		}
		if len(vec) != dim {
			return fmt.Errorf("%w: embeddings: %q has dimension %d, store dimension is %d", ErrMalformed, id, len(vec), dim)
		}
		for _, x := range vec {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("%w: embeddings: non-finite value in %q", ErrMalformed, id)
			}
		}
	}
	return nil
}

// WriteJSON writes v indented to path through a temp file and rename.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}
