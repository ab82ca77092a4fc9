package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/internal/verse"
)

type VerseTableMetadata struct {
	Version     string `json:"version"`
	Scope       string `json:"scope,omitempty"`
	TotalBooks  int    `json:"total_books,omitempty"`
	TotalVerses int    `json:"total_verses,omitempty"`
}

type Verse struct {
	ID   string
	Text string
}

// VerseTable is the flattened verse text input, kept in document order.
type VerseTable struct {
	Metadata VerseTableMetadata
	Verses   []Verse
	index    map[string]int
}

// ParseVerseTable reads {metadata, books:{book:{chapters:{n:{v:text}}}}}.
// Books, chapters and verses keep the order in which they appear.
func ParseVerseTable(data []byte) (*VerseTable, error) {
	var raw struct {
		Metadata VerseTableMetadata `json:"metadata"`
		Books    json.RawMessage    `json:"books"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: verse table: %v", artifacts.ErrMalformed, err)
	}
	if len(raw.Books) == 0 || string(raw.Books) == "null" {
		return nil, fmt.Errorf("%w: verse table: books is missing", artifacts.ErrMalformed)
	}

	table := &VerseTable{Metadata: raw.Metadata, index: make(map[string]int)}
	err := artifacts.DecodeOrderedObject(raw.Books, func(book string, value json.RawMessage) error {
		var b struct {
			Chapters json.RawMessage `json:"chapters"`
		}
		if err := json.Unmarshal(value, &b); err != nil {
			return fmt.Errorf("book %q: %w", book, err)
		}
		if len(b.Chapters) == 0 || string(b.Chapters) == "null" {
			return nil
		}
		return artifacts.DecodeOrderedObject(b.Chapters, func(chapter string, value json.RawMessage) error {
			c, err := strconv.Atoi(chapter)
			if err != nil {
				return fmt.Errorf("book %q: bad chapter %q", book, chapter)
			}
			return artifacts.DecodeOrderedObject(value, func(verseNum string, value json.RawMessage) error {
				v, err := strconv.Atoi(verseNum)
				if err != nil {
					return fmt.Errorf("%s %d: bad verse %q", book, c, verseNum)
				}
				var text string
				if err := json.Unmarshal(value, &text); err != nil {
					return fmt.Errorf("%s %d:%d: %w", book, c, v, err)
				}
				id := verse.Format(book, c, v)
				if !verse.Valid(id) {
					return fmt.Errorf("%w: %q", verse.ErrInvalidVerseID, id)
				}
				table.add(id, text)
				return nil
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: verse table: %v", artifacts.ErrMalformed, err)
	}
	return table, nil
}

func LoadVerseTable(path string) (*VerseTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", artifacts.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read verse table: %w", err)
	}
	return ParseVerseTable(data)
}

func (t *VerseTable) add(id, text string) {
	if i, ok := t.index[id]; ok {
		t.Verses[i].Text = text
		return
	}
	t.index[id] = len(t.Verses)
	t.Verses = append(t.Verses, Verse{ID: id, Text: text})
}

func (t *VerseTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Verses)
}

// Text returns the verse text for id.
func (t *VerseTable) Text(id string) (string, bool) {
	if t == nil {
		return "", false
	}
	i, ok := t.index[id]
	if !ok {
		return "", false
	}
	return t.Verses[i].Text, true
}
