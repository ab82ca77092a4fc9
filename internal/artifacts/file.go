package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/scripture-rag/backend/pkg/logger"
)

// FileLoader reads the tables from a local directory.
type FileLoader struct {
	Dir string
}

func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{Dir: dir}
}

func (l *FileLoader) read(name string) ([]byte, error) {
	path := filepath.Join(l.Dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	logger.Debug("Artifact read", zap.String("path", path), zap.Int("bytes", len(data)))
	return data, nil
}

func (l *FileLoader) LoadCrossReferences(ctx context.Context) (*CrossReferenceDocument, error) {
	data, err := l.read(CrossReferencesFile)
	if err != nil {
		return nil, err
	}
	return DecodeCrossReferences(data)
}

func (l *FileLoader) LoadSimilarities(ctx context.Context) (*SimilarityDocument, error) {
	data, err := l.read(SimilarityFile)
	if err != nil {
		return nil, err
	}
	return DecodeSimilarities(data)
}

func (l *FileLoader) LoadEmbeddings(ctx context.Context) (*EmbeddingStore, error) {
	data, err := l.read(EmbeddingsFile)
	if err != nil {
		return nil, err
	}
	return DecodeEmbeddings(data)
}
