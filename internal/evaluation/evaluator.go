// Package evaluation scores related-passage retrieval against a labelled
// dataset of expected neighbours.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/query"
	"github.com/scripture-rag/backend/internal/verse"
	"github.com/scripture-rag/backend/pkg/logger"
)

const (
	ClassIrrelevant    = "irrelevant"
	ClassModerate      = "moderate"
	ClassFullyRelevant = "fully_relevant"
)

type Finder interface {
	FindRelated(ctx context.Context, verseID string, maxResults int) ([]query.Result, error)
}

type Evaluator struct {
	finder Finder
	k      int
}

type EvaluationDataset struct {
	Items []DatasetItem `json:"items"`
}

type DatasetItem struct {
	Verse    string   `json:"verse"`
	Expected []string `json:"expected"`
	Category string   `json:"category,omitempty"`
}

type ItemResult struct {
	Verse          string   `json:"verse"`
	Retrieved      []string `json:"retrieved"`
	Hits           int      `json:"hits"`
	Precision      float64  `json:"precision"`
	Recall         float64  `json:"recall"`
	ReciprocalRank float64  `json:"reciprocal_rank"`
	Classification string   `json:"classification"`
}

type EvaluationReport struct {
	K                       int          `json:"k"`
	TotalQueries            int          `json:"total_queries"`
	Failed                  int          `json:"failed"`
	IrrelevantCount         int          `json:"irrelevant_count"`
	ModerateCount           int          `json:"moderate_count"`
	FullyRelevantCount      int          `json:"fully_relevant_count"`
	AvgPrecision            float64      `json:"avg_precision"`
	AvgRecall               float64      `json:"avg_recall"`
	MeanReciprocalRank      float64      `json:"mean_reciprocal_rank"`
	IrrelevantPercentage    float64      `json:"irrelevant_percentage"`
	ModeratePercentage      float64      `json:"moderate_percentage"`
	FullyRelevantPercentage float64      `json:"fully_relevant_percentage"`
	Items                   []ItemResult `json:"items"`
}

func NewEvaluator(finder Finder, k int) *Evaluator {
	if k <= 0 {
		k = query.DefaultMaxResults
	}
	return &Evaluator{finder: finder, k: k}
}

func (e *Evaluator) EvaluateItem(ctx context.Context, item DatasetItem) (*ItemResult, error) {
	results, err := e.finder.FindRelated(ctx, item.Verse, e.k)
	if err != nil {
		return nil, fmt.Errorf("failed to find related passages for %s: %w", item.Verse, err)
	}

	expected := make(map[string]struct{}, len(item.Expected))
	for _, id := range item.Expected {
		expected[id] = struct{}{}
	}

	res := &ItemResult{Verse: item.Verse, Retrieved: make([]string, 0, len(results))}
	for i, r := range results {
		res.Retrieved = append(res.Retrieved, r.Verse)
		if _, ok := expected[r.Verse]; !ok {
			continue
		}
		res.Hits++
		if res.ReciprocalRank == 0 {
			res.ReciprocalRank = 1 / float64(i+1)
		}
	}

	if len(results) > 0 {
		res.Precision = float64(res.Hits) / float64(len(results))
	}
	if len(expected) > 0 {
		res.Recall = float64(res.Hits) / float64(len(expected))
	}
	res.Classification = classify(res.Hits, len(expected), e.k)
	return res, nil
}

// classify is fully relevant when every expected verse that fits in k was
// retrieved, irrelevant when none was.
func classify(hits, expected, k int) string {
	want := expected
	if want > k {
		want = k
	}
	switch {
	case hits == 0:
		return ClassIrrelevant
	case hits >= want:
		return ClassFullyRelevant
	default:
		return ClassModerate
	}
}

func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *EvaluationDataset) (*EvaluationReport, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)), zap.Int("k", e.k))

	report := &EvaluationReport{K: e.k}
	var totalPrecision, totalRecall, totalRR float64

	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := e.EvaluateItem(ctx, item)
		if err != nil {
			logger.Error("Failed to evaluate item", zap.Int("index", i), zap.Error(err))
			report.Failed++
			continue
		}
		report.TotalQueries++
		report.Items = append(report.Items, *result)

		switch result.Classification {
		case ClassIrrelevant:
			report.IrrelevantCount++
		case ClassModerate:
			report.ModerateCount++
		case ClassFullyRelevant:
			report.FullyRelevantCount++
		}

		totalPrecision += result.Precision
		totalRecall += result.Recall
		totalRR += result.ReciprocalRank
	}

	if n := float64(report.TotalQueries); n > 0 {
		report.AvgPrecision = totalPrecision / n
		report.AvgRecall = totalRecall / n
		report.MeanReciprocalRank = totalRR / n

		report.IrrelevantPercentage = float64(report.IrrelevantCount) / n * 100
		report.ModeratePercentage = float64(report.ModerateCount) / n * 100
		report.FullyRelevantPercentage = float64(report.FullyRelevantCount) / n * 100
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("failed", report.Failed),
		zap.Int("irrelevant", report.IrrelevantCount),
		zap.Int("moderate", report.ModerateCount),
		zap.Int("fully_relevant", report.FullyRelevantCount),
	)

	return report, nil
}

func ParseDataset(data []byte) (*EvaluationDataset, error) {
	var dataset EvaluationDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	for i, item := range dataset.Items {
		if !verse.Valid(item.Verse) {
			return nil, fmt.Errorf("item %d: %w: %q", i, verse.ErrInvalidVerseID, item.Verse)
		}
	}
	return &dataset, nil
}

func LoadDataset(path string) (*EvaluationDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return ParseDataset(data)
}

func GenerateReport(report *EvaluationReport) string {
	return fmt.Sprintf(`
Evaluation Report
=================

Total Queries: %d (failed: %d)
Results per query: %d

Classifications:
- Irrelevant: %d (%.1f%%)
- Moderately Relevant: %d (%.1f%%)
- Fully Relevant: %d (%.1f%%)

Average Scores:
- Precision@%d: %.3f
- Recall@%d: %.3f
- MRR: %.3f
`,
		report.TotalQueries, report.Failed,
		report.K,
		report.IrrelevantCount, report.IrrelevantPercentage,
		report.ModerateCount, report.ModeratePercentage,
		report.FullyRelevantCount, report.FullyRelevantPercentage,
		report.K, report.AvgPrecision,
		report.K, report.AvgRecall,
		report.MeanReciprocalRank,
	)
}
