package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/kg/builder"
	"github.com/scripture-rag/backend/internal/metrics"
	"github.com/scripture-rag/backend/internal/middleware/validation"
	"github.com/scripture-rag/backend/internal/query"
	"github.com/scripture-rag/backend/internal/storage/models"
	"github.com/scripture-rag/backend/internal/verse"
	"github.com/scripture-rag/backend/pkg/logger"
)

type RelatedFinder interface {
	LookupRelated(ctx context.Context, verseID string, maxResults int) ([]query.Result, bool, error)
}

// QueryLog persists served lookups. Optional.
type QueryLog interface {
	InsertRelatedQuery(ctx context.Context, q *models.RelatedQuery) error
	RecentRelatedQueries(ctx context.Context, limit int) ([]models.RelatedQuery, error)
}

type RelatedPassage struct {
	query.Result
	Reference string `json:"reference"`
	TypeLabel string `json:"type_label"`
}

type RelatedResponse struct {
	ID        string           `json:"id"`
	VerseID   string           `json:"verse_id"`
	Reference string           `json:"reference"`
	Limit     int              `json:"limit"`
	Results   []RelatedPassage `json:"results"`
	Count     int              `json:"count"`
	Cached    bool             `json:"cached"`
	LatencyMS int64            `json:"latency_ms"`
}

type RelatedHandler struct {
	finder       RelatedFinder
	log          QueryLog
	defaultLimit int
	maxLimit     int
}

func NewRelatedHandler(finder RelatedFinder, log QueryLog, defaultLimit, maxLimit int) *RelatedHandler {
	if defaultLimit <= 0 {
		defaultLimit = query.DefaultMaxResults
	}
	if maxLimit <= 0 {
		maxLimit = 50
	}
	return &RelatedHandler{
		finder:       finder,
		log:          log,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// GetRelated serves GET /verses/:verseId/related. It expects the validation
// middleware to have stored the verse id and limit.
func (h *RelatedHandler) GetRelated(c *fiber.Ctx) error {
	verseID, _ := c.Locals(validation.LocalVerseID).(string)
	limit, _ := c.Locals(validation.LocalLimit).(int)

	resp, err := h.lookup(c.Context(), "http", verseID, limit)
	if err != nil {
		status, msg := errorStatus(err)
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}
	return c.JSON(resp)
}

// lookup runs one related-passages query for any transport.
func (h *RelatedHandler) lookup(ctx context.Context, transport, verseID string, limit int) (*RelatedResponse, error) {
	if limit <= 0 {
		limit = h.defaultLimit
	}

	start := time.Now()
	results, cached, err := h.finder.LookupRelated(ctx, verseID, limit)
	elapsed := time.Since(start)
	metrics.QueryDuration.WithLabelValues(transport).Observe(elapsed.Seconds())

	if err != nil {
		metrics.QueryTotal.WithLabelValues(statusLabel(err)).Inc()
		logger.Warn("Related lookup failed",
			zap.String("verse_id", verseID),
			zap.String("transport", transport),
			zap.Error(err),
		)
		return nil, err
	}
	metrics.QueryTotal.WithLabelValues("ok").Inc()

	resp := &RelatedResponse{
		ID:        uuid.New().String(),
		VerseID:   verseID,
		Reference: verse.Reference(verseID),
		Limit:     limit,
		Results:   make([]RelatedPassage, 0, len(results)),
		Count:     len(results),
		Cached:    cached,
		LatencyMS: elapsed.Milliseconds(),
	}
	for _, r := range results {
		resp.Results = append(resp.Results, RelatedPassage{
			Result:    r,
			Reference: verse.Reference(r.Verse),
			TypeLabel: builder.Label(r.Type),
		})
	}

	logger.Debug("Related lookup served",
		zap.String("verse_id", verseID),
		zap.Int("results", resp.Count),
		zap.Bool("cached", cached),
	)

	h.record(ctx, resp)
	return resp, nil
}

func (h *RelatedHandler) record(ctx context.Context, resp *RelatedResponse) {
	if h.log == nil {
		return
	}
	err := h.log.InsertRelatedQuery(ctx, &models.RelatedQuery{
		ID:          resp.ID,
		VerseID:     resp.VerseID,
		Limit:       resp.Limit,
		ResultCount: resp.Count,
		Cached:      resp.Cached,
		LatencyMS:   int(resp.LatencyMS),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("Failed to record related query", zap.String("id", resp.ID), zap.Error(err))
	}
}

// GetRecent serves GET /queries/recent?limit=N.
func (h *RelatedHandler) GetRecent(c *fiber.Ctx) error {
	if h.log == nil {
		return c.JSON(fiber.Map{"queries": []interface{}{}})
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be between 1 and 100",
			})
		}
		limit = n
	}

	recent, err := h.log.RecentRelatedQueries(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to load recent queries", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load recent queries",
		})
	}

	out := make([]fiber.Map, 0, len(recent))
	for _, q := range recent {
		out = append(out, fiber.Map{
			"id":           q.ID,
			"verse_id":     q.VerseID,
			"limit":        q.Limit,
			"result_count": q.ResultCount,
			"cached":       q.Cached,
			"latency_ms":   q.LatencyMS,
			"created_at":   q.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"queries": out})
}

func statusLabel(err error) string {
	switch {
	case errors.Is(err, verse.ErrInvalidVerseID):
		return "invalid"
	case errors.Is(err, query.ErrNotInitialized):
		return "not_ready"
	default:
		return "error"
	}
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, verse.ErrInvalidVerseID):
		return fiber.StatusBadRequest, "Invalid verse id"
	case errors.Is(err, query.ErrNotInitialized):
		return fiber.StatusServiceUnavailable, "Engine is not initialized"
	default:
		return fiber.StatusInternalServerError, "Failed to find related passages"
	}
}
