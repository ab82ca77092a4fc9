package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/verse"
)

const (
	LocalVerseID = "verse_id"
	LocalLimit   = "limit"

	maxVerseIDLength = 64
)

var ErrInvalidLimit = errors.New("invalid limit")

type Config struct {
	MaxLimit int
	Logger   *zap.Logger
}

// Middleware validates the :verseId route param and the optional limit query
// parameter, storing the cleaned values in c.Locals.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxLimit == 0 {
		cfg.MaxLimit = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		id, err := VerseID(c.Params("verseId"))
		if err != nil {
			cfg.Logger.Debug("Rejected verse id",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid verse id",
			})
		}

		limit, err := Limit(c.Query("limit"), cfg.MaxLimit)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		// Params alias the request buffer; handlers keep the id past the request.
		c.Locals(LocalVerseID, utils.CopyString(id))
		c.Locals(LocalLimit, limit)
		return c.Next()
	}
}

// VerseID trims and checks a raw verse identifier.
func VerseID(raw string) (string, error) {
	id := sanitizeString(raw)
	if len(id) > maxVerseIDLength {
		return "", fmt.Errorf("%w: too long", verse.ErrInvalidVerseID)
	}
	if _, err := verse.Parse(id); err != nil {
		return "", err
	}
	return id, nil
}

// Limit parses an optional result limit. Empty means 0, the engine default.
func Limit(raw string, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidLimit)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidLimit, max)
	}
	return CheckLimit(n, max)
}

// CheckLimit accepts 0 as the default, otherwise 1..max.
func CheckLimit(n, max int) (int, error) {
	if n < 0 || n > max {
		return 0, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidLimit, max)
	}
	return n, nil
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
