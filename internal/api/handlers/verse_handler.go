package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/scripture-rag/backend/internal/kg/builder"
	"github.com/scripture-rag/backend/internal/middleware/validation"
	"github.com/scripture-rag/backend/internal/verse"
)

// VerseTexts looks up verse text. Optional.
type VerseTexts interface {
	Text(verseID string) (string, bool)
}

type VerseHandler struct {
	texts VerseTexts
}

func NewVerseHandler(texts VerseTexts) *VerseHandler {
	return &VerseHandler{texts: texts}
}

// GetVerse serves GET /verses/:verseId with the parsed id and, when known,
// the verse text.
func (h *VerseHandler) GetVerse(c *fiber.Ctx) error {
	verseID, _ := c.Locals(validation.LocalVerseID).(string)
	id, err := verse.Parse(verseID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid verse id",
		})
	}

	resp := fiber.Map{
		"verse_id":  verseID,
		"book":      id.Book,
		"book_name": verse.BookName(id.Book),
		"chapter":   id.Chapter,
		"verse":     id.Verse,
		"reference": id.Reference(),
	}
	if h.texts != nil {
		if text, ok := h.texts.Text(verseID); ok {
			resp["text"] = text
		}
	}
	return c.JSON(resp)
}

// GetReferenceTypes lists reference types with their weight and label.
func (h *VerseHandler) GetReferenceTypes(c *fiber.Ctx) error {
	out := make([]fiber.Map, 0, len(builder.ReferenceTypes)+1)
	for _, t := range builder.ReferenceTypes {
		out = append(out, fiber.Map{
			"type":   t,
			"weight": builder.Weight(t),
			"label":  builder.Label(t),
		})
	}
	return c.JSON(fiber.Map{
		"types":          out,
		"default_weight": builder.DefaultWeight,
	})
}
