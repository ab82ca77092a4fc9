// Package verse parses and formats canonical verse identifiers of the form
// <book_key>_<chapter>_<verse>, e.g. "matthew_1_1" or "1_corinthians_13_4".
package verse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidVerseID = errors.New("invalid verse id")

type ID struct {
	Book    string
	Chapter int
	Verse   int
}

// Parse splits from the right so that book keys may themselves contain
// underscores.
func Parse(token string) (ID, error) {
	last := strings.LastIndexByte(token, '_')
	if last <= 0 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidVerseID, token)
	}
	mid := strings.LastIndexByte(token[:last], '_')
	if mid <= 0 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidVerseID, token)
	}

	book := token[:mid]
	chapter, err := parsePositive(token[mid+1 : last])
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q: chapter %v", ErrInvalidVerseID, token, err)
	}
	verseNum, err := parsePositive(token[last+1:])
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q: verse %v", ErrInvalidVerseID, token, err)
	}
	if !validBook(book) {
		return ID{}, fmt.Errorf("%w: %q: bad book key", ErrInvalidVerseID, token)
	}

	return ID{Book: book, Chapter: chapter, Verse: verseNum}, nil
}

func MustParse(token string) ID {
	id, err := Parse(token)
	if err != nil {
		panic(err)
	}
	return id
}

func Valid(token string) bool {
	_, err := Parse(token)
	return err == nil
}

func (id ID) String() string {
	return Format(id.Book, id.Chapter, id.Verse)
}

func Format(book string, chapter, verse int) string {
	return book + "_" + strconv.Itoa(chapter) + "_" + strconv.Itoa(verse)
}

// Reference renders a human readable reference: "1 Corinthians 13:4".
func (id ID) Reference() string {
	return BookName(id.Book) + " " + strconv.Itoa(id.Chapter) + ":" + strconv.Itoa(id.Verse)
}

// Reference formats token for display, returning it unchanged when it does
// not parse.
func Reference(token string) string {
	id, err := Parse(token)
	if err != nil {
		return token
	}
	return id.Reference()
}

func BookName(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Less orders ids by book key, then chapter, then verse.
func Less(a, b ID) bool {
	if a.Book != b.Book {
		return a.Book < b.Book
	}
	if a.Chapter != b.Chapter {
		return a.Chapter < b.Chapter
	}
	return a.Verse < b.Verse
}

func parsePositive(s string) (int, error) {
	if s == "" || s[0] == '0' || s[0] == '+' || s[0] == '-' {
		return 0, fmt.Errorf("not a canonical positive integer: %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive: %d", n)
	}
	return n, nil
}

func validBook(book string) bool {
	if book == "" || book[0] == '_' || book[len(book)-1] == '_' {
		return false
	}
	prevUnderscore := false
	for i := 0; i < len(book); i++ {
		c := book[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevUnderscore = false
		case c == '_':
			if prevUnderscore {
				return false
			}
			prevUnderscore = true
		default:
			return false
		}
	}
	return true
}
