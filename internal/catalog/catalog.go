package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/openquiz/escaperoom/internal/domain"
	"github.com/openquiz/escaperoom/internal/errors"
)

// Catalog is the ordered, read-only set of quiz questions. Levels run
// 1..Total() with no gaps; the catalog never changes after construction.
type Catalog struct {
	questions []domain.Question
	byLevel   map[int]*domain.Question
	byID      map[string]*domain.Question
}

// Load reads a JSON array of questions from path and validates it.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}

	var qs []domain.Question
	if err := json.Unmarshal(b, &qs); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}

	return New(qs)
}

// New validates questions and builds the lookup indexes.
func New(questions []domain.Question) (*Catalog, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("catalog: no questions")
	}

	c := &Catalog{
		questions: questions,
		byLevel:   make(map[int]*domain.Question, len(questions)),
		byID:      make(map[string]*domain.Question, len(questions)),
	}

	for i := range questions {
		q := &questions[i]
		if err := validate(q); err != nil {
			return nil, fmt.Errorf("catalog: question %q: %w", q.ID, err)
		}

		if _, ok := c.byID[q.ID]; ok {
			return nil, fmt.Errorf("catalog: duplicate question id %q", q.ID)
		}
		if _, ok := c.byLevel[q.Level]; ok {
			return nil, fmt.Errorf("catalog: duplicate level %d", q.Level)
		}

		c.byID[q.ID] = q
		c.byLevel[q.Level] = q
	}

	// Levels must be contiguous from 1 so level progression can walk the
	// catalog without holes.
	for lvl := 1; lvl <= len(questions); lvl++ {
		if _, ok := c.byLevel[lvl]; !ok {
			return nil, fmt.Errorf("catalog: missing level %d", lvl)
		}
	}

	return c, nil
}

func validate(q *domain.Question) error {
	if q.ID == "" {
		return fmt.Errorf("empty id")
	}
	if q.Level < 1 {
		return fmt.Errorf("level %d < 1", q.Level)
	}
	if len(q.Options) != domain.OptionsPerQuestion {
		return fmt.Errorf("got %d options, want %d", len(q.Options), domain.OptionsPerQuestion)
	}
	if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
		return fmt.Errorf("correctAnswer %d out of range", q.CorrectAnswer)
	}
	if q.Points <= 0 {
		return fmt.Errorf("points %d <= 0", q.Points)
	}

	// Duplicate option text would make the shuffled correct index
	// ambiguous to a player; reject it at load time.
	seen := make(map[string]struct{}, len(q.Options))
	for _, o := range q.Options {
		if o == "" {
			return fmt.Errorf("empty option text")
		}
		if _, ok := seen[o]; ok {
			return fmt.Errorf("duplicate option text %q", o)
		}
		seen[o] = struct{}{}
	}

	return nil
}

// ByLevel returns the question at level, or a not-found error.
func (c *Catalog) ByLevel(level int) (*domain.Question, error) {
	q, ok := c.byLevel[level]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("question not found: level=%d", level))
	}

	return q, nil
}

// ByID returns the question with the given id, or a not-found error.
func (c *Catalog) ByID(id string) (*domain.Question, error) {
	q, ok := c.byID[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("question not found: id=%s", id))
	}

	return q, nil
}

// Total is the number of questions, which equals the highest level.
func (c *Catalog) Total() int {
	return len(c.questions)
}
