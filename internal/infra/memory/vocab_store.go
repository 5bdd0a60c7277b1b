package memory

import (
	"context"
	"fmt"
	"html"
	"math/rand"
	"strings"
	"sync"
	"time"

	"duel-ladder-service/internal/domain"
)

// VocabStore holds vocabulary in memory and assembles questions from it.
// Useful for tests, demos, and running without Postgres.
type VocabStore struct {
	mu      sync.RWMutex
	entries []domain.VocabEntry
	nextID  int64
	rnd     *rand.Rand
}

func NewVocabStore(entries []domain.VocabEntry) *VocabStore {
	s := &VocabStore{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

// Add stores an entry and returns its assigned ID.
func (s *VocabStore) Add(e domain.VocabEntry) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.entries = append(s.entries, e)
	return e.ID
}

// Count reports the number of stored entries.
func (s *VocabStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Wipe removes every entry.
func (s *VocabStore) Wipe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

// AddEntry implements the import surface used by the admin handlers.
func (s *VocabStore) AddEntry(ctx context.Context, e domain.VocabEntry) (int64, error) {
	if strings.TrimSpace(e.Word) == "" {
		return 0, fmt.Errorf("word is required")
	}
	return s.Add(e), nil
}

// BuildQuestion samples an eligible entry for the category, collects
// deduplicated distractors, pads with random words when short, shuffles, and
// returns the question. domain.ErrNoQuestion when no eligible source row
// exists or fewer than two distinct options survive.
func (s *VocabStore) BuildQuestion(_ context.Context, category domain.Category, optionCount int) (domain.Question, error) {
	// Full lock: the shared rand source is not safe under concurrent readers.
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pickEligible(category)
	if !ok {
		return domain.Question{}, domain.ErrNoQuestion
	}

	var correct, prompt string
	var distractors []string
	switch category {
	case domain.CategorySynonym:
		correct = strings.TrimSpace(entry.Synonyms[s.rnd.Intn(len(entry.Synonyms))])
		prompt = fmt.Sprintf("Pick a <b>synonym</b> for:\n<b>%s</b>", html.EscapeString(entry.Word))
		distractors = s.randomWords(optionCount-1, entry.ID)
	case domain.CategoryAntonym:
		correct = strings.TrimSpace(entry.Antonyms[s.rnd.Intn(len(entry.Antonyms))])
		prompt = fmt.Sprintf("Pick an <b>antonym</b> for:\n<b>%s</b>", html.EscapeString(entry.Word))
		distractors = s.randomWords(optionCount-1, entry.ID)
	case domain.CategoryTranslate:
		correct = entry.Translation
		prompt = fmt.Sprintf("Pick the <b>translation</b> for:\n<b>%s</b>", html.EscapeString(entry.Word))
		distractors = s.randomFieldValues(func(e domain.VocabEntry) string { return e.Translation }, optionCount-1, entry.ID)
	case domain.CategoryDefinition:
		correct = entry.Definition
		prompt = fmt.Sprintf("Pick the <b>definition</b> of:\n<b>%s</b>", html.EscapeString(entry.Word))
		distractors = s.randomFieldValues(func(e domain.VocabEntry) string { return e.Definition }, optionCount-1, entry.ID)
	case domain.CategoryGapFill:
		correct = entry.Word
		prompt = fmt.Sprintf("Fill the blank:\n<blockquote>%s</blockquote>", html.EscapeString(blankWord(entry.Example, entry.Word)))
		distractors = s.randomWords(optionCount-1, entry.ID)
	default:
		return domain.Question{}, domain.ErrNoQuestion
	}

	correct = strings.TrimSpace(correct)
	options := AssembleOptions(correct, distractors, s.randomWords(optionCount, entry.ID), optionCount, s.rnd)
	if options == nil {
		return domain.Question{}, domain.ErrNoQuestion
	}
	correctIdx := indexOf(options, correct)

	return domain.Question{
		Category:   category,
		VocabID:    entry.ID,
		Prompt:     prompt,
		Options:    options,
		CorrectIdx: correctIdx,
	}, nil
}

// AssembleOptions builds the final option list: correct answer once, then
// distractors, deduplicated preserving order, padded from the pool when
// short, truncated to optionCount, and shuffled. Returns nil when fewer than
// two distinct options survive.
func AssembleOptions(correct string, distractors, pool []string, optionCount int, rnd *rand.Rand) []string {
	correct = strings.TrimSpace(correct)
	if correct == "" {
		return nil
	}
	options := []string{correct}
	for _, d := range append(distractors, pool...) {
		d = strings.TrimSpace(d)
		if d == "" || containsStr(options, d) {
			continue
		}
		options = append(options, d)
	}
	if len(options) < 2 {
		return nil
	}
	if len(options) > optionCount {
		options = options[:optionCount]
	}
	rnd.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	return options
}

// pickEligible returns a random entry with a non-empty field for the
// category.
func (s *VocabStore) pickEligible(category domain.Category) (domain.VocabEntry, bool) {
	eligible := make([]domain.VocabEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if entryEligible(e, category) {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return domain.VocabEntry{}, false
	}
	return eligible[s.rnd.Intn(len(eligible))], true
}

func entryEligible(e domain.VocabEntry, category domain.Category) bool {
	switch category {
	case domain.CategorySynonym:
		return len(e.Synonyms) > 0
	case domain.CategoryAntonym:
		return len(e.Antonyms) > 0
	case domain.CategoryTranslate:
		return strings.TrimSpace(e.Translation) != ""
	case domain.CategoryDefinition:
		return strings.TrimSpace(e.Definition) != ""
	case domain.CategoryGapFill:
		return strings.TrimSpace(e.Example) != ""
	}
	return false
}

func (s *VocabStore) randomWords(limit int, excludeID int64) []string {
	out := make([]string, 0, limit)
	for _, i := range s.rnd.Perm(len(s.entries)) {
		e := s.entries[i]
		if e.ID == excludeID {
			continue
		}
		w := strings.TrimSpace(e.Word)
		if w == "" || containsStr(out, w) {
			continue
		}
		out = append(out, w)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func (s *VocabStore) randomFieldValues(field func(domain.VocabEntry) string, limit int, excludeID int64) []string {
	out := make([]string, 0, limit)
	for _, i := range s.rnd.Perm(len(s.entries)) {
		e := s.entries[i]
		if e.ID == excludeID {
			continue
		}
		v := strings.TrimSpace(field(e))
		if v == "" || containsStr(out, v) {
			continue
		}
		out = append(out, v)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// blankWord replaces the word in the example sentence with a blank; when the
// word does not appear, the blank is appended instead.
func blankWord(example, word string) string {
	if word != "" && strings.Contains(strings.ToLower(example), strings.ToLower(word)) {
		blanked := strings.ReplaceAll(example, word, "____")
		return strings.ReplaceAll(blanked, capitalize(word), "____")
	}
	return example + " (____)"
}

func capitalize(w string) string {
	if w == "" {
		return w
	}
	return strings.ToUpper(w[:1]) + w[1:]
}

func containsStr(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func indexOf(values []string, v string) int {
	for i, s := range values {
		if s == v {
			return i
		}
	}
	return -1
}
