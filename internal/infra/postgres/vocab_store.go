package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"golang.org/x/sync/singleflight"

	"duel-ladder-service/internal/domain"
	"duel-ladder-service/internal/infra/memory"
)

// VocabStore assembles questions from the vocab table. Distractor pools are
// cached with a jittered TTL behind singleflight so concurrent round starts
// don't stampede the database.
type VocabStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	sf   singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.Mutex
	pools map[string]cachedPool
}

type cachedPool struct {
	values    []poolValue
	expiresAt time.Time
}

type poolValue struct {
	vocabID int64
	text    string
}

func NewVocabStore(pool *pgxpool.Pool, ttl time.Duration) *VocabStore {
	return &VocabStore{
		pool:  pool,
		ttl:   ttl,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		pools: make(map[string]cachedPool),
	}
}

// AddEntry inserts a vocabulary row and returns its ID.
func (s *VocabStore) AddEntry(ctx context.Context, e domain.VocabEntry) (int64, error) {
	if strings.TrimSpace(e.Word) == "" {
		return 0, fmt.Errorf("word is required")
	}
	syns, _ := json.Marshal(trimAll(e.Synonyms))
	ants, _ := json.Marshal(trimAll(e.Antonyms))
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO vocab(word, definition, translation, synonyms_json, antonyms_json, example)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		strings.TrimSpace(e.Word), strings.TrimSpace(e.Definition), strings.TrimSpace(e.Translation),
		string(syns), string(ants), strings.TrimSpace(e.Example),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert vocab: %w", err)
	}
	return id, nil
}

// Count reports the number of vocab rows.
func (s *VocabStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vocab`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vocab: %w", err)
	}
	return n, nil
}

// Wipe deletes every vocab row and drops the distractor caches.
func (s *VocabStore) Wipe(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM vocab`); err != nil {
		return fmt.Errorf("wipe vocab: %w", err)
	}
	s.mu.Lock()
	s.pools = make(map[string]cachedPool)
	s.mu.Unlock()
	return nil
}

// BuildQuestion implements app.QuestionSource against Postgres.
func (s *VocabStore) BuildQuestion(ctx context.Context, category domain.Category, optionCount int) (domain.Question, error) {
	entry, err := s.randomEligible(ctx, category)
	if err != nil {
		return domain.Question{}, err
	}

	var correct, prompt string
	var distractors []string
	switch category {
	case domain.CategorySynonym:
		// The SQL filter screens empty lists, but a malformed stored list
		// still decodes to nil.
		if len(entry.Synonyms) == 0 {
			return domain.Question{}, domain.ErrNoQuestion
		}
		correct = entry.Synonyms[s.intn(len(entry.Synonyms))]
		prompt = fmt.Sprintf("Pick a <b>synonym</b> for:\n<b>%s</b>", html.EscapeString(entry.Word))
		distractors, err = s.randomFromPool(ctx, "word", optionCount-1, entry.ID)
	case domain.CategoryAntonym:
		if len(entry.Antonyms) == 0 {
			return domain.Question{}, domain.ErrNoQuestion
		}
		correct = entry.Antonyms[s.intn(len(entry.Antonyms))]
		prompt = fmt.Sprintf("Pick an <b>antonym</b> for:\n<b>%s</b>", html.EscapeString(entry.Word))
		distractors, err = s.randomFromPool(ctx, "word", optionCount-1, entry.ID)
	case domain.CategoryTranslate:
		correct = entry.Translation
		prompt = fmt.Sprintf("Pick the <b>translation</b> for:\n<b>%s</b>", html.EscapeString(entry.Word))
		distractors, err = s.randomFromPool(ctx, "translation", optionCount-1, entry.ID)
	case domain.CategoryDefinition:
		correct = entry.Definition
		prompt = fmt.Sprintf("Pick the <b>definition</b> of:\n<b>%s</b>", html.EscapeString(entry.Word))
		distractors, err = s.randomFromPool(ctx, "definition", optionCount-1, entry.ID)
	case domain.CategoryGapFill:
		correct = entry.Word
		prompt = fmt.Sprintf("Fill the blank:\n<blockquote>%s</blockquote>", html.EscapeString(blankWord(entry.Example, entry.Word)))
		distractors, err = s.randomFromPool(ctx, "word", optionCount-1, entry.ID)
	default:
		return domain.Question{}, domain.ErrNoQuestion
	}
	if err != nil {
		return domain.Question{}, err
	}

	pad, err := s.randomFromPool(ctx, "word", optionCount, entry.ID)
	if err != nil {
		return domain.Question{}, err
	}

	correct = strings.TrimSpace(correct)
	s.rndMu.Lock()
	options := memory.AssembleOptions(correct, distractors, pad, optionCount, s.rnd)
	s.rndMu.Unlock()
	if options == nil {
		return domain.Question{}, domain.ErrNoQuestion
	}

	correctIdx := 0
	for i, o := range options {
		if o == correct {
			correctIdx = i
			break
		}
	}
	return domain.Question{
		Category:   category,
		VocabID:    entry.ID,
		Prompt:     prompt,
		Options:    options,
		CorrectIdx: correctIdx,
	}, nil
}

func (s *VocabStore) randomEligible(ctx context.Context, category domain.Category) (domain.VocabEntry, error) {
	var where string
	switch category {
	case domain.CategorySynonym:
		where = `synonyms_json IS NOT NULL AND synonyms_json != '[]'`
	case domain.CategoryAntonym:
		where = `antonyms_json IS NOT NULL AND antonyms_json != '[]'`
	case domain.CategoryTranslate:
		where = `translation IS NOT NULL AND TRIM(translation) != ''`
	case domain.CategoryDefinition:
		where = `definition IS NOT NULL AND TRIM(definition) != ''`
	case domain.CategoryGapFill:
		where = `example IS NOT NULL AND TRIM(example) != ''`
	default:
		return domain.VocabEntry{}, domain.ErrNoQuestion
	}

	row := s.pool.QueryRow(ctx,
		`SELECT id, word, definition, translation, synonyms_json, antonyms_json, example
		 FROM vocab WHERE `+where+` ORDER BY RANDOM() LIMIT 1`)

	var e domain.VocabEntry
	var synsRaw, antsRaw string
	err := row.Scan(&e.ID, &e.Word, &e.Definition, &e.Translation, &synsRaw, &antsRaw, &e.Example)
	if err == pgx.ErrNoRows {
		return domain.VocabEntry{}, domain.ErrNoQuestion
	}
	if err != nil {
		return domain.VocabEntry{}, fmt.Errorf("sample vocab: %w", err)
	}
	_ = json.Unmarshal([]byte(synsRaw), &e.Synonyms)
	_ = json.Unmarshal([]byte(antsRaw), &e.Antonyms)
	return e, nil
}

// randomFromPool draws up to limit distinct values for a column, excluding
// the source row, from the cached pool.
func (s *VocabStore) randomFromPool(ctx context.Context, column string, limit int, excludeID int64) ([]string, error) {
	pool, err := s.loadPool(ctx, column)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, limit)
	for _, i := range s.perm(len(pool)) {
		v := pool[i]
		if v.vocabID == excludeID {
			continue
		}
		if containsStr(out, v.text) {
			continue
		}
		out = append(out, v.text)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *VocabStore) loadPool(ctx context.Context, column string) ([]poolValue, error) {
	now := time.Now()
	s.mu.Lock()
	if entry, ok := s.pools[column]; ok && entry.expiresAt.After(now) {
		s.mu.Unlock()
		return entry.values, nil
	}
	s.mu.Unlock()

	result, err, _ := s.sf.Do(column, func() (interface{}, error) {
		s.mu.Lock()
		if entry, ok := s.pools[column]; ok && entry.expiresAt.After(time.Now()) {
			s.mu.Unlock()
			return entry.values, nil
		}
		s.mu.Unlock()

		// column is one of a fixed set of identifiers, never user input.
		rows, err := s.pool.Query(ctx,
			`SELECT id, `+column+` FROM vocab WHERE TRIM(COALESCE(`+column+`, '')) != ''`)
		if err != nil {
			return nil, fmt.Errorf("load %s pool: %w", column, err)
		}
		defer rows.Close()

		var values []poolValue
		for rows.Next() {
			var v poolValue
			if err := rows.Scan(&v.vocabID, &v.text); err != nil {
				return nil, fmt.Errorf("scan %s pool: %w", column, err)
			}
			v.text = strings.TrimSpace(v.text)
			if v.text != "" {
				values = append(values, v)
			}
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.pools[column] = cachedPool{values: values, expiresAt: time.Now().Add(s.ttlWithJitter())}
		s.mu.Unlock()
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]poolValue), nil
}

func (s *VocabStore) ttlWithJitter() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(s.ttl) / 10
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return s.ttl + time.Duration(s.rnd.Int63n(jitterMax+1))
}

func (s *VocabStore) intn(n int) int {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return s.rnd.Intn(n)
}

func (s *VocabStore) perm(n int) []int {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return s.rnd.Perm(n)
}

func blankWord(example, word string) string {
	if word != "" && strings.Contains(strings.ToLower(example), strings.ToLower(word)) {
		blanked := strings.ReplaceAll(example, word, "____")
		if word != "" {
			upper := strings.ToUpper(word[:1]) + word[1:]
			blanked = strings.ReplaceAll(blanked, upper, "____")
		}
		return blanked
	}
	return example + " (____)"
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func containsStr(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
