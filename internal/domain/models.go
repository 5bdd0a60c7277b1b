package domain

import "time"

// Category is the kind of vocabulary question asked in a round.
type Category string

const (
	CategorySynonym    Category = "SYNONYM"
	CategoryAntonym    Category = "ANTONYM"
	CategoryTranslate  Category = "TRANSLATE"
	CategoryDefinition Category = "DEFINITION"
	CategoryGapFill    Category = "GAPFILL"
)

// Categories lists every category in rotation order.
var Categories = []Category{
	CategorySynonym,
	CategoryAntonym,
	CategoryTranslate,
	CategoryDefinition,
	CategoryGapFill,
}

// VocabEntry is one imported vocabulary row; empty fields simply make the
// entry ineligible for the categories that need them.
type VocabEntry struct {
	ID          int64    `json:"id"`
	Word        string   `json:"word"`
	Definition  string   `json:"definition"`
	Translation string   `json:"translation"`
	Synonyms    []string `json:"synonyms"`
	Antonyms    []string `json:"antonyms"`
	Example     string   `json:"example"`
}

// Question is a fully assembled multiple-choice question. It is built fresh
// for each round and discarded after the reveal. Options are deduplicated and
// shuffled; CorrectIdx points at the correct option after shuffling.
type Question struct {
	Category   Category `json:"category"`
	VocabID    int64    `json:"vocabId"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options"`
	CorrectIdx int      `json:"correctIdx"`
}

// Answer is one player's submission for the current round.
type Answer struct {
	Choice  int
	Latency time.Duration
}

// RoundOutcome summarizes one player's result for a revealed round.
type RoundOutcome struct {
	PlayerID int64
	Answered bool
	Correct  bool
	Points   int
	Latency  time.Duration
}

// PlayerStats is the ledger's per-event view of a player.
type PlayerStats struct {
	PlayerID int64 `json:"playerId"`
	Wins     int   `json:"wins"`
	Losses   int   `json:"losses"`
	Points   int   `json:"points"`
	Correct  int   `json:"correct"`
	Wrong    int   `json:"wrong"`
}

// Event is the persisted record of a competition window.
type Event struct {
	ID           int64
	StartedAt    time.Time
	EndsAt       time.Time
	PhaseSeconds int
	Active       bool
}
