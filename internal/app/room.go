package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"duel-ladder-service/internal/domain"
)

// RoomPlayer is one joined player's running totals.
type RoomPlayer struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Correct int    `json:"correct"`
	Wrong   int    `json:"wrong"`
}

// RoomRank is a leaderboard row exposed to the frontend.
type RoomRank struct {
	Rank     int    `json:"rank"`
	PlayerID int64  `json:"user_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Correct  int    `json:"correct"`
	Wrong    int    `json:"wrong"`
}

// RoomPlayerResult is one player's outcome within a finished round.
type RoomPlayerResult struct {
	PlayerID int64  `json:"user_id"`
	Name     string `json:"name"`
	Correct  bool   `json:"correct"`
	Points   int    `json:"points"`
	TimeMs   *int64 `json:"time_ms"`
}

// RoomRoundResult is the accumulated log entry for one revealed round.
type RoomRoundResult struct {
	Round         int                `json:"round"`
	CorrectAnswer string             `json:"correct_answer"`
	CorrectIdx    int                `json:"correct_idx"`
	PlayerResults []RoomPlayerResult `json:"player_results"`
}

// RoomQuestion is the question view sent to clients; the correct index is
// never included.
type RoomQuestion struct {
	Prompt   string          `json:"prompt"`
	Options  []string        `json:"options"`
	Category domain.Category `json:"task_type"`
}

// RoomState is the per-poll snapshot. Personal fields are present only for
// authenticated joined players.
type RoomState struct {
	IsOpen        bool       `json:"is_open"`
	IsRunning     bool       `json:"is_running"`
	IsFinished    bool       `json:"is_finished"`
	PlayerCount   int        `json:"player_count"`
	CurrentRound  int        `json:"current_round"`
	TotalRounds   int        `json:"total_rounds"`
	RoundSeconds  float64    `json:"round_seconds"`
	TimeRemaining float64    `json:"time_remaining"`
	Leaderboard   []RoomRank `json:"leaderboard"`

	MyRank          *int  `json:"my_rank,omitempty"`
	MyScore         *int  `json:"my_score,omitempty"`
	MyCorrect       *int  `json:"my_correct,omitempty"`
	MyWrong         *int  `json:"my_wrong,omitempty"`
	AlreadyAnswered *bool `json:"already_answered,omitempty"`

	Question         *RoomQuestion `json:"question,omitempty"`
	FinalLeaderboard []RoomRank    `json:"final_leaderboard,omitempty"`
}

// Room is the single shared classroom game: one lobby, N players, a common
// timeline driven by RunLoop instead of per-round timers.
type Room struct {
	questions QuestionSource
	log       *zap.Logger

	mu         sync.Mutex
	open       bool
	running    bool
	finished   bool
	players    map[int64]*RoomPlayer
	round      int
	rounds     int
	roundTime  time.Duration
	category   domain.Category
	question   *domain.Question
	roundStart time.Time
	answers    map[int64]domain.Answer
	results    []RoomRoundResult
}

func NewRoom(questions QuestionSource, log *zap.Logger) *Room {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Room{questions: questions, log: log}
	r.Reset()
	return r
}

// Reset wipes the room back to its initial state.
func (r *Room) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	r.running = false
	r.finished = false
	r.players = make(map[int64]*RoomPlayer)
	r.round = 0
	r.rounds = 10
	r.roundTime = 12 * time.Second
	r.category = domain.Categories[0]
	r.question = nil
	r.answers = nil
	r.results = nil
}

// OpenLobby resets everything and flips the room to joinable.
func (r *Room) OpenLobby(rounds int, roundTime time.Duration) {
	r.Reset()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = true
	if rounds > 0 {
		r.rounds = rounds
	}
	if roundTime > 0 {
		r.roundTime = roundTime
	}
}

// Join registers a player while the lobby is open. Idempotent per player.
func (r *Room) Join(playerID int64, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open || r.running || r.finished {
		return false
	}
	if _, ok := r.players[playerID]; !ok {
		r.players[playerID] = &RoomPlayer{Name: name}
	}
	return true
}

// PlayerCount reports the number of joined players.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Start transitions the room from lobby to running. Requires at least one
// joined player.
func (r *Room) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open || r.running || len(r.players) == 0 {
		return false
	}
	r.open = false
	r.running = true
	r.round = 0
	return true
}

// NextRound advances the counter and installs a fresh question. Returns
// false once the round counter passes the total (the game is then finished)
// or when no question can be built in any category.
func (r *Room) NextRound(ctx context.Context) bool {
	r.mu.Lock()
	if !r.running || r.finished {
		r.mu.Unlock()
		return false
	}
	r.round++
	if r.round > r.rounds {
		r.running = false
		r.finished = true
		r.mu.Unlock()
		return false
	}
	category := domain.Categories[(r.round-1)%len(domain.Categories)]
	r.mu.Unlock()

	q, err := r.buildWithFallback(ctx, category)
	if err != nil {
		r.mu.Lock()
		r.running = false
		r.finished = true
		r.mu.Unlock()
		r.log.Warn("room out of questions", zap.Error(err))
		return false
	}

	r.mu.Lock()
	r.category = q.Category
	r.question = &q
	r.roundStart = time.Now()
	r.answers = make(map[int64]domain.Answer)
	r.mu.Unlock()
	return true
}

func (r *Room) buildWithFallback(ctx context.Context, preferred domain.Category) (domain.Question, error) {
	q, err := r.questions.BuildQuestion(ctx, preferred, 4)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, domain.ErrNoQuestion) {
		return domain.Question{}, err
	}
	for _, cat := range domain.Categories {
		if cat == preferred {
			continue
		}
		if q, err = r.questions.BuildQuestion(ctx, cat, 4); err == nil {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrNoQuestion
}

// SubmitAnswer records one answer per joined player per round.
func (r *Room) SubmitAnswer(playerID int64, choice int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.question == nil {
		return false
	}
	if _, joined := r.players[playerID]; !joined {
		return false
	}
	if _, dup := r.answers[playerID]; dup {
		return false
	}
	r.answers[playerID] = domain.Answer{Choice: choice, Latency: time.Since(r.roundStart)}
	return true
}

// AllAnswered reports whether every joined player has answered this round.
func (r *Room) AllAnswered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.question != nil && len(r.answers) >= len(r.players)
}

// TimeRemaining reports seconds left in the active round.
func (r *Room) TimeRemaining() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeRemainingLocked()
}

func (r *Room) timeRemainingLocked() float64 {
	if !r.running || r.question == nil {
		return 0
	}
	left := r.roundTime - time.Since(r.roundStart)
	if left < 0 {
		return 0
	}
	return left.Seconds()
}

// Running reports whether the game has started and not yet finished.
func (r *Room) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RoundActive reports whether a question is currently in flight.
func (r *Room) RoundActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && r.question != nil
}

// EndRound scores every joined player (unanswered counts wrong, zero
// points), appends the round log entry, and discards the question.
func (r *Room) EndRound() RoomRoundResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.question == nil {
		return RoomRoundResult{}
	}
	q := r.question
	result := RoomRoundResult{
		Round:         r.round,
		CorrectAnswer: q.Options[q.CorrectIdx],
		CorrectIdx:    q.CorrectIdx,
	}

	ids := sortedPlayerIDs(r.players)
	for _, id := range ids {
		p := r.players[id]
		ans, ok := r.answers[id]
		if !ok {
			p.Wrong++
			result.PlayerResults = append(result.PlayerResults, RoomPlayerResult{
				PlayerID: id,
				Name:     p.Name,
			})
			continue
		}
		correct := ans.Choice == q.CorrectIdx
		points := RoomPoints(correct, ans.Latency)
		if correct {
			p.Correct++
		} else {
			p.Wrong++
		}
		p.Score += points
		ms := ans.Latency.Milliseconds()
		result.PlayerResults = append(result.PlayerResults, RoomPlayerResult{
			PlayerID: id,
			Name:     p.Name,
			Correct:  correct,
			Points:   points,
			TimeMs:   &ms,
		})
	}

	r.results = append(r.results, result)
	r.question = nil
	return result
}

// RoundResults returns the accumulated per-round log.
func (r *Room) RoundResults() []RoomRoundResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RoomRoundResult, len(r.results))
	copy(out, r.results)
	return out
}

// Leaderboard returns the top n players by score desc then correct desc;
// ties break by ascending player ID.
func (r *Room) Leaderboard(n int) []RoomRank {
	r.mu.Lock()
	defer r.mu.Unlock()
	ranks := r.rankedLocked()
	if n > 0 && len(ranks) > n {
		ranks = ranks[:n]
	}
	return ranks
}

func (r *Room) rankedLocked() []RoomRank {
	ranks := make([]RoomRank, 0, len(r.players))
	for id, p := range r.players {
		ranks = append(ranks, RoomRank{
			PlayerID: id,
			Name:     p.Name,
			Score:    p.Score,
			Correct:  p.Correct,
			Wrong:    p.Wrong,
		})
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Score != ranks[j].Score {
			return ranks[i].Score > ranks[j].Score
		}
		if ranks[i].Correct != ranks[j].Correct {
			return ranks[i].Correct > ranks[j].Correct
		}
		return ranks[i].PlayerID < ranks[j].PlayerID
	})
	for i := range ranks {
		ranks[i].Rank = i + 1
	}
	return ranks
}

// StateFor builds the poll snapshot. playerID 0 means unauthenticated; the
// question never carries the correct index.
func (r *Room) StateFor(playerID int64) RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()

	ranks := r.rankedLocked()
	top := ranks
	if len(top) > 5 {
		top = top[:5]
	}
	state := RoomState{
		IsOpen:        r.open,
		IsRunning:     r.running,
		IsFinished:    r.finished,
		PlayerCount:   len(r.players),
		CurrentRound:  r.round,
		TotalRounds:   r.rounds,
		RoundSeconds:  r.roundTime.Seconds(),
		TimeRemaining: r.timeRemainingLocked(),
		Leaderboard:   top,
	}

	if p, ok := r.players[playerID]; ok && playerID != 0 {
		for _, rank := range ranks {
			if rank.PlayerID == playerID {
				myRank := rank.Rank
				state.MyRank = &myRank
				break
			}
		}
		score, correct, wrong := p.Score, p.Correct, p.Wrong
		state.MyScore = &score
		state.MyCorrect = &correct
		state.MyWrong = &wrong
		_, answered := r.answers[playerID]
		state.AlreadyAnswered = &answered
	}

	if r.running && r.question != nil {
		state.Question = &RoomQuestion{
			Prompt:   r.question.Prompt,
			Options:  r.question.Options,
			Category: r.category,
		}
	}
	if r.finished {
		state.FinalLeaderboard = ranks
	}
	return state
}

// RunLoop polls the room and drives round progression: when the budget is
// exhausted or everyone answered, the round ends, pauses briefly, and the
// next one starts. One loop serves the room for the process lifetime.
func (r *Room) RunLoop(ctx context.Context, poll, pause time.Duration) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.RoundActive() {
				// Covers the first round after Start and admin-forced skips.
				if r.Running() {
					r.NextRound(ctx)
				}
				continue
			}
			if r.TimeRemaining() > 0 && !r.AllAnswered() {
				continue
			}
			r.EndRound()
			select {
			case <-ctx.Done():
				return
			case <-time.After(pause):
			}
			r.NextRound(ctx)
		}
	}
}

func sortedPlayerIDs(players map[int64]*RoomPlayer) []int64 {
	ids := make([]int64, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
