package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"duel-ladder-service/internal/domain"
)

// SoloSession is the single-player analogue of a duel, keyed by player. At
// most one session exists per player; starting a new one cancels the old.
type SoloSession struct {
	id       int64
	playerID int64
	eventID  int64 // 0 when not linked to an event
	category domain.Category

	roundsTotal int
	roundTime   time.Duration
	cancel      context.CancelFunc

	mu         sync.Mutex
	roundIdx   int
	score      int
	question   *domain.Question
	roundStart time.Time
	answered   bool
	answerCh   chan domain.Answer
}

// ID returns the session identifier.
func (s *SoloSession) ID() int64 { return s.id }

// submit accepts the first answer for the current round; everything else is
// silently ignored.
func (s *SoloSession) submit(sessionID int64, roundIdx, choice int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != sessionID || s.question == nil || s.answered || roundIdx != s.roundIdx {
		return false
	}
	s.answered = true
	s.answerCh <- domain.Answer{Choice: choice, Latency: time.Since(s.roundStart)}
	return true
}

func (s *SoloSession) beginRound(q domain.Question) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.question = &q
	s.category = q.Category
	s.roundStart = time.Now()
	s.answered = false
	s.answerCh = make(chan domain.Answer, 1)
	return s.roundIdx
}

// StartSolo starts a solo session for the player, terminating any previous
// one first. If the player is enrolled in the active event, round outcomes
// are recorded into its ledger and auto-queue is paused for the duration.
func (a *Arena) StartSolo(ctx context.Context, playerID int64) (int64, error) {
	eventID := int64(0)
	if active := a.ActiveEventID(); active != 0 {
		if _, err := a.ledger.PlayerStats(ctx, active, playerID); err == nil {
			eventID = active
			if err := a.ledger.SetAutoQueue(ctx, active, playerID, false); err != nil {
				a.log.Warn("pause auto queue for solo", zap.Error(err))
			}
		}
	}

	a.StopSolo(playerID)

	sctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.soloSeq++
	s := &SoloSession{
		id:          a.soloSeq,
		playerID:    playerID,
		eventID:     eventID,
		category:    domain.Categories[0],
		roundsTotal: a.settings.RoundsPerDuel,
		roundTime:   a.settings.RoundTime,
		cancel:      cancel,
	}
	if a.event != nil {
		s.category = domain.Categories[a.event.categoryIdx%len(domain.Categories)]
		a.event.queue = removeAll(a.event.queue, playerID)
	}
	a.solo[playerID] = s
	a.mu.Unlock()

	note := fmt.Sprintf("Solo mode started.\nMode: %s\nRounds: %d", s.category, s.roundsTotal)
	if eventID == 0 {
		note += "\nNo active event, scores will not be recorded."
	}
	a.notify.SendText(playerID, note)

	go a.runSolo(sctx, s)
	return s.id, nil
}

// StopSolo cancels the player's solo session if one exists.
func (a *Arena) StopSolo(playerID int64) bool {
	a.mu.Lock()
	s := a.solo[playerID]
	delete(a.solo, playerID)
	a.mu.Unlock()
	if s == nil {
		return false
	}
	s.cancel()
	return true
}

// SubmitSoloAnswer records the player's choice for a solo round.
func (a *Arena) SubmitSoloAnswer(playerID, sessionID int64, roundIdx, choice int) {
	a.mu.Lock()
	s := a.solo[playerID]
	a.mu.Unlock()
	if s == nil {
		return
	}
	s.submit(sessionID, roundIdx, choice)
}

func (a *Arena) runSolo(ctx context.Context, s *SoloSession) {
	for {
		s.mu.Lock()
		idx := s.roundIdx
		s.mu.Unlock()
		if idx >= s.roundsTotal {
			a.finishSolo(s)
			return
		}

		q, err := a.buildWithFallback(ctx, s.category)
		if err != nil {
			a.notify.SendText(s.playerID, "Not enough vocabulary to generate questions.")
			a.finishSolo(s)
			return
		}

		round := s.beginRound(q)
		ref := a.notify.SendQuestion(s.playerID, QuestionMessage{
			SessionID: s.id,
			RoundIdx:  round,
			Solo:      true,
			Header:    fmt.Sprintf("Solo round %d/%d\nMode: %s\nScore: %d\n\n", round+1, s.roundsTotal, q.Category, s.currentScore()),
			Prompt:    q.Prompt,
			Options:   q.Options,
		})

		timer := time.NewTimer(s.roundTime)
		var ans *domain.Answer
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case got := <-s.answerChan():
			timer.Stop()
			ans = &got
		}

		a.revealSoloRound(ctx, s, ref, ans)
		time.Sleep(a.settings.RevealPause)
	}
}

func (s *SoloSession) currentScore() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}

func (s *SoloSession) answerChan() chan domain.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answerCh
}

func (a *Arena) revealSoloRound(ctx context.Context, s *SoloSession, ref MessageRef, ans *domain.Answer) {
	s.mu.Lock()
	q := s.question
	if q == nil {
		s.mu.Unlock()
		return
	}
	verdict := "Time!"
	pick := "no answer"
	points := 0
	correct := false
	latency := s.roundTime
	if ans != nil {
		latency = ans.Latency
		correct = ans.Choice == q.CorrectIdx
		points = DuelPoints(correct, latency)
		if correct {
			verdict = "Correct!"
		} else {
			verdict = "Wrong!"
		}
		if ans.Choice >= 0 && ans.Choice < len(q.Options) {
			pick = q.Options[ans.Choice]
		}
	}
	s.score += points
	score := s.score
	s.question = nil
	s.roundIdx++
	s.mu.Unlock()

	if s.eventID != 0 {
		if err := a.ledger.RecordRoundResult(ctx, s.eventID, s.playerID, points, correct); err != nil {
			a.log.Warn("record solo round", zap.Int64("player_id", s.playerID), zap.Error(err))
		}
	}

	a.notify.EditMessage(ref, fmt.Sprintf(
		"%s\n\nCorrect answer: %s\nYour pick: %s\n%dms • +%d\n\nScore: %d",
		verdict, q.Options[q.CorrectIdx], pick, latency.Milliseconds(), points, score,
	))
}

func (a *Arena) finishSolo(s *SoloSession) {
	a.mu.Lock()
	if a.solo[s.playerID] == s {
		delete(a.solo, s.playerID)
	}
	a.mu.Unlock()
	a.notify.SendText(s.playerID, fmt.Sprintf("Solo mode finished\nFinal score: %d", s.currentScore()))
	a.log.Info("solo finished", zap.Int64("player_id", s.playerID), zap.Int64("session_id", s.id))
}
