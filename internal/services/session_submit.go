package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lingoreach/exam-session-service/internal/ai"
	"github.com/lingoreach/exam-session-service/internal/engine"
	"github.com/lingoreach/exam-session-service/internal/events"
	"github.com/lingoreach/exam-session-service/internal/models"
	"github.com/lingoreach/exam-session-service/internal/repositories"
)

const (
	essayScoreTimeout = 90 * time.Second
	commentaryTimeout = 60 * time.Second
)

// ===== SUBMIT LIFECYCLE =====

// RequestSubmit asks for confirmation before the terminal submit.
func (s *sessionService) RequestSubmit(_ context.Context, sessionID string, userID string) error {
	sess, err := s.session(sessionID, userID, "request_submit")
	if err != nil {
		return err
	}
	return sess.RequestSubmit()
}

// CancelSubmit backs out of a pending confirmation.
func (s *sessionService) CancelSubmit(_ context.Context, sessionID string, userID string) error {
	sess, err := s.session(sessionID, userID, "cancel_submit")
	if err != nil {
		return err
	}
	return sess.CancelSubmit()
}

// RetrySubmit re-arms a failed submit for another confirmation.
func (s *sessionService) RetrySubmit(_ context.Context, sessionID string, userID string) error {
	sess, err := s.session(sessionID, userID, "retry_submit")
	if err != nil {
		return err
	}
	return sess.RetrySubmit()
}

// Result returns the score result of a submitted session.
func (s *sessionService) Result(_ context.Context, sessionID string, userID string) (*engine.ScoreResult, error) {
	sess, err := s.session(sessionID, userID, "read_result")
	if err != nil {
		return nil, err
	}
	return sess.Result()
}

// ConfirmSubmit runs the scoring pipeline for a confirmed submit. The session
// state machine guarantees at most one pipeline run per attempt; a concurrent
// second confirm fails at BeginSubmit. Pipeline failure parks the session in a
// retryable error state instead of completing with a bogus score.
func (s *sessionService) ConfirmSubmit(ctx context.Context, sessionID string, userID string) (*engine.ScoreResult, error) {
	sess, err := s.session(sessionID, userID, "confirm_submit")
	if err != nil {
		return nil, err
	}

	if err := sess.BeginSubmit(); err != nil {
		return nil, err
	}

	// Guard against a submission already finalized through another session,
	// e.g. after a reload raced a slow first submit.
	record, err := s.repo.Submission().GetByID(ctx, sess.SubmissionID())
	if err != nil {
		_ = sess.FailSubmit()
		if repositories.IsNotFoundError(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	if record.Completed {
		_ = sess.FailSubmit()
		return nil, ErrSubmissionCompleted
	}

	elapsed := sess.Elapsed()

	s.logger.Info("Scoring submission",
		"session_id", sessionID,
		"submission_id", sess.SubmissionID(),
		"kind", sess.Kind(),
		"time_spent", elapsed)

	var result *engine.ScoreResult
	if sess.Kind() == models.SectionWriting {
		result, err = s.scoreWriting(ctx, sess, elapsed)
	} else {
		result, err = s.scoreObjective(ctx, sess, elapsed)
	}
	if err != nil {
		s.logger.Error("Scoring failed",
			"session_id", sessionID,
			"submission_id", sess.SubmissionID(),
			"error", err)
		_ = sess.FailSubmit()
		return nil, fmt.Errorf("%w: %v", ErrScoringFailed, err)
	}

	if err := sess.CompleteSubmit(result); err != nil {
		return nil, err
	}

	s.publishScored(ctx, sess, result, elapsed)

	s.logger.Info("Submission scored",
		"session_id", sessionID,
		"submission_id", sess.SubmissionID(),
		"score", result.Score,
		"correct", result.CorrectAnswers)

	return result, nil
}

// ===== OBJECTIVE SCORING =====

// scoreObjective joins the persisted answers against the catalog snapshot,
// computes percent-correct, asks the commentary model for feedback, and
// finalizes the submission record in a single patch.
func (s *sessionService) scoreObjective(ctx context.Context, sess *engine.Session, elapsed int) (*engine.ScoreResult, error) {
	answers, err := s.repo.Answer().GetBySubmission(ctx, sess.SubmissionID(), sess.QuestionIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch answers: %w", err)
	}

	questions := sess.Questions()
	total := len(sess.QuestionIDs())
	correct := engine.CountCorrect(answers, questions)
	score := engine.ObjectiveScore(correct, total)

	commentary, err := s.objectiveCommentary(ctx, sess, answers, questions)
	if err != nil {
		return nil, err
	}

	// One patch carries score, feedback and the completed flag together so no
	// reader ever sees a scored-but-uncommented submission.
	completed := true
	comment := commentary.Feedback
	patch := repositories.SubmissionPatch{
		Score:          &score,
		Comment:        &comment,
		Strengths:      commentary.Strengths,
		AreasToImprove: commentary.AreasToImprove,
		Completed:      &completed,
		TimeSpent:      &elapsed,
	}
	if err := s.repo.Submission().Patch(ctx, sess.SubmissionID(), patch); err != nil {
		return nil, fmt.Errorf("failed to finalize submission: %w", err)
	}

	return &engine.ScoreResult{
		TotalQuestions:    total,
		AnsweredQuestions: len(answers),
		CorrectAnswers:    correct,
		Score:             score,
		Comment:           commentary.Feedback,
		Strengths:         commentary.Strengths,
		AreasToImprove:    commentary.AreasToImprove,
	}, nil
}

func (s *sessionService) objectiveCommentary(ctx context.Context, sess *engine.Session,
	answers []*models.PersistedAnswer, questions map[uint]models.Question) (*ai.Commentary, error) {

	presented := make([]ai.ObjectiveAnswer, 0, len(answers))
	for _, a := range answers {
		q, ok := questions[a.QuestionID]
		if !ok {
			continue
		}
		choices := make([]string, len(q.Options))
		chosen := ""
		for i, opt := range q.Options {
			choices[i] = opt.Content
			if opt.ID == a.AnswerOptionID {
				chosen = opt.Content
			}
		}
		presented = append(presented, ai.ObjectiveAnswer{
			Question: q.Content,
			Choices:  choices,
			Chosen:   chosen,
		})
	}

	req := &ai.FeedbackRequest{}
	switch sess.Skill() {
	case models.SkillVocabulary:
		req.Vocabulary = presented
	case models.SkillGrammar:
		req.Grammar = presented
	case models.SkillReading:
		req.Reading = presented
	case models.SkillListening:
		req.Listening = presented
	case models.SkillSpeaking:
		req.Speaking = presented
	default:
		return nil, fmt.Errorf("unexpected objective skill %q", sess.Skill())
	}

	cctx, cancel := context.WithTimeout(ctx, commentaryTimeout)
	defer cancel()

	commentary, err := s.commentator.Commentary(cctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate commentary: %w", err)
	}
	return commentary, nil
}

// ===== WRITING SCORING =====

// scoreWriting grades each non-blank essay, writes the per-essay score and
// feedback onto its record as soon as it is known, aggregates the fixed
// per-prompt shares, then finalizes the submission with the overall
// commentary in a single patch.
func (s *sessionService) scoreWriting(ctx context.Context, sess *engine.Session, elapsed int) (*engine.ScoreResult, error) {
	items := sess.Items()

	essays, err := s.repo.Essay().GetBySubmission(ctx, sess.SubmissionID(), sess.QuestionIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch essays: %w", err)
	}

	topicByItem := make(map[uint]string, len(items))
	for _, item := range items {
		topicByItem[item.ID] = item.Topic
	}

	promptCount := len(items)
	totalScore := 0.0
	answered := 0
	graded := 0
	presented := make([]ai.EssayAnswer, 0, len(essays))

	for _, essay := range essays {
		// Blank essays contribute nothing; their prompt share is forfeited
		if strings.TrimSpace(essay.Content) == "" {
			continue
		}
		answered++

		topic := topicByItem[essay.SectionItemID]

		sctx, cancel := context.WithTimeout(ctx, essayScoreTimeout)
		eval, err := s.scorer.Score(sctx, essay.Content, topic)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to score essay %d: %w", essay.ID, err)
		}

		share := engine.EssayShare(eval.Score, promptCount)
		totalScore += share
		graded++

		// Persist the rescaled share immediately so a later aggregate failure
		// does not lose already-finished grades; the stored values sum to the
		// aggregate score directly.
		feedback := eval.Feedback
		if err := s.repo.Essay().Patch(ctx, essay.ID, repositories.EssayPatch{
			Score:   &share,
			Comment: &feedback,
		}); err != nil {
			return nil, fmt.Errorf("failed to record essay %d score: %w", essay.ID, err)
		}

		presented = append(presented, ai.EssayAnswer{
			Topic:      topic,
			UserAnswer: essay.Content,
		})
	}

	cctx, cancel := context.WithTimeout(ctx, commentaryTimeout)
	defer cancel()

	commentary, err := s.commentator.Commentary(cctx, &ai.FeedbackRequest{Writing: presented})
	if err != nil {
		return nil, fmt.Errorf("failed to generate commentary: %w", err)
	}

	completed := true
	comment := commentary.Feedback
	patch := repositories.SubmissionPatch{
		Score:          &totalScore,
		Comment:        &comment,
		Strengths:      commentary.Strengths,
		AreasToImprove: commentary.AreasToImprove,
		Completed:      &completed,
		TimeSpent:      &elapsed,
	}
	if err := s.repo.Submission().Patch(ctx, sess.SubmissionID(), patch); err != nil {
		return nil, fmt.Errorf("failed to finalize submission: %w", err)
	}

	return &engine.ScoreResult{
		TotalQuestions:    promptCount,
		AnsweredQuestions: answered,
		CorrectAnswers:    graded,
		Score:             totalScore,
		Comment:           commentary.Feedback,
		Strengths:         commentary.Strengths,
		AreasToImprove:    commentary.AreasToImprove,
	}, nil
}

// ===== EVENTS =====

func (s *sessionService) publishScored(ctx context.Context, sess *engine.Session, result *engine.ScoreResult, elapsed int) {
	submitted := events.NewSessionEvent(events.EventSessionSubmitted, events.SessionSubmittedEvent{
		SessionID:    sess.ID(),
		SubmissionID: sess.SubmissionID(),
		UserID:       sess.UserID(),
		SkillType:    sess.Skill(),
		TimeSpent:    elapsed,
	})
	if err := s.publisher.PublishSessionEvent(ctx, submitted); err != nil {
		s.logger.Warn("Failed to publish session submitted event", "session_id", sess.ID(), "error", err)
	}

	scored := events.NewSessionEvent(events.EventSessionScored, events.SessionScoredEvent{
		SessionID:      sess.ID(),
		SubmissionID:   sess.SubmissionID(),
		UserID:         sess.UserID(),
		SkillType:      sess.Skill(),
		Score:          result.Score,
		CorrectAnswers: result.CorrectAnswers,
		TotalQuestions: result.TotalQuestions,
	})
	if err := s.publisher.PublishSessionEvent(ctx, scored); err != nil {
		s.logger.Warn("Failed to publish session scored event", "session_id", sess.ID(), "error", err)
	}
}
