package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lingoreach/exam-session-service/internal/ai"
	"github.com/lingoreach/exam-session-service/internal/cache"
	"github.com/lingoreach/exam-session-service/internal/engine"
	"github.com/lingoreach/exam-session-service/internal/events"
	"github.com/lingoreach/exam-session-service/internal/models"
	"github.com/lingoreach/exam-session-service/internal/repositories"
	"github.com/lingoreach/exam-session-service/internal/validator"
)

const questionCacheTTL = 5 * time.Minute

// OpenSessionRequest starts a test-taking session against an existing
// submission record.
type OpenSessionRequest struct {
	SubmissionID   uint               `json:"submission_id" validate:"required"`
	SkillType      models.SkillType   `json:"skill_type" validate:"required,skill_type"`
	Kind           models.SectionKind `json:"kind" validate:"required,section_kind"`
	SectionItemIDs []uint             `json:"section_item_ids" validate:"required,min=1"`
}

// SessionSnapshot is the read view of an open session.
type SessionSnapshot struct {
	SessionID      string                     `json:"session_id"`
	SubmissionID   uint                       `json:"submission_id"`
	SkillType      models.SkillType           `json:"skill_type"`
	Kind           models.SectionKind         `json:"kind"`
	Status         engine.Status              `json:"status"`
	ElapsedSeconds int                        `json:"elapsed_seconds"`
	Questions      []engine.QuestionItem      `json:"questions"`
	Sections       []engine.SectionDescriptor `json:"sections"`
}

// SessionService owns the lifecycle of test-taking sessions: resolving
// content into a serially-numbered question sequence, reconciling previously
// saved answers, tracking answer state, and driving submission scoring.
type SessionService interface {
	Open(ctx context.Context, req *OpenSessionRequest, userID string) (*SessionSnapshot, error)
	Get(ctx context.Context, sessionID string, userID string) (*SessionSnapshot, error)
	Close(ctx context.Context, sessionID string, userID string) error

	MarkAnswered(ctx context.Context, sessionID string, userID string, questionID uint, answered bool) error
	SaveEssay(ctx context.Context, sessionID string, userID string, index int, content string) error

	RequestSubmit(ctx context.Context, sessionID string, userID string) error
	CancelSubmit(ctx context.Context, sessionID string, userID string) error
	ConfirmSubmit(ctx context.Context, sessionID string, userID string) (*engine.ScoreResult, error)
	RetrySubmit(ctx context.Context, sessionID string, userID string) error
	Result(ctx context.Context, sessionID string, userID string) (*engine.ScoreResult, error)
}

type sessionService struct {
	repo        repositories.Repository
	cache       cache.CacheService
	scorer      ai.EssayScorer
	commentator ai.Commentator
	publisher   events.EventPublisher
	logger      *slog.Logger
	validator   *validator.Validator

	mu       sync.RWMutex
	sessions map[string]*engine.Session
}

func NewSessionService(
	repo repositories.Repository,
	cacheService cache.CacheService,
	scorer ai.EssayScorer,
	commentator ai.Commentator,
	publisher events.EventPublisher,
	logger *slog.Logger,
	v *validator.Validator,
) SessionService {
	return &sessionService{
		repo:        repo,
		cache:       cacheService,
		scorer:      scorer,
		commentator: commentator,
		publisher:   publisher,
		logger:      logger,
		validator:   v,
		sessions:    make(map[string]*engine.Session),
	}
}

// ===== SESSION LIFECYCLE =====

func (s *sessionService) Open(ctx context.Context, req *OpenSessionRequest, userID string) (*SessionSnapshot, error) {
	s.logger.Info("Opening session",
		"submission_id", req.SubmissionID,
		"skill_type", req.SkillType,
		"user_id", userID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	// Verify the submission exists and belongs to the caller
	record, err := s.repo.Submission().GetByID(ctx, req.SubmissionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	if record.UserID != userID {
		return nil, NewPermissionError(userID, fmt.Sprint(req.SubmissionID), "submission", "open_session", "not owned by user")
	}

	// Resolve content. Any failure here is fatal to the session: partial
	// results are discarded rather than shown.
	resolved, err := s.resolveSections(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionLoadFailed, err)
	}

	items, sections, questions := engine.Flatten(req.Kind, resolved)

	sess := engine.NewSession(uuid.NewString(), req.SubmissionID, userID, req.SkillType, req.Kind, items, sections, questions)

	// Best-effort reconciliation: losing "already answered" highlighting is
	// preferable to blocking the session.
	if err := s.reconcile(ctx, sess); err != nil {
		s.logger.Warn("Answer reconciliation failed, continuing with blank flags",
			"session_id", sess.ID(),
			"submission_id", req.SubmissionID,
			"error", err)
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	if err := s.publisher.PublishSessionEvent(ctx, events.NewSessionEvent(events.EventSessionOpened, events.SessionOpenedEvent{
		SessionID:     sess.ID(),
		SubmissionID:  req.SubmissionID,
		UserID:        userID,
		SkillType:     req.SkillType,
		QuestionCount: len(items),
	})); err != nil {
		s.logger.Warn("Failed to publish session opened event", "session_id", sess.ID(), "error", err)
	}

	s.logger.Info("Session opened",
		"session_id", sess.ID(),
		"submission_id", req.SubmissionID,
		"question_count", len(items))

	return s.buildSnapshot(sess), nil
}

func (s *sessionService) Get(_ context.Context, sessionID string, userID string) (*SessionSnapshot, error) {
	sess, err := s.session(sessionID, userID, "read")
	if err != nil {
		return nil, err
	}
	return s.buildSnapshot(sess), nil
}

func (s *sessionService) Close(_ context.Context, sessionID string, userID string) error {
	sess, err := s.session(sessionID, userID, "close")
	if err != nil {
		return err
	}

	// Stop the clock and drop the state. In-flight autosaves are abandoned
	// without rollback.
	sess.Close()

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	s.logger.Info("Session closed", "session_id", sessionID, "elapsed_seconds", sess.Elapsed())
	return nil
}

// ===== ANSWER TRACKING =====

// MarkAnswered mirrors the "has an answer" signal into session state for
// progress display. The choice itself is written by the answer widget.
func (s *sessionService) MarkAnswered(_ context.Context, sessionID string, userID string, questionID uint, answered bool) error {
	sess, err := s.session(sessionID, userID, "mark_answered")
	if err != nil {
		return err
	}
	return sess.MarkAnswered(questionID, answered)
}

// SaveEssay echoes the edited content locally, then persists it with
// create-if-absent-else-patch semantics serialized per question index.
// Persistence failures are logged and swallowed: a failed autosave must not
// block further typing.
func (s *sessionService) SaveEssay(ctx context.Context, sessionID string, userID string, index int, content string) error {
	sess, err := s.session(sessionID, userID, "save_essay")
	if err != nil {
		return err
	}
	if sess.Kind() != models.SectionWriting {
		return ErrSessionNotWriting
	}

	// The local echo happens under the same per-index lock as persistence so
	// concurrent saves cannot leave the stored content behind the displayed
	// content.
	unlock := sess.LockEssay(index)
	defer unlock()

	if err := sess.SetEssayContent(index, content); err != nil {
		return err
	}

	if recordID, ok := sess.EssayRecord(index); ok {
		if err := s.repo.Essay().Patch(ctx, recordID, repositories.EssayPatch{Content: &content}); err != nil {
			s.logger.Warn("Essay autosave patch failed",
				"session_id", sessionID,
				"essay_index", index,
				"record_id", recordID,
				"error", err)
			return nil
		}
	} else {
		items := sess.Items()
		essay := &models.PersistedEssay{
			SubmissionID:  sess.SubmissionID(),
			SectionItemID: items[index].ID,
			Content:       content,
		}
		if err := s.repo.Essay().Create(ctx, essay); err != nil {
			s.logger.Warn("Essay autosave create failed",
				"session_id", sessionID,
				"essay_index", index,
				"error", err)
			return nil
		}
		sess.BindEssayRecord(index, essay.ID)
	}

	return sess.MarkEssaySaved(index, strings.TrimSpace(content) != "")
}

// ===== HELPERS =====

func (s *sessionService) session(sessionID string, userID string, action string) (*engine.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.UserID() != userID {
		return nil, NewPermissionError(userID, sessionID, "session", action, "not owned by user")
	}
	return sess, nil
}

func (s *sessionService) buildSnapshot(sess *engine.Session) *SessionSnapshot {
	return &SessionSnapshot{
		SessionID:      sess.ID(),
		SubmissionID:   sess.SubmissionID(),
		SkillType:      sess.Skill(),
		Kind:           sess.Kind(),
		Status:         sess.Status(),
		ElapsedSeconds: sess.Elapsed(),
		Questions:      sess.Items(),
		Sections:       sess.Sections(),
	}
}

// resolveSections fetches active section items, then fans out the per-section
// question fetches and joins them. Sections keep the input id order no matter
// which fetch resolved first.
func (s *sessionService) resolveSections(ctx context.Context, req *OpenSessionRequest) ([]engine.ResolvedSection, error) {
	fetched, err := s.repo.Catalog().GetActiveSectionItems(ctx, req.SectionItemIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch section items: %w", err)
	}

	byID := make(map[uint]*models.SectionItem, len(fetched))
	for _, item := range fetched {
		byID[item.ID] = item
	}

	// Inactive and missing ids are omitted, not errors
	resolved := make([]engine.ResolvedSection, 0, len(req.SectionItemIDs))
	for _, id := range req.SectionItemIDs {
		if item, ok := byID[id]; ok {
			resolved = append(resolved, engine.ResolvedSection{Item: *item})
		}
	}

	if req.Kind == models.SectionWriting {
		return resolved, nil
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		fetchErr error
	)
	for i := range resolved {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			questions, err := s.questionsForSection(ctx, resolved[i].Item.ID)
			if err != nil {
				errOnce.Do(func() { fetchErr = err })
				return
			}
			qs := make([]models.Question, len(questions))
			for j, q := range questions {
				qs[j] = *q
			}
			resolved[i].Questions = qs
		}(i)
	}
	wg.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}

	return resolved, nil
}

func (s *sessionService) questionsForSection(ctx context.Context, sectionItemID uint) ([]*models.Question, error) {
	key := fmt.Sprintf("section_questions:%d", sectionItemID)

	var cached []*models.Question
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Debug("Question cache read failed", "section_item_id", sectionItemID, "error", err)
	}

	questions, err := s.repo.Catalog().GetActiveQuestions(ctx, sectionItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch questions for section %d: %w", sectionItemID, err)
	}

	if err := s.cache.Set(ctx, key, questions, questionCacheTTL); err != nil {
		s.logger.Debug("Question cache write failed", "section_item_id", sectionItemID, "error", err)
	}

	return questions, nil
}

// reconcile merges previously persisted answers into the freshly resolved
// question sequence. Running it twice against the same persisted state yields
// the same flags.
func (s *sessionService) reconcile(ctx context.Context, sess *engine.Session) error {
	if sess.Kind() == models.SectionWriting {
		return s.reconcileEssays(ctx, sess)
	}
	return s.reconcileAnswers(ctx, sess)
}

func (s *sessionService) reconcileAnswers(ctx context.Context, sess *engine.Session) error {
	answers, err := s.repo.Answer().GetBySubmission(ctx, sess.SubmissionID(), sess.QuestionIDs())
	if err != nil {
		return fmt.Errorf("failed to fetch persisted answers: %w", err)
	}

	// Row presence alone marks the question answered; the chosen value is
	// only needed at scoring time.
	for _, a := range answers {
		if err := sess.MarkAnswered(a.QuestionID, true); err != nil {
			s.logger.Warn("Persisted answer references unknown question",
				"submission_id", sess.SubmissionID(),
				"question_id", a.QuestionID)
		}
	}
	return nil
}

func (s *sessionService) reconcileEssays(ctx context.Context, sess *engine.Session) error {
	essays, err := s.repo.Essay().GetBySubmission(ctx, sess.SubmissionID(), sess.QuestionIDs())
	if err != nil {
		return fmt.Errorf("failed to fetch persisted essays: %w", err)
	}

	indexByItem := make(map[uint]int)
	for i, item := range sess.Items() {
		indexByItem[item.ID] = i
	}

	for _, essay := range essays {
		index, ok := indexByItem[essay.SectionItemID]
		if !ok {
			s.logger.Warn("Persisted essay references unknown section item",
				"submission_id", sess.SubmissionID(),
				"section_item_id", essay.SectionItemID)
			continue
		}
		// Capture the record id so later edits patch instead of recreating
		sess.BindEssayRecord(index, essay.ID)
		if err := sess.SetEssayContent(index, essay.Content); err != nil {
			return err
		}
		if err := sess.MarkEssaySaved(index, strings.TrimSpace(essay.Content) != ""); err != nil {
			return err
		}
	}
	return nil
}
