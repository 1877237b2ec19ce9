package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lingoreach/exam-session-service/internal/ai"
	"github.com/lingoreach/exam-session-service/internal/cache"
	"github.com/lingoreach/exam-session-service/internal/engine"
	"github.com/lingoreach/exam-session-service/internal/events"
	"github.com/lingoreach/exam-session-service/internal/models"
	"github.com/lingoreach/exam-session-service/internal/repositories"
	"github.com/lingoreach/exam-session-service/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// ===== MOCKS =====

type MockCatalogRepository struct {
	mock.Mock
}

func (m *MockCatalogRepository) GetActiveSectionItems(ctx context.Context, ids []uint) ([]*models.SectionItem, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]*models.SectionItem), args.Error(1)
}

func (m *MockCatalogRepository) GetActiveQuestions(ctx context.Context, sectionItemID uint) ([]*models.Question, error) {
	args := m.Called(ctx, sectionItemID)
	return args.Get(0).([]*models.Question), args.Error(1)
}

type MockSubmissionRepository struct {
	mock.Mock
}

func (m *MockSubmissionRepository) GetByID(ctx context.Context, id uint) (*models.SubmissionRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubmissionRecord), args.Error(1)
}

func (m *MockSubmissionRepository) GetByIDWithDetails(ctx context.Context, id uint) (*models.SubmissionRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubmissionRecord), args.Error(1)
}

func (m *MockSubmissionRepository) Patch(ctx context.Context, id uint, patch repositories.SubmissionPatch) error {
	args := m.Called(ctx, id, patch)
	return args.Error(0)
}

type MockAnswerRepository struct {
	mock.Mock
}

func (m *MockAnswerRepository) GetBySubmission(ctx context.Context, submissionID uint, questionIDs []uint) ([]*models.PersistedAnswer, error) {
	args := m.Called(ctx, submissionID, questionIDs)
	return args.Get(0).([]*models.PersistedAnswer), args.Error(1)
}

type MockEssayRepository struct {
	mock.Mock
}

func (m *MockEssayRepository) GetBySubmission(ctx context.Context, submissionID uint, sectionItemIDs []uint) ([]*models.PersistedEssay, error) {
	args := m.Called(ctx, submissionID, sectionItemIDs)
	return args.Get(0).([]*models.PersistedEssay), args.Error(1)
}

func (m *MockEssayRepository) Create(ctx context.Context, essay *models.PersistedEssay) error {
	args := m.Called(ctx, essay)
	return args.Error(0)
}

func (m *MockEssayRepository) Patch(ctx context.Context, id uint, patch repositories.EssayPatch) error {
	args := m.Called(ctx, id, patch)
	return args.Error(0)
}

type mockRepository struct {
	catalog    *MockCatalogRepository
	submission *MockSubmissionRepository
	answer     *MockAnswerRepository
	essay      *MockEssayRepository
}

func (m *mockRepository) Catalog() repositories.CatalogRepository       { return m.catalog }
func (m *mockRepository) Submission() repositories.SubmissionRepository { return m.submission }
func (m *mockRepository) Answer() repositories.AnswerRepository         { return m.answer }
func (m *mockRepository) Essay() repositories.EssayRepository           { return m.essay }

type MockEssayScorer struct {
	mock.Mock
}

func (m *MockEssayScorer) Score(ctx context.Context, content, topic string) (*ai.Evaluation, error) {
	args := m.Called(ctx, content, topic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.Evaluation), args.Error(1)
}

type MockCommentator struct {
	mock.Mock
}

func (m *MockCommentator) Commentary(ctx context.Context, req *ai.FeedbackRequest) (*ai.Commentary, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.Commentary), args.Error(1)
}

// missCache always misses. Catalog reads then hit the repository directly.
type missCache struct{}

func (missCache) Set(_ context.Context, _ string, _ interface{}, _ time.Duration) error { return nil }
func (missCache) Get(_ context.Context, _ string, _ interface{}) error                  { return cache.ErrCacheMiss }
func (missCache) Delete(_ context.Context, _ string) error                              { return nil }
func (missCache) DeletePattern(_ context.Context, _ string) error                       { return nil }

// ===== FIXTURES =====

type fixture struct {
	repo        *mockRepository
	scorer      *MockEssayScorer
	commentator *MockCommentator
	publisher   *events.MockEventPublisher
	service     SessionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	repo := &mockRepository{
		catalog:    &MockCatalogRepository{},
		submission: &MockSubmissionRepository{},
		answer:     &MockAnswerRepository{},
		essay:      &MockEssayRepository{},
	}
	scorer := &MockEssayScorer{}
	commentator := &MockCommentator{}
	publisher := events.NewMockEventPublisher(logger)

	service := NewSessionService(repo, missCache{}, scorer, commentator, publisher, logger, validator.New())

	return &fixture{
		repo:        repo,
		scorer:      scorer,
		commentator: commentator,
		publisher:   publisher,
		service:     service,
	}
}

func strPtr(s string) *string { return &s }

func objectiveQuestion(id, sectionID, correctOption uint, optionIDs ...uint) *models.Question {
	q := &models.Question{ID: id, SectionItemID: sectionID, Content: "question"}
	for _, oid := range optionIDs {
		q.Options = append(q.Options, models.AnswerOption{
			ID:         oid,
			QuestionID: id,
			Content:    "option",
			IsCorrect:  oid == correctOption,
		})
	}
	return q
}

// setupObjective wires a two-section listening test with 3 questions total.
func (f *fixture) setupObjective(submissionID uint, userID string) {
	f.repo.submission.On("GetByID", mock.Anything, submissionID).
		Return(&models.SubmissionRecord{ID: submissionID, UserID: userID, SkillType: models.SkillListening}, nil)

	f.repo.catalog.On("GetActiveSectionItems", mock.Anything, []uint{10, 20}).
		Return([]*models.SectionItem{
			{ID: 10, SkillType: models.SkillListening, Kind: models.SectionObjective, ContentRef: strPtr("audio/1.mp3")},
			{ID: 20, SkillType: models.SkillListening, Kind: models.SectionObjective, ContentRef: strPtr("audio/2.mp3")},
		}, nil)

	f.repo.catalog.On("GetActiveQuestions", mock.Anything, uint(10)).
		Return([]*models.Question{
			objectiveQuestion(1, 10, 11, 11, 12),
			objectiveQuestion(2, 10, 22, 21, 22),
		}, nil)
	f.repo.catalog.On("GetActiveQuestions", mock.Anything, uint(20)).
		Return([]*models.Question{
			objectiveQuestion(3, 20, 31, 31, 32),
		}, nil)
}

func (f *fixture) openObjective(t *testing.T, submissionID uint, userID string, persisted []*models.PersistedAnswer) *SessionSnapshot {
	t.Helper()

	f.setupObjective(submissionID, userID)
	// One call for reconciliation at open; scoring registers its own
	f.repo.answer.On("GetBySubmission", mock.Anything, submissionID, mock.Anything).
		Return(persisted, nil).Once()

	snapshot, err := f.service.Open(context.Background(), &OpenSessionRequest{
		SubmissionID:   submissionID,
		SkillType:      models.SkillListening,
		Kind:           models.SectionObjective,
		SectionItemIDs: []uint{10, 20},
	}, userID)
	assert.NoError(t, err)
	return snapshot
}

// ===== OPEN =====

func TestSessionService_Open_SerialsAreContiguous(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openObjective(t, 42, "user-1", nil)

	assert.Len(t, snapshot.Questions, 3)
	for i, q := range snapshot.Questions {
		assert.Equal(t, i+1, q.SerialNumber)
	}
	assert.Equal(t, 1, snapshot.Sections[0].StartSerial)
	assert.Equal(t, 2, snapshot.Sections[0].EndSerial)
	assert.Equal(t, 3, snapshot.Sections[1].StartSerial)
	assert.Equal(t, 3, snapshot.Sections[1].EndSerial)

	published := f.publisher.GetPublishedEvents()
	assert.Len(t, published, 1)
	assert.Equal(t, events.EventSessionOpened, published[0].Type)
}

func TestSessionService_Open_ValidatesRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Open(context.Background(), &OpenSessionRequest{
		SubmissionID:   1,
		SkillType:      "karaoke",
		Kind:           models.SectionObjective,
		SectionItemIDs: []uint{1},
	}, "user-1")

	assert.Error(t, err)
	var ve ValidationErrors
	assert.ErrorAs(t, err, &ve)
}

func TestSessionService_Open_RejectsForeignSubmission(t *testing.T) {
	f := newFixture(t)
	f.repo.submission.On("GetByID", mock.Anything, uint(42)).
		Return(&models.SubmissionRecord{ID: 42, UserID: "someone-else"}, nil)

	_, err := f.service.Open(context.Background(), &OpenSessionRequest{
		SubmissionID:   42,
		SkillType:      models.SkillListening,
		Kind:           models.SectionObjective,
		SectionItemIDs: []uint{10},
	}, "user-1")

	var pe *PermissionError
	assert.ErrorAs(t, err, &pe)
}

func TestSessionService_Open_SubmissionNotFound(t *testing.T) {
	f := newFixture(t)
	f.repo.submission.On("GetByID", mock.Anything, uint(42)).
		Return(nil, gorm.ErrRecordNotFound)

	_, err := f.service.Open(context.Background(), &OpenSessionRequest{
		SubmissionID:   42,
		SkillType:      models.SkillListening,
		Kind:           models.SectionObjective,
		SectionItemIDs: []uint{10},
	}, "user-1")

	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestSessionService_Open_QuestionFetchFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.repo.submission.On("GetByID", mock.Anything, uint(42)).
		Return(&models.SubmissionRecord{ID: 42, UserID: "user-1"}, nil)
	f.repo.catalog.On("GetActiveSectionItems", mock.Anything, []uint{10, 20}).
		Return([]*models.SectionItem{
			{ID: 10, Kind: models.SectionObjective},
			{ID: 20, Kind: models.SectionObjective},
		}, nil)
	f.repo.catalog.On("GetActiveQuestions", mock.Anything, uint(10)).
		Return([]*models.Question{objectiveQuestion(1, 10, 11, 11)}, nil)
	f.repo.catalog.On("GetActiveQuestions", mock.Anything, uint(20)).
		Return([]*models.Question(nil), errors.New("catalog down"))

	_, err := f.service.Open(context.Background(), &OpenSessionRequest{
		SubmissionID:   42,
		SkillType:      models.SkillListening,
		Kind:           models.SectionObjective,
		SectionItemIDs: []uint{10, 20},
	}, "user-1")

	assert.ErrorIs(t, err, ErrSessionLoadFailed)
}

func TestSessionService_Open_InactiveSectionsAreOmitted(t *testing.T) {
	f := newFixture(t)
	f.repo.submission.On("GetByID", mock.Anything, uint(42)).
		Return(&models.SubmissionRecord{ID: 42, UserID: "user-1"}, nil)
	// Only section 20 comes back active; serials must stay gap-free
	f.repo.catalog.On("GetActiveSectionItems", mock.Anything, []uint{10, 20}).
		Return([]*models.SectionItem{{ID: 20, Kind: models.SectionObjective}}, nil)
	f.repo.catalog.On("GetActiveQuestions", mock.Anything, uint(20)).
		Return([]*models.Question{objectiveQuestion(3, 20, 31, 31, 32)}, nil)
	f.repo.answer.On("GetBySubmission", mock.Anything, uint(42), mock.Anything).
		Return([]*models.PersistedAnswer(nil), nil)

	snapshot, err := f.service.Open(context.Background(), &OpenSessionRequest{
		SubmissionID:   42,
		SkillType:      models.SkillListening,
		Kind:           models.SectionObjective,
		SectionItemIDs: []uint{10, 20},
	}, "user-1")

	assert.NoError(t, err)
	assert.Len(t, snapshot.Questions, 1)
	assert.Equal(t, 1, snapshot.Questions[0].SerialNumber)
}

// ===== RECONCILIATION =====

func TestSessionService_Open_ReconcilesPersistedAnswers(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openObjective(t, 42, "user-1", []*models.PersistedAnswer{
		{SubmissionID: 42, QuestionID: 1, AnswerOptionID: 11},
		{SubmissionID: 42, QuestionID: 3, AnswerOptionID: 32},
	})

	assert.True(t, snapshot.Questions[0].IsAnswered)
	assert.False(t, snapshot.Questions[1].IsAnswered)
	assert.True(t, snapshot.Questions[2].IsAnswered)
}

func TestSessionService_Open_ReconcileIsIdempotent(t *testing.T) {
	persisted := []*models.PersistedAnswer{
		{SubmissionID: 42, QuestionID: 2, AnswerOptionID: 21},
	}

	f1 := newFixture(t)
	first := f1.openObjective(t, 42, "user-1", persisted)

	f2 := newFixture(t)
	second := f2.openObjective(t, 42, "user-1", persisted)

	assert.Equal(t, first.Questions[0].IsAnswered, second.Questions[0].IsAnswered)
	assert.Equal(t, first.Questions[1].IsAnswered, second.Questions[1].IsAnswered)
	assert.True(t, second.Questions[1].IsAnswered)
}

func TestSessionService_Open_ReconcileFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.setupObjective(42, "user-1")
	f.repo.answer.On("GetBySubmission", mock.Anything, uint(42), mock.Anything).
		Return([]*models.PersistedAnswer(nil), errors.New("answers table unavailable"))

	snapshot, err := f.service.Open(context.Background(), &OpenSessionRequest{
		SubmissionID:   42,
		SkillType:      models.SkillListening,
		Kind:           models.SectionObjective,
		SectionItemIDs: []uint{10, 20},
	}, "user-1")

	assert.NoError(t, err)
	for _, q := range snapshot.Questions {
		assert.False(t, q.IsAnswered)
	}
}

// ===== ANSWER TRACKING =====

func TestSessionService_MarkAnswered(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openObjective(t, 42, "user-1", nil)
	ctx := context.Background()

	assert.NoError(t, f.service.MarkAnswered(ctx, snapshot.SessionID, "user-1", 2, true))

	got, err := f.service.Get(ctx, snapshot.SessionID, "user-1")
	assert.NoError(t, err)
	assert.True(t, got.Questions[1].IsAnswered)

	// Unknown question
	assert.ErrorIs(t, f.service.MarkAnswered(ctx, snapshot.SessionID, "user-1", 999, true), engine.ErrQuestionUnknown)

	// Foreign user
	err = f.service.MarkAnswered(ctx, snapshot.SessionID, "intruder", 2, true)
	var pe *PermissionError
	assert.ErrorAs(t, err, &pe)
}

// ===== ESSAY AUTOSAVE =====

func (f *fixture) openWriting(t *testing.T, submissionID uint, userID string, persisted []*models.PersistedEssay) *SessionSnapshot {
	t.Helper()

	f.repo.submission.On("GetByID", mock.Anything, submissionID).
		Return(&models.SubmissionRecord{ID: submissionID, UserID: userID, SkillType: models.SkillWriting}, nil)
	f.repo.catalog.On("GetActiveSectionItems", mock.Anything, []uint{100, 200}).
		Return([]*models.SectionItem{
			{ID: 100, SkillType: models.SkillWriting, Kind: models.SectionWriting, Topic: strPtr("Describe your hometown")},
			{ID: 200, SkillType: models.SkillWriting, Kind: models.SectionWriting, Topic: strPtr("Remote work")},
		}, nil)
	f.repo.essay.On("GetBySubmission", mock.Anything, submissionID, mock.Anything).
		Return(persisted, nil)

	snapshot, err := f.service.Open(context.Background(), &OpenSessionRequest{
		SubmissionID:   submissionID,
		SkillType:      models.SkillWriting,
		Kind:           models.SectionWriting,
		SectionItemIDs: []uint{100, 200},
	}, userID)
	assert.NoError(t, err)
	return snapshot
}

func TestSessionService_SaveEssay_CreateThenPatch(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openWriting(t, 43, "user-1", nil)
	ctx := context.Background()

	// First save creates the record
	f.repo.essay.On("Create", mock.Anything, mock.MatchedBy(func(e *models.PersistedEssay) bool {
		return e.SubmissionID == 43 && e.SectionItemID == 100
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.PersistedEssay).ID = 777
	}).Return(nil).Once()

	assert.NoError(t, f.service.SaveEssay(ctx, snapshot.SessionID, "user-1", 0, "first draft"))

	// Subsequent saves patch the same record
	f.repo.essay.On("Patch", mock.Anything, uint(777), mock.Anything).Return(nil).Twice()
	assert.NoError(t, f.service.SaveEssay(ctx, snapshot.SessionID, "user-1", 0, "second draft"))
	assert.NoError(t, f.service.SaveEssay(ctx, snapshot.SessionID, "user-1", 0, "third draft"))

	f.repo.essay.AssertNumberOfCalls(t, "Create", 1)
	f.repo.essay.AssertNumberOfCalls(t, "Patch", 2)

	got, err := f.service.Get(ctx, snapshot.SessionID, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, "third draft", got.Questions[0].Content)
	assert.True(t, got.Questions[0].IsAnswered)
}

func TestSessionService_SaveEssay_ReloadPatchesExistingRecord(t *testing.T) {
	f := newFixture(t)
	// A previous session already created record 555 for prompt 100
	snapshot := f.openWriting(t, 43, "user-1", []*models.PersistedEssay{
		{ID: 555, SubmissionID: 43, SectionItemID: 100, Content: "saved before reload"},
	})

	assert.Equal(t, "saved before reload", snapshot.Questions[0].Content)
	assert.True(t, snapshot.Questions[0].IsAnswered)

	f.repo.essay.On("Patch", mock.Anything, uint(555), mock.Anything).Return(nil).Once()
	assert.NoError(t, f.service.SaveEssay(context.Background(), snapshot.SessionID, "user-1", 0, "edited after reload"))

	f.repo.essay.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSessionService_SaveEssay_BlankContentClearsAnsweredFlag(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openWriting(t, 43, "user-1", []*models.PersistedEssay{
		{ID: 555, SubmissionID: 43, SectionItemID: 100, Content: "something"},
	})
	ctx := context.Background()

	f.repo.essay.On("Patch", mock.Anything, uint(555), mock.Anything).Return(nil)
	assert.NoError(t, f.service.SaveEssay(ctx, snapshot.SessionID, "user-1", 0, "   "))

	got, err := f.service.Get(ctx, snapshot.SessionID, "user-1")
	assert.NoError(t, err)
	assert.False(t, got.Questions[0].IsAnswered)
}

func TestSessionService_SaveEssay_PersistenceFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openWriting(t, 43, "user-1", nil)
	ctx := context.Background()

	f.repo.essay.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	// Autosave failure must not surface to the editor
	assert.NoError(t, f.service.SaveEssay(ctx, snapshot.SessionID, "user-1", 0, "draft"))

	// Local echo still happened
	got, err := f.service.Get(ctx, snapshot.SessionID, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, "draft", got.Questions[0].Content)
}

func TestSessionService_SaveEssay_ConcurrentSavesKeepStoreAndEchoInStep(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openWriting(t, 43, "user-1", []*models.PersistedEssay{
		{ID: 555, SubmissionID: 43, SectionItemID: 100, Content: ""},
	})
	ctx := context.Background()

	// Capture patch order; echo and persistence share the per-index lock, so
	// the last persisted content must match the displayed content
	var mu sync.Mutex
	var patched []string
	f.repo.essay.On("Patch", mock.Anything, uint(555), mock.Anything).
		Run(func(args mock.Arguments) {
			p := args.Get(2).(repositories.EssayPatch)
			mu.Lock()
			patched = append(patched, *p.Content)
			mu.Unlock()
		}).Return(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := "draft " + string(rune('a'+i))
			assert.NoError(t, f.service.SaveEssay(ctx, snapshot.SessionID, "user-1", 0, content))
		}(i)
	}
	wg.Wait()

	got, err := f.service.Get(ctx, snapshot.SessionID, "user-1")
	assert.NoError(t, err)
	assert.Len(t, patched, 10)
	assert.Equal(t, patched[len(patched)-1], got.Questions[0].Content)
}

func TestSessionService_SaveEssay_RejectsObjectiveSession(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openObjective(t, 42, "user-1", nil)

	err := f.service.SaveEssay(context.Background(), snapshot.SessionID, "user-1", 0, "text")
	assert.ErrorIs(t, err, ErrSessionNotWriting)
}

// ===== OBJECTIVE SUBMIT =====

func TestSessionService_ConfirmSubmit_ObjectiveScore(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openObjective(t, 42, "user-1", nil)
	ctx := context.Background()

	// 2 of 3 correct: q1 right, q2 wrong, q3 right
	f.repo.answer.On("GetBySubmission", mock.Anything, uint(42), mock.Anything).
		Return([]*models.PersistedAnswer{
			{QuestionID: 1, AnswerOptionID: 11},
			{QuestionID: 2, AnswerOptionID: 21},
			{QuestionID: 3, AnswerOptionID: 31},
		}, nil)
	f.commentator.On("Commentary", mock.Anything, mock.MatchedBy(func(req *ai.FeedbackRequest) bool {
		return len(req.Listening) == 3 && len(req.Writing) == 0
	})).Return(&ai.Commentary{
		Feedback:       "Solid listening comprehension",
		Strengths:      []string{"detail questions"},
		AreasToImprove: []string{"inference"},
	}, nil)
	f.repo.submission.On("Patch", mock.Anything, uint(42), mock.MatchedBy(func(p repositories.SubmissionPatch) bool {
		return p.Score != nil && p.Completed != nil && *p.Completed && p.Comment != nil && p.TimeSpent != nil
	})).Return(nil).Once()

	assert.NoError(t, f.service.RequestSubmit(ctx, snapshot.SessionID, "user-1"))
	result, err := f.service.ConfirmSubmit(ctx, snapshot.SessionID, "user-1")

	assert.NoError(t, err)
	assert.Equal(t, 3, result.TotalQuestions)
	assert.Equal(t, 2, result.CorrectAnswers)
	assert.InDelta(t, 66.666, result.Score, 0.001)
	assert.Equal(t, "Solid listening comprehension", result.Comment)

	// Finalization is a single submission patch
	f.repo.submission.AssertNumberOfCalls(t, "Patch", 1)

	// Result stays readable afterwards
	again, err := f.service.Result(ctx, snapshot.SessionID, "user-1")
	assert.NoError(t, err)
	assert.InDelta(t, result.Score, again.Score, 0.0001)
}

func TestSessionService_ConfirmSubmit_SevenOfTen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.submission.On("GetByID", mock.Anything, uint(42)).
		Return(&models.SubmissionRecord{ID: 42, UserID: "user-1"}, nil)
	f.repo.catalog.On("GetActiveSectionItems", mock.Anything, []uint{10}).
		Return([]*models.SectionItem{{ID: 10, Kind: models.SectionObjective}}, nil)

	questions := make([]*models.Question, 10)
	answers := make([]*models.PersistedAnswer, 10)
	for i := 0; i < 10; i++ {
		qid := uint(i + 1)
		right := qid * 10
		wrong := qid*10 + 1
		questions[i] = objectiveQuestion(qid, 10, right, right, wrong)
		chosen := right
		if i >= 7 {
			chosen = wrong
		}
		answers[i] = &models.PersistedAnswer{QuestionID: qid, AnswerOptionID: chosen}
	}
	f.repo.catalog.On("GetActiveQuestions", mock.Anything, uint(10)).Return(questions, nil)
	f.repo.answer.On("GetBySubmission", mock.Anything, uint(42), mock.Anything).Return(answers, nil)
	f.commentator.On("Commentary", mock.Anything, mock.Anything).
		Return(&ai.Commentary{Feedback: "ok"}, nil)
	f.repo.submission.On("Patch", mock.Anything, uint(42), mock.Anything).Return(nil)

	snapshot, err := f.service.Open(ctx, &OpenSessionRequest{
		SubmissionID:   42,
		SkillType:      models.SkillReading,
		Kind:           models.SectionObjective,
		SectionItemIDs: []uint{10},
	}, "user-1")
	assert.NoError(t, err)

	assert.NoError(t, f.service.RequestSubmit(ctx, snapshot.SessionID, "user-1"))
	result, err := f.service.ConfirmSubmit(ctx, snapshot.SessionID, "user-1")

	assert.NoError(t, err)
	assert.Equal(t, 7, result.CorrectAnswers)
	assert.Equal(t, 70.0, result.Score)
}

func TestSessionService_ConfirmSubmit_DoubleConfirmRunsScoringOnce(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openObjective(t, 42, "user-1", nil)
	ctx := context.Background()

	slowAnswers := f.repo.answer.On("GetBySubmission", mock.Anything, uint(42), mock.Anything).
		Return([]*models.PersistedAnswer{{QuestionID: 1, AnswerOptionID: 11}}, nil)
	slowAnswers.Run(func(mock.Arguments) { time.Sleep(50 * time.Millisecond) })

	f.commentator.On("Commentary", mock.Anything, mock.Anything).
		Return(&ai.Commentary{Feedback: "ok"}, nil)
	f.repo.submission.On("Patch", mock.Anything, uint(42), mock.Anything).Return(nil)

	assert.NoError(t, f.service.RequestSubmit(ctx, snapshot.SessionID, "user-1"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.ConfirmSubmit(ctx, snapshot.SessionID, "user-1")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, engine.ErrSubmitInFlight)
		}
	}
	assert.Equal(t, 1, winners)
	f.repo.submission.AssertNumberOfCalls(t, "Patch", 1)
	f.commentator.AssertNumberOfCalls(t, "Commentary", 1)
}

func TestSessionService_ConfirmSubmit_AlreadyCompletedSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GetByID returns an incomplete record at open, completed at confirm
	f.repo.submission.On("GetByID", mock.Anything, uint(42)).
		Return(&models.SubmissionRecord{ID: 42, UserID: "user-1"}, nil).Once()
	f.repo.catalog.On("GetActiveSectionItems", mock.Anything, []uint{10}).
		Return([]*models.SectionItem{{ID: 10, Kind: models.SectionObjective}}, nil)
	f.repo.catalog.On("GetActiveQuestions", mock.Anything, uint(10)).
		Return([]*models.Question{objectiveQuestion(1, 10, 11, 11, 12)}, nil)
	f.repo.answer.On("GetBySubmission", mock.Anything, uint(42), mock.Anything).
		Return([]*models.PersistedAnswer(nil), nil)

	snapshot, err := f.service.Open(ctx, &OpenSessionRequest{
		SubmissionID:   42,
		SkillType:      models.SkillReading,
		Kind:           models.SectionObjective,
		SectionItemIDs: []uint{10},
	}, "user-1")
	assert.NoError(t, err)

	f.repo.submission.On("GetByID", mock.Anything, uint(42)).
		Return(&models.SubmissionRecord{ID: 42, UserID: "user-1", Completed: true}, nil)

	assert.NoError(t, f.service.RequestSubmit(ctx, snapshot.SessionID, "user-1"))
	_, err = f.service.ConfirmSubmit(ctx, snapshot.SessionID, "user-1")

	assert.ErrorIs(t, err, ErrSubmissionCompleted)
	f.repo.submission.AssertNotCalled(t, "Patch", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionService_ConfirmSubmit_FailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openObjective(t, 42, "user-1", nil)
	ctx := context.Background()

	f.repo.answer.On("GetBySubmission", mock.Anything, uint(42), mock.Anything).
		Return([]*models.PersistedAnswer{{QuestionID: 1, AnswerOptionID: 11}}, nil)

	// First commentary call fails, second succeeds
	f.commentator.On("Commentary", mock.Anything, mock.Anything).
		Return(nil, errors.New("model timeout")).Once()
	f.commentator.On("Commentary", mock.Anything, mock.Anything).
		Return(&ai.Commentary{Feedback: "recovered"}, nil).Once()
	f.repo.submission.On("Patch", mock.Anything, uint(42), mock.Anything).Return(nil)

	assert.NoError(t, f.service.RequestSubmit(ctx, snapshot.SessionID, "user-1"))
	_, err := f.service.ConfirmSubmit(ctx, snapshot.SessionID, "user-1")
	assert.ErrorIs(t, err, ErrScoringFailed)

	got, err := f.service.Get(ctx, snapshot.SessionID, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, engine.StatusError, got.Status)

	assert.NoError(t, f.service.RetrySubmit(ctx, snapshot.SessionID, "user-1"))
	result, err := f.service.ConfirmSubmit(ctx, snapshot.SessionID, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, "recovered", result.Comment)
}

// ===== WRITING SUBMIT =====

func TestSessionService_ConfirmSubmit_WritingAggregatesShares(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openWriting(t, 43, "user-1", []*models.PersistedEssay{
		{ID: 1, SubmissionID: 43, SectionItemID: 100, Content: "essay about my hometown"},
		{ID: 2, SubmissionID: 43, SectionItemID: 200, Content: "essay about remote work"},
	})
	ctx := context.Background()

	f.scorer.On("Score", mock.Anything, "essay about my hometown", "Describe your hometown").
		Return(&ai.Evaluation{Score: 80, Feedback: "good structure"}, nil)
	f.scorer.On("Score", mock.Anything, "essay about remote work", "Remote work").
		Return(&ai.Evaluation{Score: 100, Feedback: "excellent"}, nil)

	// Each essay's record gets its rescaled share of the aggregate, not the
	// raw model score: 80 raw over two prompts is 40, 100 raw is 50
	f.repo.essay.On("Patch", mock.Anything, uint(1), mock.MatchedBy(func(p repositories.EssayPatch) bool {
		return p.Score != nil && *p.Score == 40 && p.Comment != nil
	})).Return(nil).Once()
	f.repo.essay.On("Patch", mock.Anything, uint(2), mock.MatchedBy(func(p repositories.EssayPatch) bool {
		return p.Score != nil && *p.Score == 50
	})).Return(nil).Once()

	f.commentator.On("Commentary", mock.Anything, mock.MatchedBy(func(req *ai.FeedbackRequest) bool {
		return len(req.Writing) == 2
	})).Return(&ai.Commentary{Feedback: "strong writer"}, nil)

	f.repo.submission.On("Patch", mock.Anything, uint(43), mock.MatchedBy(func(p repositories.SubmissionPatch) bool {
		return p.Score != nil && *p.Score > 89.9 && *p.Score < 90.1
	})).Return(nil).Once()

	assert.NoError(t, f.service.RequestSubmit(ctx, snapshot.SessionID, "user-1"))
	result, err := f.service.ConfirmSubmit(ctx, snapshot.SessionID, "user-1")

	assert.NoError(t, err)
	assert.InDelta(t, 90, result.Score, 0.0001)
	assert.Equal(t, 2, result.AnsweredQuestions)
	f.repo.submission.AssertNumberOfCalls(t, "Patch", 1)
}

func TestSessionService_ConfirmSubmit_BlankEssayForfeitsShare(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openWriting(t, 43, "user-1", []*models.PersistedEssay{
		{ID: 1, SubmissionID: 43, SectionItemID: 100, Content: "only essay written"},
		{ID: 2, SubmissionID: 43, SectionItemID: 200, Content: "   "},
	})
	ctx := context.Background()

	f.scorer.On("Score", mock.Anything, "only essay written", mock.Anything).
		Return(&ai.Evaluation{Score: 100, Feedback: "fine"}, nil)
	// The persisted value is the prompt's share, already on the aggregate scale
	f.repo.essay.On("Patch", mock.Anything, uint(1), mock.MatchedBy(func(p repositories.EssayPatch) bool {
		return p.Score != nil && *p.Score == 50
	})).Return(nil).Once()
	f.commentator.On("Commentary", mock.Anything, mock.Anything).
		Return(&ai.Commentary{Feedback: "half done"}, nil)
	f.repo.submission.On("Patch", mock.Anything, uint(43), mock.Anything).Return(nil)

	assert.NoError(t, f.service.RequestSubmit(ctx, snapshot.SessionID, "user-1"))
	result, err := f.service.ConfirmSubmit(ctx, snapshot.SessionID, "user-1")

	assert.NoError(t, err)
	// 100 raw on one of two prompts is 50 aggregate
	assert.InDelta(t, 50, result.Score, 0.0001)
	f.scorer.AssertNumberOfCalls(t, "Score", 1)
}

// ===== CANCEL AND CLOSE =====

func TestSessionService_CancelSubmit(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openObjective(t, 42, "user-1", nil)
	ctx := context.Background()

	assert.NoError(t, f.service.RequestSubmit(ctx, snapshot.SessionID, "user-1"))
	assert.NoError(t, f.service.CancelSubmit(ctx, snapshot.SessionID, "user-1"))

	got, err := f.service.Get(ctx, snapshot.SessionID, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, engine.StatusIdle, got.Status)
}

func TestSessionService_Close(t *testing.T) {
	f := newFixture(t)
	snapshot := f.openObjective(t, 42, "user-1", nil)
	ctx := context.Background()

	assert.NoError(t, f.service.Close(ctx, snapshot.SessionID, "user-1"))

	_, err := f.service.Get(ctx, snapshot.SessionID, "user-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionService_Get_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Get(context.Background(), "no-such-session", "user-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
