package engine

import (
	"sync"
	"testing"

	"github.com/lingoreach/exam-session-service/internal/models"
	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func newObjectiveSession(t *testing.T) *Session {
	t.Helper()

	sections := []ResolvedSection{
		{
			Item: models.SectionItem{ID: 10, ContentRef: strPtr("audio/clip-1.mp3")},
			Questions: []models.Question{
				question(1, 11, 11, 12),
				question(2, 22, 21, 22),
			},
		},
		{
			Item: models.SectionItem{ID: 20, ContentRef: strPtr("audio/clip-2.mp3")},
			Questions: []models.Question{
				question(3, 31, 31, 32),
			},
		},
	}

	items, descriptors, questions := Flatten(models.SectionObjective, sections)
	sess := NewSession("sess-1", 42, "user-1", models.SkillListening, models.SectionObjective, items, descriptors, questions)
	t.Cleanup(sess.Close)
	return sess
}

func newWritingSession(t *testing.T) *Session {
	t.Helper()

	min, max := 120, 150
	sections := []ResolvedSection{
		{Item: models.SectionItem{ID: 100, Topic: strPtr("Describe your hometown"), MinWords: &min, MaxWords: &max}},
		{Item: models.SectionItem{ID: 200, Topic: strPtr("Advantages of remote work")}},
	}

	items, descriptors, questions := Flatten(models.SectionWriting, sections)
	sess := NewSession("sess-2", 43, "user-1", models.SkillWriting, models.SectionWriting, items, descriptors, questions)
	t.Cleanup(sess.Close)
	return sess
}

func TestFlatten_SerialNumbers(t *testing.T) {
	sess := newObjectiveSession(t)

	items := sess.Items()
	assert.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, i+1, item.SerialNumber, "serials must be contiguous and 1-based")
	}

	sections := sess.Sections()
	assert.Len(t, sections, 2)
	assert.Equal(t, 1, sections[0].StartSerial)
	assert.Equal(t, 2, sections[0].EndSerial)
	assert.Equal(t, 3, sections[1].StartSerial)
	assert.Equal(t, 3, sections[1].EndSerial)
	assert.Equal(t, "audio/clip-1.mp3", sections[0].ContentRef)
}

func TestFlatten_WritingUsesSectionItemsAsPrompts(t *testing.T) {
	sess := newWritingSession(t)

	items := sess.Items()
	assert.Len(t, items, 2)
	assert.Equal(t, uint(100), items[0].ID)
	assert.Equal(t, "Describe your hometown", items[0].Topic)
	assert.Equal(t, 120, items[0].MinWords)
	assert.Equal(t, 150, items[0].MaxWords)
	assert.Equal(t, 2, items[1].SerialNumber)
}

func TestSession_MarkAnswered(t *testing.T) {
	sess := newObjectiveSession(t)

	assert.NoError(t, sess.MarkAnswered(2, true))
	items := sess.Items()
	assert.True(t, items[1].IsAnswered)
	assert.False(t, items[0].IsAnswered)

	assert.NoError(t, sess.MarkAnswered(2, false))
	assert.False(t, sess.Items()[1].IsAnswered)

	assert.ErrorIs(t, sess.MarkAnswered(999, true), ErrQuestionUnknown)
}

func TestSession_EssayContentAndRecords(t *testing.T) {
	sess := newWritingSession(t)

	assert.NoError(t, sess.SetEssayContent(0, "draft one"))
	assert.Equal(t, "draft one", sess.Items()[0].Content)

	assert.ErrorIs(t, sess.SetEssayContent(5, "x"), ErrEssayIndexOutOfRange)

	_, ok := sess.EssayRecord(0)
	assert.False(t, ok)

	sess.BindEssayRecord(0, 777)
	id, ok := sess.EssayRecord(0)
	assert.True(t, ok)
	assert.Equal(t, uint(777), id)

	assert.NoError(t, sess.MarkEssaySaved(0, true))
	assert.True(t, sess.Items()[0].IsAnswered)

	// Whitespace-only content clears the flag again
	assert.NoError(t, sess.MarkEssaySaved(0, false))
	assert.False(t, sess.Items()[0].IsAnswered)
}

func TestSession_LockEssaySerializes(t *testing.T) {
	sess := newWritingSession(t)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	unlock := sess.LockEssay(0)

	wg.Add(1)
	go func() {
		defer wg.Done()
		u := sess.LockEssay(0)
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		u()
	}()

	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	unlock()
	wg.Wait()

	assert.Equal(t, []int{1, 2}, order)
}

func TestSession_SubmitStateMachine(t *testing.T) {
	sess := newObjectiveSession(t)

	// Confirm without request is rejected
	assert.ErrorIs(t, sess.BeginSubmit(), ErrSubmitNotRequested)

	assert.NoError(t, sess.RequestSubmit())
	assert.Equal(t, StatusConfirmPending, sess.Status())
	assert.ErrorIs(t, sess.RequestSubmit(), ErrSubmitAlreadyPending)

	// Cancel goes back to idle, then re-request
	assert.NoError(t, sess.CancelSubmit())
	assert.Equal(t, StatusIdle, sess.Status())
	assert.ErrorIs(t, sess.CancelSubmit(), ErrSubmitNotRequested)
	assert.NoError(t, sess.RequestSubmit())

	assert.NoError(t, sess.BeginSubmit())
	assert.Equal(t, StatusSubmitting, sess.Status())

	// Second confirm while in flight is rejected
	assert.ErrorIs(t, sess.BeginSubmit(), ErrSubmitInFlight)
	assert.ErrorIs(t, sess.RequestSubmit(), ErrSubmitInFlight)

	result := &ScoreResult{Score: 70, TotalQuestions: 3, CorrectAnswers: 2}
	assert.NoError(t, sess.CompleteSubmit(result))
	assert.Equal(t, StatusSubmitted, sess.Status())

	got, err := sess.Result()
	assert.NoError(t, err)
	assert.Equal(t, 70.0, got.Score)

	// Terminal state rejects everything
	assert.ErrorIs(t, sess.RequestSubmit(), ErrAlreadySubmitted)
	assert.ErrorIs(t, sess.BeginSubmit(), ErrAlreadySubmitted)
}

func TestSession_SubmitFailureIsRetryable(t *testing.T) {
	sess := newObjectiveSession(t)

	assert.NoError(t, sess.RequestSubmit())
	assert.NoError(t, sess.BeginSubmit())
	assert.NoError(t, sess.FailSubmit())
	assert.Equal(t, StatusError, sess.Status())

	_, err := sess.Result()
	assert.ErrorIs(t, err, ErrResultNotReady)

	// Retry re-arms the confirmation step
	assert.ErrorIs(t, sess.BeginSubmit(), ErrSubmitNotRequested)
	assert.NoError(t, sess.RetrySubmit())
	assert.Equal(t, StatusConfirmPending, sess.Status())

	assert.NoError(t, sess.BeginSubmit())
	assert.NoError(t, sess.CompleteSubmit(&ScoreResult{Score: 100}))
	assert.Equal(t, StatusSubmitted, sess.Status())
}

func TestSession_BeginSubmitSingleFlight(t *testing.T) {
	sess := newObjectiveSession(t)
	assert.NoError(t, sess.RequestSubmit())

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sess.BeginSubmit(); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one confirm may win")
}

func TestClock_StopIsIdempotent(t *testing.T) {
	c := NewClock()
	assert.GreaterOrEqual(t, c.Elapsed(), 0)
	c.Stop()
	c.Stop()
}
