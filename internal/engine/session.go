package engine

import (
	"errors"
	"sync"

	"github.com/lingoreach/exam-session-service/internal/models"
)

// Status is the submit lifecycle state of a session.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusConfirmPending Status = "confirm_pending"
	StatusSubmitting     Status = "submitting"
	StatusSubmitted      Status = "submitted"
	StatusError          Status = "error"
)

var (
	ErrSubmitNotRequested   = errors.New("submit has not been requested")
	ErrSubmitAlreadyPending = errors.New("submit confirmation already pending")
	ErrSubmitInFlight       = errors.New("submit already in progress")
	ErrAlreadySubmitted     = errors.New("session already submitted")
	ErrSubmitNotFailed      = errors.New("session has no failed submit to retry")
	ErrResultNotReady       = errors.New("score result not available")
	ErrQuestionUnknown      = errors.New("question does not belong to session")
	ErrEssayIndexOutOfRange = errors.New("essay index out of range")
)

// QuestionItem is the session-local view of one question: its serial number
// across all sections, the answered flag, and for writing prompts the topic
// and the locally-echoed essay content.
type QuestionItem struct {
	ID           uint   `json:"id"`
	SerialNumber int    `json:"serial_number"`
	IsAnswered   bool   `json:"is_answered"`
	Topic        string `json:"topic,omitempty"`
	MinWords     int    `json:"min_words,omitempty"`
	MaxWords     int    `json:"max_words,omitempty"`
	Content      string `json:"content,omitempty"`
}

// SectionDescriptor carries the serial boundaries of one section within the
// flattened question sequence.
type SectionDescriptor struct {
	ID          uint   `json:"id"`
	ContentRef  string `json:"content_ref,omitempty"`
	StartSerial int    `json:"start_serial"`
	EndSerial   int    `json:"end_serial"`
}

// ScoreResult is the ephemeral outcome of one submission attempt, held for
// result display only; what outlives the session is written onto the
// submission record.
type ScoreResult struct {
	TotalQuestions    int      `json:"total_questions"`
	AnsweredQuestions int      `json:"answered_questions"`
	CorrectAnswers    int      `json:"correct_answers"`
	Score             float64  `json:"score"`
	Comment           string   `json:"comment"`
	Strengths         []string `json:"strengths"`
	AreasToImprove    []string `json:"areas_to_improve"`
}

// Session owns all mutable state of one open test-taking session: the
// flattened question sequence, the essay record mapping, the submit state
// machine and the elapsed clock. All access goes through its methods; the
// struct is safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id           string
	submissionID uint
	userID       string
	skill        models.SkillType
	kind         models.SectionKind

	items    []QuestionItem
	sections []SectionDescriptor

	// Catalog snapshot for scoring and feedback assembly, keyed by question id.
	// Objective sections only; immutable after construction.
	questions map[uint]models.Question
	itemIndex map[uint]int // question/section-item id -> items slice index

	// Writing autosave state: local index -> created essay record id, and the
	// per-index locks that serialize create-or-patch.
	essayRecords map[int]uint
	essayLocks   map[int]*sync.Mutex

	status Status
	result *ScoreResult
	clock  *Clock
}

func NewSession(id string, submissionID uint, userID string, skill models.SkillType, kind models.SectionKind,
	items []QuestionItem, sections []SectionDescriptor, questions map[uint]models.Question) *Session {
	itemIndex := make(map[uint]int, len(items))
	for i, it := range items {
		itemIndex[it.ID] = i
	}
	return &Session{
		id:           id,
		submissionID: submissionID,
		userID:       userID,
		skill:        skill,
		kind:         kind,
		items:        items,
		sections:     sections,
		questions:    questions,
		itemIndex:    itemIndex,
		essayRecords: make(map[int]uint),
		essayLocks:   make(map[int]*sync.Mutex),
		status:       StatusIdle,
		clock:        NewClock(),
	}
}

func (s *Session) ID() string               { return s.id }
func (s *Session) SubmissionID() uint       { return s.submissionID }
func (s *Session) UserID() string           { return s.userID }
func (s *Session) Skill() models.SkillType  { return s.skill }
func (s *Session) Kind() models.SectionKind { return s.kind }

// Items returns a copy of the flattened question sequence.
func (s *Session) Items() []QuestionItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QuestionItem, len(s.items))
	copy(out, s.items)
	return out
}

// Sections returns a copy of the per-section descriptors.
func (s *Session) Sections() []SectionDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SectionDescriptor, len(s.sections))
	copy(out, s.sections)
	return out
}

// QuestionIDs returns the question ids in serial order.
func (s *Session) QuestionIDs() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint, len(s.items))
	for i, it := range s.items {
		ids[i] = it.ID
	}
	return ids
}

// Question returns the catalog snapshot for an objective question.
func (s *Session) Question(id uint) (models.Question, bool) {
	q, ok := s.questions[id]
	return q, ok
}

// Questions returns the full catalog snapshot. The map is immutable after
// construction and must not be modified by callers.
func (s *Session) Questions() map[uint]models.Question {
	return s.questions
}

// MarkAnswered flips the answered flag of one question. It is a purely local
// mutation: the choice itself is persisted by the answer widget collaborator.
func (s *Session) MarkAnswered(questionID uint, answered bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.itemIndex[questionID]
	if !ok {
		return ErrQuestionUnknown
	}
	s.items[i].IsAnswered = answered
	return nil
}

// SetEssayContent echoes edited essay text into local state immediately,
// before the autosave round-trip completes.
func (s *Session) SetEssayContent(index int, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.items) {
		return ErrEssayIndexOutOfRange
	}
	s.items[index].Content = content
	return nil
}

// MarkEssaySaved records the answered flag after a successful autosave.
func (s *Session) MarkEssaySaved(index int, answered bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.items) {
		return ErrEssayIndexOutOfRange
	}
	s.items[index].IsAnswered = answered
	return nil
}

// LockEssay serializes autosave for one essay index so a rapid second edit
// cannot race the first create call into a duplicate record. The returned
// function releases the lock.
func (s *Session) LockEssay(index int) func() {
	s.mu.Lock()
	l, ok := s.essayLocks[index]
	if !ok {
		l = &sync.Mutex{}
		s.essayLocks[index] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// EssayRecord returns the persisted record id mapped to a local essay index.
func (s *Session) EssayRecord(index int) (uint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.essayRecords[index]
	return id, ok
}

// BindEssayRecord maps a local essay index to its created record id. Later
// edits patch this record instead of creating another one.
func (s *Session) BindEssayRecord(index int, recordID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.essayRecords[index] = recordID
}

// Elapsed returns the session's elapsed seconds.
func (s *Session) Elapsed() int {
	return s.clock.Elapsed()
}

// Status returns the submit lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Result returns the score result once the session is submitted.
func (s *Session) Result() (*ScoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusSubmitted || s.result == nil {
		return nil, ErrResultNotReady
	}
	out := *s.result
	return &out, nil
}

// ===== SUBMIT STATE MACHINE =====
//
// idle -> confirm_pending -> submitting -> submitted
//            |    ^                |
//            v    |                v
//           idle  +---- retry --- error

// RequestSubmit moves idle -> confirm_pending.
func (s *Session) RequestSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case StatusIdle:
		s.status = StatusConfirmPending
		return nil
	case StatusConfirmPending:
		return ErrSubmitAlreadyPending
	case StatusSubmitting:
		return ErrSubmitInFlight
	case StatusSubmitted:
		return ErrAlreadySubmitted
	default: // StatusError
		return ErrSubmitNotFailed
	}
}

// CancelSubmit moves confirm_pending back to idle.
func (s *Session) CancelSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConfirmPending {
		return ErrSubmitNotRequested
	}
	s.status = StatusIdle
	return nil
}

// BeginSubmit moves confirm_pending -> submitting. It is the single-flight
// gate: a second confirm while one is in flight is rejected here, so the
// scoring orchestrator runs at most once per attempt.
func (s *Session) BeginSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case StatusConfirmPending:
		s.status = StatusSubmitting
		return nil
	case StatusSubmitting:
		return ErrSubmitInFlight
	case StatusSubmitted:
		return ErrAlreadySubmitted
	default:
		return ErrSubmitNotRequested
	}
}

// CompleteSubmit records the result and moves submitting -> submitted.
func (s *Session) CompleteSubmit(result *ScoreResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusSubmitting {
		return ErrSubmitNotRequested
	}
	s.status = StatusSubmitted
	s.result = result
	return nil
}

// FailSubmit moves submitting -> error. The error state is terminal for the
// attempt but explicitly retryable via RetrySubmit.
func (s *Session) FailSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusSubmitting {
		return ErrSubmitNotRequested
	}
	s.status = StatusError
	return nil
}

// RetrySubmit moves error -> confirm_pending so the user can confirm again.
func (s *Session) RetrySubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusError {
		return ErrSubmitNotFailed
	}
	s.status = StatusConfirmPending
	return nil
}

// Close stops the clock. In-flight autosaves are abandoned without rollback.
func (s *Session) Close() {
	s.clock.Stop()
}
