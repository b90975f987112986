package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"portal/models"
	"portal/repository"

	"github.com/google/uuid"
)

// NavState is the navigation state machine's state as reported to the UI.
// Transitioning is the short non-interactive window between questions;
// Advance and Back are no-ops while it lasts.
type NavState string

const (
	NavStateLoading       NavState = "loading"
	NavStateActive        NavState = "active"
	NavStateTransitioning NavState = "transitioning"
	NavStateCompleted     NavState = "completed"
)

// SessionView is the navigation snapshot returned after every operation.
type SessionView struct {
	ScopeID       string   `json:"scope_id"`
	State         NavState `json:"state"`
	QuestionID    int      `json:"question_id,omitempty"`
	QuestionIndex int      `json:"question_index"`
	HistoryDepth  int      `json:"history_depth"`
	BranchEntryID string   `json:"branch_entry_id,omitempty"`
	BranchParent  int      `json:"branch_parent,omitempty"`
	SaveErrors    []string `json:"save_errors,omitempty"`
}

// QuestionView is the current question prepared for rendering: options are
// dependency-filtered, then search-filtered.
type QuestionView struct {
	ID        int                    `json:"id"`
	Kind      models.QuestionKind    `json:"kind"`
	Text      string                 `json:"text"`
	Options   []models.Option        `json:"options,omitempty"`
	Repeater  *models.RepeaterConfig `json:"repeater,omitempty"`
	AIButtons []models.AIButton      `json:"ai_buttons,omitempty"`
	Eligible  bool                   `json:"eligible"`
	Answer    *models.Answer         `json:"answer,omitempty"`
}

// BranchStatusView reports one repeater entry's branch progress.
type BranchStatusView struct {
	EntryID    string      `json:"entry_id"`
	EntryIndex int         `json:"entry_index,omitempty"`
	State      BranchState `json:"state"`
	HasStarted bool        `json:"has_started"`
	IsComplete bool        `json:"is_complete"`
}

// NavigationService orchestrates questionnaire navigation: current
// position, history, branch traversal and completion detection. All session
// state is owned here and mutated only through these operations.
type NavigationService interface {
	StartOrContinueSession(scopeID, userID string, adminPreview bool) (*SessionView, error)
	CurrentQuestion(scopeID, search string) (*QuestionView, error)
	SelectOption(scopeID, optionID string) (*SessionView, error)
	SetInput(scopeID, value string) (*SessionView, error)
	SaveEntries(scopeID string, raw json.RawMessage) (*SessionView, error)
	RecordAttachment(scopeID string, index int, name, path string) error
	Advance(scopeID string) (*SessionView, error)
	Back(scopeID string) (*SessionView, error)
	StartBranch(scopeID, entryID string) (*SessionView, error)
	BranchStatuses(scopeID string) ([]BranchStatusView, error)
	Position(scopeID string) (questionID int, branchCtx models.BranchContext, err error)
}

// session is the runtime state of one scope's walk through the graph. The
// graph is snapshotted at session start; authoring edits only affect new
// sessions.
type session struct {
	scopeID      string
	userID       string
	adminPreview bool

	graph  *models.Graph
	record *models.QuestionnaireSession

	completed bool
	index     int
	history   []int
	branches  *BranchManager

	// Transient per-question UI state, cleared on every navigation step.
	selection    *models.OptionChoice
	inputBuffer  string
	hasInput     bool
	searchFilter string
	attachments  []models.AttachmentRef

	transitionUntil time.Time
}

type navigationService struct {
	mu       sync.Mutex
	sessions map[string]*session

	answers  repository.AnswerRepository
	records  repository.SessionRepository
	graphs   repository.GraphRepository
	deps     DependencyService
	window   time.Duration

	errMu      sync.Mutex
	saveErrors []string
}

// NewNavigationService creates the navigation service. window is the
// transition animation gate; saves reported failed by the answer store are
// queued onto the next view instead of blocking navigation.
func NewNavigationService(
	answers repository.AnswerRepository,
	records repository.SessionRepository,
	graphs repository.GraphRepository,
	deps DependencyService,
	window time.Duration,
) NavigationService {
	s := &navigationService{
		sessions: make(map[string]*session),
		answers:  answers,
		records:  records,
		graphs:   graphs,
		deps:     deps,
		window:   window,
	}
	answers.SetErrorHandler(s.reportSaveError)
	return s
}

func (s *navigationService) reportSaveError(err error) {
	perr := &PersistenceError{Op: "answer save", Err: err}
	log.Printf("WARN: [NavigationService] %v (navigation position is kept)", perr)
	s.errMu.Lock()
	s.saveErrors = append(s.saveErrors, perr.Error())
	s.errMu.Unlock()
}

func (s *navigationService) drainSaveErrors() []string {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	drained := s.saveErrors
	s.saveErrors = nil
	return drained
}

// StartOrContinueSession resumes the session for the scope id or starts a
// new one at the first question. The scope id is minted by the caller,
// never here.
func (s *navigationService) StartOrContinueSession(scopeID, userID string, adminPreview bool) (*SessionView, error) {
	if scopeID == "" {
		return nil, errors.New("scope id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[scopeID]; ok {
		log.Printf("INFO: [NavigationService] Scope '%s' continues at index %d.", scopeID, sess.index)
		return s.view(sess), nil
	}

	questions, version, err := s.graphs.Load()
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		log.Printf("ERROR: [NavigationService] Question graph is empty; cannot start session for scope '%s'.", scopeID)
		return nil, errors.New("the questionnaire is not configured")
	}
	graph := models.NewGraph(questions)

	record, err := s.records.GetByScopeID(scopeID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &models.QuestionnaireSession{
			ScopeID:      scopeID,
			UserID:       userID,
			Status:       models.SessionStatusInProgress,
			GraphVersion: version,
			AdminPreview: adminPreview,
			StartedAt:    time.Now(),
		}
		if !adminPreview {
			record, err = s.records.Create(record)
			if err != nil {
				return nil, err
			}
		}
		log.Printf("INFO: [NavigationService] Started new session for scope '%s' (user '%s').", scopeID, userID)
	} else {
		log.Printf("INFO: [NavigationService] Resuming session ID %d for scope '%s' at index %d.", record.ID, scopeID, record.CurrentIndex)
	}

	index := record.CurrentIndex
	if index < 0 || index >= graph.Len() {
		index = 0
	}

	sess := &session{
		scopeID:      scopeID,
		userID:       userID,
		adminPreview: adminPreview,
		graph:        graph,
		record:       record,
		completed:    record.Status == models.SessionStatusCompleted,
		index:        index,
		history:      []int{index},
		branches:     NewBranchManager(),
	}
	s.sessions[scopeID] = sess
	return s.view(sess), nil
}

func (s *navigationService) get(scopeID string) (*session, error) {
	sess, ok := s.sessions[scopeID]
	if !ok {
		return nil, fmt.Errorf("no active session for scope '%s'", scopeID)
	}
	return sess, nil
}

func (sess *session) inTransition() bool {
	return !sess.transitionUntil.IsZero() && time.Now().Before(sess.transitionUntil)
}

func (sess *session) navState() NavState {
	switch {
	case sess.completed:
		return NavStateCompleted
	case sess.inTransition():
		return NavStateTransitioning
	default:
		return NavStateActive
	}
}

func (s *navigationService) view(sess *session) *SessionView {
	v := &SessionView{
		ScopeID:       sess.scopeID,
		State:         sess.navState(),
		QuestionIndex: sess.index,
		HistoryDepth:  len(sess.history),
		SaveErrors:    s.drainSaveErrors(),
	}
	if q := sess.graph.At(sess.index); q != nil {
		v.QuestionID = q.ID
	}
	if br := sess.branches.Active(); br != nil {
		v.BranchEntryID = br.EntryID
		v.BranchParent = br.ParentQuestionID
	}
	return v
}

// rootSnapshot collects the root-flow answers the dependency evaluator
// consumes. Dependency targets are always earlier root-flow questions.
func (s *navigationService) rootSnapshot(sess *session) AnswerSnapshot {
	snapshot := make(AnswerSnapshot)
	for i := range sess.graph.Questions {
		q := &sess.graph.Questions[i]
		ans, err := s.answers.Get(sess.scopeID, q.ID, models.RootContext())
		if err != nil {
			log.Printf("WARN: [NavigationService] Snapshot read failed for question %d: %v", q.ID, err)
			continue
		}
		if ans != nil {
			snapshot[q.ID] = ans
		}
	}
	return snapshot
}

// CurrentQuestion renders the current question: options filtered by
// dependency eligibility first, then by the search query.
func (s *navigationService) CurrentQuestion(scopeID, search string) (*QuestionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(scopeID)
	if err != nil {
		return nil, err
	}
	q := sess.graph.At(sess.index)
	if q == nil {
		return nil, fmt.Errorf("no current question for scope '%s'", scopeID)
	}
	sess.searchFilter = search

	snapshot := s.rootSnapshot(sess)
	options := s.deps.VisibleOptions(q, snapshot)
	options = s.deps.FilterOptions(options, search)

	answer, err := s.answers.Get(scopeID, q.ID, sess.branches.ActiveContext())
	if err != nil {
		return nil, err
	}

	return &QuestionView{
		ID:        q.ID,
		Kind:      q.Kind,
		Text:      q.Text,
		Options:   options,
		Repeater:  q.Repeater,
		AIButtons: q.AIButtons,
		Eligible:  s.deps.QuestionEligible(q, snapshot),
		Answer:    answer,
	}, nil
}

// SelectOption records the pending selection for the current
// multiple-choice question. The option must be visible under the current
// answer snapshot.
func (s *navigationService) SelectOption(scopeID, optionID string) (*SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(scopeID)
	if err != nil {
		return nil, err
	}
	q := sess.graph.At(sess.index)
	if q == nil || q.Kind != models.QuestionKindMultipleChoice {
		return nil, newValidationError("the current question does not take an option selection")
	}

	for _, opt := range s.deps.VisibleOptions(q, s.rootSnapshot(sess)) {
		if opt.ID == optionID {
			sess.selection = &models.OptionChoice{OptionID: opt.ID, Text: opt.Text}
			return s.view(sess), nil
		}
	}
	return nil, newValidationError("option '%s' is not available on question %d", optionID, q.ID)
}

// SetInput records the pending free-text value for the current input
// question.
func (s *navigationService) SetInput(scopeID, value string) (*SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(scopeID)
	if err != nil {
		return nil, err
	}
	q := sess.graph.At(sess.index)
	if q == nil || q.Kind != models.QuestionKindInput {
		return nil, newValidationError("the current question does not take text input")
	}
	sess.inputBuffer = value
	sess.hasInput = true
	return s.view(sess), nil
}

// SaveEntries replaces the current repeater question's entry list. Entries
// without ids are minted one. The payload is persisted immediately under
// the active branch context; an unparsable payload is stored verbatim and
// reported, so it blocks Advance without corrupting navigation state.
func (s *navigationService) SaveEntries(scopeID string, raw json.RawMessage) (*SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(scopeID)
	if err != nil {
		return nil, err
	}
	q := sess.graph.At(sess.index)
	if q == nil || q.Kind != models.QuestionKindRepeater || q.Repeater == nil {
		return nil, newValidationError("the current question does not take repeater entries")
	}
	ctx := sess.branches.ActiveContext()

	var entries []models.RepeaterEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Printf("WARN: [NavigationService] Malformed entries payload for question %d (scope '%s'): %v", q.ID, scopeID, err)
		value := models.AnswerValue{Kind: models.QuestionKindRepeater, RawEntries: raw}
		if !sess.adminPreview {
			if _, saveErr := s.answers.Save(scopeID, q.ID, value, ctx, nil); saveErr != nil {
				return nil, saveErr
			}
		}
		return nil, newValidationError("the entries could not be parsed; please correct them before continuing")
	}

	if q.Repeater.MaxEntries > 0 && len(entries) > q.Repeater.MaxEntries {
		return nil, newValidationError("question %d allows at most %d entries", q.ID, q.Repeater.MaxEntries)
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
	}

	if !sess.adminPreview {
		if _, err := s.answers.Save(scopeID, q.ID, models.EntriesValue(entries), ctx, nil); err != nil {
			return nil, err
		}
	}

	// Editing answers under an active branch reopens its completion check.
	if br := sess.branches.Active(); br != nil {
		sess.branches.Reopen(br.ParentQuestionID, br.EntryID)
	}
	return s.view(sess), nil
}

// RecordAttachment attaches uploaded-file metadata to the current
// question's pending answer. The path is opaque here.
func (s *navigationService) RecordAttachment(scopeID string, index int, name, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(scopeID)
	if err != nil {
		return err
	}
	q := sess.graph.At(sess.index)
	if q == nil || q.Kind == models.QuestionKindRepeater {
		return newValidationError("the current question does not take attachments")
	}
	sess.attachments = append(sess.attachments, models.AttachmentRef{Index: index, Name: name, Path: path})
	return nil
}

func entriesOf(ans *models.Answer) ([]models.RepeaterEntry, error) {
	if ans == nil || ans.Value.Kind != models.QuestionKindRepeater {
		return nil, nil
	}
	if ans.Value.Entries == nil && len(ans.Value.RawEntries) > 0 {
		var entries []models.RepeaterEntry
		if err := json.Unmarshal(ans.Value.RawEntries, &entries); err != nil {
			return nil, fmt.Errorf("stored entries are malformed: %w", err)
		}
		return entries, nil
	}
	return ans.Value.Entries, nil
}

// Advance validates the current question, persists its answer, and moves to
// the next position. Inside a branch the traversal is strictly in graph
// order; in the root flow option-level next ids override the question's
// default next id. An unresolvable next id completes the flow. Calls during
// the transition window are no-ops, so a double click never produces two
// history entries or two saves.
func (s *navigationService) Advance(scopeID string) (*SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(scopeID)
	if err != nil {
		return nil, err
	}
	if sess.completed || sess.inTransition() {
		return s.view(sess), nil
	}

	q := sess.graph.At(sess.index)
	if q == nil {
		s.completeSession(sess)
		return s.view(sess), nil
	}
	ctx := sess.branches.ActiveContext()

	// Validation, per question kind.
	var choice *models.OptionChoice
	switch q.Kind {
	case models.QuestionKindMultipleChoice:
		choice = sess.selection
		if choice == nil {
			stored, getErr := s.answers.Get(scopeID, q.ID, ctx)
			if getErr != nil {
				return nil, getErr
			}
			if stored != nil && stored.Value.Choice != nil {
				choice = stored.Value.Choice
			}
		}
		if choice == nil && !sess.adminPreview {
			return nil, newValidationError("an option must be selected before continuing")
		}

	case models.QuestionKindRepeater:
		stored, getErr := s.answers.Get(scopeID, q.ID, ctx)
		if getErr != nil {
			return nil, getErr
		}
		entries, parseErr := entriesOf(stored)
		if parseErr != nil {
			log.Printf("WARN: [NavigationService] Blocking advance on malformed entries for question %d (scope '%s'): %v", q.ID, scopeID, parseErr)
			return nil, newValidationError("the entries for this question are malformed; please correct them")
		}

		if q.Repeater != nil && q.Repeater.Branchable && sess.branches.Active() == nil {
			// Every entry's branch must be complete; then the entire flow is.
			remaining := sess.graph.Len() - (sess.index + 1)
			incomplete := 0
			for _, entry := range entries {
				total := remaining
				if br := sess.branches.Lookup(q.ID, entry.ID); br != nil {
					total = br.TotalQuestions
				}
				ba, baErr := s.answers.GetBranchAnswers(scopeID, q.ID, entry.ID, total)
				if baErr != nil {
					return nil, baErr
				}
				if !ba.IsComplete {
					incomplete++
				}
			}
			if incomplete > 0 {
				return nil, &ValidationError{
					Msg:               fmt.Sprintf("%d entries still have incomplete branches", incomplete),
					IncompleteEntries: incomplete,
				}
			}
			s.completeSession(sess)
			return s.view(sess), nil
		}

		// Non-branchable (or repeater reached inside a branch): entry-list
		// validation only.
		if q.Repeater != nil {
			if len(entries) < q.Repeater.MinEntries {
				return nil, newValidationError("question %d requires at least %d entries", q.ID, q.Repeater.MinEntries)
			}
			for i, entry := range entries {
				for _, field := range q.Repeater.Fields {
					if field.Required && strings.TrimSpace(entry.Values[field.ID].First()) == "" {
						return nil, newValidationError("entry %d is missing required field '%s'", i+1, field.Label)
					}
				}
			}
		}
	}

	// Persist the current answer. Authoring preview never persists.
	if !sess.adminPreview {
		var value *models.AnswerValue
		switch q.Kind {
		case models.QuestionKindMultipleChoice:
			v := models.ChoiceValue(choice.OptionID, choice.Text)
			v.Attachments = sess.attachments
			value = &v
		case models.QuestionKindInput:
			v, resolveErr := s.resolveInputValue(sess, q, ctx)
			if resolveErr != nil {
				return nil, resolveErr
			}
			v.Attachments = append(v.Attachments, sess.attachments...)
			value = &v
		case models.QuestionKindRepeater:
			// Entries are persisted as they are edited (SaveEntries).
		}
		if value != nil {
			if _, saveErr := s.answers.Save(scopeID, q.ID, *value, ctx, nil); saveErr != nil {
				// Memory-tier failure is a caller bug (empty scope); async
				// flush failures arrive on the error feed instead.
				return nil, saveErr
			}
		}
	}

	// Compute the next position.
	if br := sess.branches.Active(); br != nil {
		if sess.branches.IsLastBranchQuestion(sess.index, sess.graph.Len()) {
			s.returnToParent(sess, true)
			s.clearTransient(sess)
			s.beginTransition(sess)
			s.persistPosition(sess)
			return s.view(sess), nil
		}
		s.moveTo(sess, sess.index+1)
		return s.view(sess), nil
	}

	next := sess.index + 1
	if q.Kind == models.QuestionKindMultipleChoice && choice != nil {
		if opt := q.Option(choice.OptionID); opt != nil && opt.NextID != 0 {
			next = sess.graph.IndexOf(opt.NextID)
		} else if q.DefaultNextID != 0 {
			next = sess.graph.IndexOf(q.DefaultNextID)
		}
	} else if q.DefaultNextID != 0 {
		next = sess.graph.IndexOf(q.DefaultNextID)
	}

	if next < 0 || next >= sess.graph.Len() {
		// Dangling next ids are authoring mistakes; falling through to
		// completion keeps the session alive.
		s.completeSession(sess)
		return s.view(sess), nil
	}

	s.moveTo(sess, next)
	return s.view(sess), nil
}

// resolveInputValue keeps a previously stored input when the user navigated
// back over the question without retyping.
func (s *navigationService) resolveInputValue(sess *session, q *models.Question, ctx models.BranchContext) (models.AnswerValue, error) {
	if sess.hasInput {
		return models.InputValue(sess.inputBuffer), nil
	}
	stored, err := s.answers.Get(sess.scopeID, q.ID, ctx)
	if err != nil {
		return models.AnswerValue{}, err
	}
	if stored != nil && stored.Value.Kind == models.QuestionKindInput {
		return stored.Value, nil
	}
	return models.InputValue(""), nil
}

// moveTo pushes the next index onto history and opens the transition window.
func (s *navigationService) moveTo(sess *session, next int) {
	sess.index = next
	sess.history = append(sess.history, next)
	s.clearTransient(sess)
	s.beginTransition(sess)
	s.persistPosition(sess)
}

func (s *navigationService) clearTransient(sess *session) {
	sess.selection = nil
	sess.inputBuffer = ""
	sess.hasInput = false
	sess.searchFilter = ""
	sess.attachments = nil
}

func (s *navigationService) beginTransition(sess *session) {
	if s.window > 0 {
		sess.transitionUntil = time.Now().Add(s.window)
	}
}

// persistPosition stores the durable position best-effort; failures go to
// the error feed, never block navigation.
func (s *navigationService) persistPosition(sess *session) {
	if sess.adminPreview || sess.record == nil || sess.record.ID == 0 {
		return
	}
	sess.record.CurrentIndex = sess.index
	if _, err := s.records.Update(sess.record); err != nil {
		s.reportSaveError(err)
	}
}

func (s *navigationService) completeSession(sess *session) {
	sess.completed = true
	sess.transitionUntil = time.Time{}
	s.clearTransient(sess)
	log.Printf("INFO: [NavigationService] Session for scope '%s' completed.", sess.scopeID)
	if sess.adminPreview || sess.record == nil || sess.record.ID == 0 {
		return
	}
	now := time.Now()
	sess.record.Status = models.SessionStatusCompleted
	sess.record.CompletedAt = &now
	sess.record.CurrentIndex = sess.index
	if _, err := s.records.Update(sess.record); err != nil {
		s.reportSaveError(err)
	}
}

// returnToParent deactivates the active branch, restores the parent
// repeater as the current question, and truncates forward history to it.
func (s *navigationService) returnToParent(sess *session, markComplete bool) {
	branch := sess.branches.Pop(markComplete)
	if branch == nil {
		return
	}
	parentIdx := sess.graph.IndexOf(branch.ParentQuestionID)
	if parentIdx < 0 {
		parentIdx = 0
	}
	sess.index = parentIdx

	truncated := false
	for i := len(sess.history) - 1; i >= 0; i-- {
		if sess.history[i] == parentIdx {
			sess.history = sess.history[:i+1]
			truncated = true
			break
		}
	}
	if !truncated {
		sess.history = append(sess.history, parentIdx)
	}
}

// Back pops one history entry. Stepping back across a branch boundary exits
// the branch and restores the parent repeater view rather than landing on
// an internal branch question. Refuses when only the initial entry remains.
func (s *navigationService) Back(scopeID string) (*SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(scopeID)
	if err != nil {
		return nil, err
	}
	if sess.completed || sess.inTransition() || len(sess.history) <= 1 {
		return s.view(sess), nil
	}

	sess.history = sess.history[:len(sess.history)-1]
	top := sess.history[len(sess.history)-1]

	if br := sess.branches.Active(); br != nil {
		if q := sess.graph.At(top); q != nil && q.ID == br.ParentQuestionID {
			s.returnToParent(sess, false)
			s.clearTransient(sess)
			s.beginTransition(sess)
			s.persistPosition(sess)
			return s.view(sess), nil
		}
	}

	sess.index = top
	s.clearTransient(sess)
	s.beginTransition(sess)
	s.persistPosition(sess)
	return s.view(sess), nil
}

// StartBranch enters the sub-flow for one entry of the current branchable
// repeater: the branch context is pushed and navigation advances to the
// question immediately following the repeater in graph order.
func (s *navigationService) StartBranch(scopeID, entryID string) (*SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(scopeID)
	if err != nil {
		return nil, err
	}
	if sess.completed || sess.inTransition() {
		return s.view(sess), nil
	}
	if sess.branches.Active() != nil {
		return nil, newValidationError("a branch is already active; finish it before starting another")
	}

	q := sess.graph.At(sess.index)
	if q == nil || q.Kind != models.QuestionKindRepeater || q.Repeater == nil || !q.Repeater.Branchable {
		return nil, newValidationError("the current question is not a branchable repeater")
	}

	stored, err := s.answers.Get(scopeID, q.ID, models.RootContext())
	if err != nil {
		return nil, err
	}
	entries, parseErr := entriesOf(stored)
	if parseErr != nil {
		return nil, newValidationError("the entries for this question are malformed; please correct them")
	}

	remaining := sess.graph.Len() - (sess.index + 1)
	branch, err := sess.branches.StartBranch(q, entryID, entries, remaining)
	if err != nil {
		return nil, err
	}

	if remaining == 0 {
		// Nothing follows the repeater: the branch is trivially complete.
		sess.branches.Pop(true)
		log.Printf("INFO: [NavigationService] Branch for entry '%s' has no questions to traverse; marked complete.", entryID)
		return s.view(sess), nil
	}

	log.Printf("INFO: [NavigationService] Scope '%s' entered branch for question %d entry '%s' (index %d).",
		scopeID, q.ID, entryID, branch.EntryIndex)
	s.moveTo(sess, sess.index+1)
	return s.view(sess), nil
}

// BranchStatuses reports, for each entry of the current repeater, whether
// its branch has started and whether it is complete. Completion is computed
// from the answer counts, not from the runtime branch objects, so it
// survives process restarts.
func (s *navigationService) BranchStatuses(scopeID string) ([]BranchStatusView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(scopeID)
	if err != nil {
		return nil, err
	}
	q := sess.graph.At(sess.index)
	if q == nil || q.Kind != models.QuestionKindRepeater || q.Repeater == nil {
		return nil, newValidationError("the current question is not a repeater")
	}

	stored, err := s.answers.Get(scopeID, q.ID, sess.branches.ActiveContext())
	if err != nil {
		return nil, err
	}
	entries, parseErr := entriesOf(stored)
	if parseErr != nil {
		return nil, newValidationError("the entries for this question are malformed; please correct them")
	}

	remaining := sess.graph.Len() - (sess.index + 1)
	statuses := make([]BranchStatusView, 0, len(entries))
	for _, entry := range entries {
		total := remaining
		status := BranchStatusView{EntryID: entry.ID, State: BranchNotStarted}
		if br := sess.branches.Lookup(q.ID, entry.ID); br != nil {
			total = br.TotalQuestions
			status.EntryIndex = br.EntryIndex
			status.State = br.State
		}
		ba, baErr := s.answers.GetBranchAnswers(scopeID, q.ID, entry.ID, total)
		if baErr != nil {
			return nil, baErr
		}
		status.HasStarted = ba.HasStarted
		status.IsComplete = ba.IsComplete
		if status.State == BranchNotStarted && ba.HasStarted {
			status.State = BranchInProgress
		}
		if ba.IsComplete {
			status.State = BranchComplete
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Position reports the current question id and active branch context, the
// key the AI response cache stores under.
func (s *navigationService) Position(scopeID string) (int, models.BranchContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(scopeID)
	if err != nil {
		return 0, models.BranchContext{}, err
	}
	q := sess.graph.At(sess.index)
	if q == nil {
		return 0, models.BranchContext{}, fmt.Errorf("no current question for scope '%s'", scopeID)
	}
	return q.ID, sess.branches.ActiveContext(), nil
}
