package services

import (
	"encoding/json"
	"testing"
	"time"

	"portal/models"
	"portal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockGraphRepository is a mock type for the GraphRepository interface.
type MockGraphRepository struct {
	mock.Mock
}

func (m *MockGraphRepository) Load() ([]models.Question, int, error) {
	args := m.Called()
	var questions []models.Question
	if args.Get(0) != nil {
		questions = args.Get(0).([]models.Question)
	}
	return questions, args.Int(1), args.Error(2)
}

func (m *MockGraphRepository) Replace(questions []models.Question) (int, error) {
	args := m.Called(questions)
	return args.Int(0), args.Error(1)
}

func (m *MockGraphRepository) SeedFromFile(path string) error {
	args := m.Called(path)
	return args.Error(0)
}

// MockSessionRepository is a mock type for the SessionRepository interface.
// Create and Update echo the passed session when no explicit return is
// configured, mirroring how the real repository hands the row back.
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) GetByScopeID(scopeID string) (*models.QuestionnaireSession, error) {
	args := m.Called(scopeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QuestionnaireSession), args.Error(1)
}

func (m *MockSessionRepository) Create(session *models.QuestionnaireSession) (*models.QuestionnaireSession, error) {
	args := m.Called(session)
	if args.Get(0) == nil && args.Error(1) == nil {
		session.ID = 1
		return session, nil
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QuestionnaireSession), args.Error(1)
}

func (m *MockSessionRepository) Update(session *models.QuestionnaireSession) (*models.QuestionnaireSession, error) {
	args := m.Called(session)
	if args.Get(0) == nil && args.Error(1) == nil {
		return session, nil
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QuestionnaireSession), args.Error(1)
}

// scenarioGraph is the reference end-to-end graph: Q1 jumps over Q2 when
// option A is chosen, Q3 is a branchable repeater and Q4 is the single
// question its branches traverse.
func scenarioGraph() []models.Question {
	return []models.Question{
		{
			ID:   1,
			Kind: models.QuestionKindMultipleChoice,
			Text: "Pick a path",
			Options: []models.Option{
				{ID: "a", Text: "Path A", NextID: 3},
				{ID: "b", Text: "Path B", NextID: 2},
			},
		},
		{ID: 2, Kind: models.QuestionKindInput, Text: "Only on path B"},
		{
			ID:   3,
			Kind: models.QuestionKindRepeater,
			Text: "People",
			Repeater: &models.RepeaterConfig{
				Branchable: true,
				Fields:     []models.RepeaterField{{ID: "name", Label: "Name", Required: true}},
			},
		},
		{ID: 4, Kind: models.QuestionKindInput, Text: "Tell us about this person"},
	}
}

func newNavFixture(t *testing.T, questions []models.Question, window time.Duration) (NavigationService, repository.AnswerRepository) {
	t.Helper()

	graphRepo := new(MockGraphRepository)
	graphRepo.On("Load").Return(questions, 1, nil)

	sessionRepo := new(MockSessionRepository)
	sessionRepo.On("GetByScopeID", mock.Anything).Return(nil, nil)
	sessionRepo.On("Create", mock.AnythingOfType("*models.QuestionnaireSession")).Return(nil, nil)
	sessionRepo.On("Update", mock.AnythingOfType("*models.QuestionnaireSession")).Return(nil, nil)

	answers := repository.NewAnswerRepository(nil)
	nav := NewNavigationService(answers, sessionRepo, graphRepo, NewDependencyService(), window)
	return nav, answers
}

func mustView(t *testing.T) func(view *SessionView, err error) *SessionView {
	t.Helper()
	return func(view *SessionView, err error) *SessionView {
		t.Helper()
		assert.NoError(t, err)
		assert.NotNil(t, view)
		return view
	}
}

func TestNavigationService_EndToEndScenario(t *testing.T) {
	nav, _ := newNavFixture(t, scenarioGraph(), 0)
	scope := "submission-1"

	view := mustView(t)(nav.StartOrContinueSession(scope, "user-1", false))
	assert.Equal(t, NavStateActive, view.State)
	assert.Equal(t, 1, view.QuestionID)

	t.Run("Advancing without a selection refuses", func(t *testing.T) {
		_, err := nav.Advance(scope)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("Option A jumps straight to the repeater, skipping Q2", func(t *testing.T) {
		mustView(t)(nav.SelectOption(scope, "a"))
		view := mustView(t)(nav.Advance(scope))
		assert.Equal(t, 3, view.QuestionID)
		assert.Equal(t, 2, view.QuestionIndex)
	})

	t.Run("Branchable repeater blocks advance while branches are incomplete", func(t *testing.T) {
		entries := json.RawMessage(`[{"id":"e1","values":{"name":"Alice"}}]`)
		mustView(t)(nav.SaveEntries(scope, entries))

		_, err := nav.Advance(scope)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Equal(t, 1, verr.IncompleteEntries)
	})

	t.Run("Starting the branch lands on the question after the repeater", func(t *testing.T) {
		view := mustView(t)(nav.StartBranch(scope, "e1"))
		assert.Equal(t, 4, view.QuestionID)
		assert.Equal(t, "e1", view.BranchEntryID)
		assert.Equal(t, 3, view.BranchParent)
	})

	t.Run("Answering the last branch question returns to the parent repeater", func(t *testing.T) {
		mustView(t)(nav.SetInput(scope, "Alice is the sponsor"))
		view := mustView(t)(nav.Advance(scope))
		assert.Equal(t, 3, view.QuestionID)
		assert.Empty(t, view.BranchEntryID)

		statuses, err := nav.BranchStatuses(scope)
		assert.NoError(t, err)
		assert.Len(t, statuses, 1)
		assert.True(t, statuses[0].IsComplete)
		assert.Equal(t, 1, statuses[0].EntryIndex)
	})

	t.Run("All branches complete finishes the entire flow", func(t *testing.T) {
		view := mustView(t)(nav.Advance(scope))
		assert.Equal(t, NavStateCompleted, view.State)
	})

	t.Run("Advance after completion is a no-op", func(t *testing.T) {
		view := mustView(t)(nav.Advance(scope))
		assert.Equal(t, NavStateCompleted, view.State)
	})
}

func TestNavigationService_BranchAnswerIdentity(t *testing.T) {
	nav, answers := newNavFixture(t, scenarioGraph(), 0)
	scope := "submission-2"

	mustView(t)(nav.StartOrContinueSession(scope, "user-1", false))
	mustView(t)(nav.SelectOption(scope, "a"))
	mustView(t)(nav.Advance(scope))
	mustView(t)(nav.SaveEntries(scope, json.RawMessage(`[{"id":"e1","values":{"name":"Alice"}}]`)))
	mustView(t)(nav.StartBranch(scope, "e1"))
	mustView(t)(nav.SetInput(scope, "branch answer"))
	mustView(t)(nav.Advance(scope))

	branchCtx := models.BranchContext{ParentQuestionID: 3, EntryID: "e1", EntryIndex: 1}
	branchAns, err := answers.Get(scope, 4, branchCtx)
	assert.NoError(t, err)
	assert.NotNil(t, branchAns)
	assert.Equal(t, "branch answer", branchAns.Value.Input)

	rootAns, err := answers.Get(scope, 4, models.RootContext())
	assert.NoError(t, err)
	assert.Nil(t, rootAns, "branch answers must not leak into the root flow")
}

func TestNavigationService_Back(t *testing.T) {
	t.Run("Back refuses with a single history entry", func(t *testing.T) {
		nav, _ := newNavFixture(t, scenarioGraph(), 0)
		mustView(t)(nav.StartOrContinueSession("s", "u", false))

		view := mustView(t)(nav.Back("s"))
		assert.Equal(t, 1, view.QuestionID)
		assert.Equal(t, 1, view.HistoryDepth)
	})

	t.Run("Back from the first branch question exits the branch", func(t *testing.T) {
		nav, _ := newNavFixture(t, scenarioGraph(), 0)
		scope := "s-branch-back"
		mustView(t)(nav.StartOrContinueSession(scope, "u", false))
		mustView(t)(nav.SelectOption(scope, "a"))
		mustView(t)(nav.Advance(scope))
		mustView(t)(nav.SaveEntries(scope, json.RawMessage(`[{"id":"e1","values":{"name":"Alice"}}]`)))
		mustView(t)(nav.StartBranch(scope, "e1"))

		view := mustView(t)(nav.Back(scope))
		assert.Equal(t, 3, view.QuestionID, "back across a branch boundary restores the parent repeater")
		assert.Empty(t, view.BranchEntryID)
	})

	t.Run("Back then forward re-uses the stored answer", func(t *testing.T) {
		nav, _ := newNavFixture(t, scenarioGraph(), 0)
		scope := "s-back-forward"
		mustView(t)(nav.StartOrContinueSession(scope, "u", false))
		mustView(t)(nav.SelectOption(scope, "a"))
		mustView(t)(nav.Advance(scope))

		mustView(t)(nav.Back(scope))
		view := mustView(t)(nav.Advance(scope)) // no new selection; stored answer drives the jump
		assert.Equal(t, 3, view.QuestionID)
	})
}

func TestNavigationService_AdvanceIdempotence(t *testing.T) {
	nav, _ := newNavFixture(t, scenarioGraph(), 300*time.Millisecond)
	scope := "s-double-click"

	mustView(t)(nav.StartOrContinueSession(scope, "u", false))
	mustView(t)(nav.SelectOption(scope, "a"))

	first := mustView(t)(nav.Advance(scope))
	assert.Equal(t, NavStateTransitioning, first.State)
	assert.Equal(t, 2, first.HistoryDepth)

	second := mustView(t)(nav.Advance(scope))
	assert.Equal(t, first.QuestionIndex, second.QuestionIndex)
	assert.Equal(t, 2, second.HistoryDepth, "a double click must not grow history twice")
}

func TestNavigationService_AdminPreview(t *testing.T) {
	nav, answers := newNavFixture(t, scenarioGraph(), 0)
	scope := "s-admin"

	mustView(t)(nav.StartOrContinueSession(scope, "author", true))

	t.Run("Missing selection check is bypassed", func(t *testing.T) {
		view := mustView(t)(nav.Advance(scope))
		assert.Equal(t, 2, view.QuestionID, "without a selection the preview falls through to the next question")
	})

	t.Run("Nothing is persisted", func(t *testing.T) {
		ans, err := answers.Get(scope, 1, models.RootContext())
		assert.NoError(t, err)
		assert.Nil(t, ans)
	})
}

func TestNavigationService_Validation(t *testing.T) {
	t.Run("Non-branchable repeater enforces min entries and required fields", func(t *testing.T) {
		graph := []models.Question{
			{
				ID:   1,
				Kind: models.QuestionKindRepeater,
				Repeater: &models.RepeaterConfig{
					MinEntries: 1,
					Fields:     []models.RepeaterField{{ID: "name", Label: "Name", Required: true}},
				},
			},
			{ID: 2, Kind: models.QuestionKindInput},
		}
		nav, _ := newNavFixture(t, graph, 0)
		scope := "s-min"
		mustView(t)(nav.StartOrContinueSession(scope, "u", false))

		_, err := nav.Advance(scope)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, "zero entries fails min_entries")

		mustView(t)(nav.SaveEntries(scope, json.RawMessage(`[{"values":{"name":" "}}]`)))
		_, err = nav.Advance(scope)
		assert.ErrorAs(t, err, &verr, "blank required field fails validation")

		mustView(t)(nav.SaveEntries(scope, json.RawMessage(`[{"values":{"name":"Alice"}}]`)))
		view := mustView(t)(nav.Advance(scope))
		assert.Equal(t, 2, view.QuestionID)
	})

	t.Run("Malformed entries block advance without corrupting navigation", func(t *testing.T) {
		graph := []models.Question{
			{ID: 1, Kind: models.QuestionKindRepeater, Repeater: &models.RepeaterConfig{}},
			{ID: 2, Kind: models.QuestionKindInput},
		}
		nav, _ := newNavFixture(t, graph, 0)
		scope := "s-malformed"
		mustView(t)(nav.StartOrContinueSession(scope, "u", false))

		_, err := nav.SaveEntries(scope, json.RawMessage(`{"not":"a list"}`))
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)

		_, err = nav.Advance(scope)
		assert.ErrorAs(t, err, &verr, "the stored malformed payload keeps blocking advance")

		view, cqErr := nav.CurrentQuestion(scope, "")
		assert.NoError(t, cqErr)
		assert.NotNil(t, view)
		assert.Equal(t, 1, view.ID, "position is unchanged")
	})

	t.Run("Dangling next id completes the flow instead of crashing", func(t *testing.T) {
		graph := []models.Question{
			{
				ID:      1,
				Kind:    models.QuestionKindMultipleChoice,
				Options: []models.Option{{ID: "a", Text: "A", NextID: 99}},
			},
			{ID: 2, Kind: models.QuestionKindInput},
		}
		nav, _ := newNavFixture(t, graph, 0)
		scope := "s-dangling"
		mustView(t)(nav.StartOrContinueSession(scope, "u", false))
		mustView(t)(nav.SelectOption(scope, "a"))

		view := mustView(t)(nav.Advance(scope))
		assert.Equal(t, NavStateCompleted, view.State)
	})
}

func TestNavigationService_DependencyFilteredOptions(t *testing.T) {
	graph := []models.Question{
		{
			ID:      1,
			Kind:    models.QuestionKindMultipleChoice,
			Options: []models.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}},
		},
		{
			ID:   2,
			Kind: models.QuestionKindMultipleChoice,
			Options: []models.Option{
				{ID: "open", Text: "Always"},
				{ID: "gated", Text: "Needs A", DependsOn: []models.OptionDependency{{QuestionID: 1, OptionID: "a"}}},
			},
		},
	}
	nav, _ := newNavFixture(t, graph, 0)
	scope := "s-deps"
	mustView(t)(nav.StartOrContinueSession(scope, "u", false))

	mustView(t)(nav.SelectOption(scope, "b"))
	mustView(t)(nav.Advance(scope))

	view, err := nav.CurrentQuestion(scope, "")
	assert.NoError(t, err)
	assert.Len(t, view.Options, 1, "the gated option is hidden after choosing B")
	assert.Equal(t, "open", view.Options[0].ID)

	_, err = nav.SelectOption(scope, "gated")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr, "a hidden option cannot be selected")
}
