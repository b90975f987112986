package services

import (
	"testing"

	"portal/models"

	"github.com/stretchr/testify/assert"
)

func branchableRepeater(id int) *models.Question {
	return &models.Question{
		ID:   id,
		Kind: models.QuestionKindRepeater,
		Repeater: &models.RepeaterConfig{
			Branchable: true,
			Fields:     []models.RepeaterField{{ID: "name", Label: "Name", Required: true}},
		},
	}
}

func TestBranchManager_StartBranch(t *testing.T) {
	parent := branchableRepeater(3)
	entries := []models.RepeaterEntry{
		{ID: "e1", Values: map[string]models.FieldValue{"name": {"Alice"}}},
		{ID: "e2", Values: map[string]models.FieldValue{"name": {"Bob"}}},
	}

	t.Run("Entry index is 1-based position at start time", func(t *testing.T) {
		m := NewBranchManager()
		branch, err := m.StartBranch(parent, "e2", entries, 2)
		assert.NoError(t, err)
		assert.Equal(t, 2, branch.EntryIndex)
		assert.Equal(t, 2, branch.TotalQuestions)
		assert.Equal(t, BranchInProgress, branch.State)
		assert.Equal(t, models.FieldValue{"Bob"}, branch.EntryValues["name"])
	})

	t.Run("Entry index is pinned across reordering", func(t *testing.T) {
		m := NewBranchManager()
		branch, err := m.StartBranch(parent, "e2", entries, 2)
		assert.NoError(t, err)
		assert.Equal(t, 2, branch.EntryIndex)
		m.Pop(false)

		reordered := []models.RepeaterEntry{entries[1], entries[0]} // e2 now first
		again, err := m.StartBranch(parent, "e2", reordered, 2)
		assert.NoError(t, err)
		assert.Same(t, branch, again)
		assert.Equal(t, 2, again.EntryIndex, "entry index must never be recomputed")
	})

	t.Run("Unknown entry is a validation error", func(t *testing.T) {
		m := NewBranchManager()
		_, err := m.StartBranch(parent, "missing", entries, 2)
		assert.Error(t, err)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("Non-branchable repeater refuses", func(t *testing.T) {
		m := NewBranchManager()
		plain := &models.Question{ID: 9, Kind: models.QuestionKindRepeater, Repeater: &models.RepeaterConfig{}}
		_, err := m.StartBranch(plain, "e1", entries, 2)
		assert.Error(t, err)
	})
}

func TestBranchManager_Lifecycle(t *testing.T) {
	parent := branchableRepeater(3)
	entries := []models.RepeaterEntry{{ID: "e1", Values: map[string]models.FieldValue{"name": {"Alice"}}}}

	t.Run("Pop with completion marks and deactivates, never destroys", func(t *testing.T) {
		m := NewBranchManager()
		branch, _ := m.StartBranch(parent, "e1", entries, 2)
		assert.Equal(t, branch, m.Active())

		popped := m.Pop(true)
		assert.Equal(t, branch, popped)
		assert.Equal(t, BranchComplete, branch.State)
		assert.Nil(t, m.Active())
		assert.Equal(t, branch, m.Lookup(3, "e1"))
	})

	t.Run("Re-entering a complete branch reopens it", func(t *testing.T) {
		m := NewBranchManager()
		branch, _ := m.StartBranch(parent, "e1", entries, 2)
		m.Pop(true)

		again, err := m.StartBranch(parent, "e1", entries, 2)
		assert.NoError(t, err)
		assert.Same(t, branch, again)
		assert.Equal(t, BranchInProgress, again.State)
	})

	t.Run("Reopen flips a complete branch after an answer edit", func(t *testing.T) {
		m := NewBranchManager()
		branch, _ := m.StartBranch(parent, "e1", entries, 2)
		m.Pop(true)
		assert.Equal(t, BranchComplete, branch.State)

		m.Reopen(3, "e1")
		assert.Equal(t, BranchInProgress, branch.State)
	})

	t.Run("ActiveContext is the root sentinel without an active branch", func(t *testing.T) {
		m := NewBranchManager()
		assert.True(t, m.ActiveContext().IsRoot())

		branch, _ := m.StartBranch(parent, "e1", entries, 2)
		ctx := m.ActiveContext()
		assert.False(t, ctx.IsRoot())
		assert.Equal(t, 3, ctx.ParentQuestionID)
		assert.Equal(t, "e1", ctx.EntryID)
		assert.Equal(t, branch.EntryIndex, ctx.EntryIndex)
	})

	t.Run("IsLastBranchQuestion only inside an active branch", func(t *testing.T) {
		m := NewBranchManager()
		assert.False(t, m.IsLastBranchQuestion(3, 4))

		m.StartBranch(parent, "e1", entries, 2)
		assert.False(t, m.IsLastBranchQuestion(2, 4))
		assert.True(t, m.IsLastBranchQuestion(3, 4))
	})
}
