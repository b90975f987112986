package repository

import (
	"testing"

	"portal/models"

	"github.com/stretchr/testify/assert"
)

func TestAnswerRepository_SaveAndGet(t *testing.T) {
	repo := NewAnswerRepository(nil) // memory-only
	root := models.RootContext()

	t.Run("Get on an empty store is nil, nil", func(t *testing.T) {
		ans, err := repo.Get("scope-1", 1, root)
		assert.NoError(t, err)
		assert.Nil(t, ans)
	})

	t.Run("Save then Get round-trips the value", func(t *testing.T) {
		_, err := repo.Save("scope-1", 1, models.ChoiceValue("a", "Option A"), root, nil)
		assert.NoError(t, err)

		ans, err := repo.Get("scope-1", 1, root)
		assert.NoError(t, err)
		assert.NotNil(t, ans)
		assert.Equal(t, "a", ans.Value.Choice.OptionID)
		assert.Equal(t, "Option A", ans.Value.Choice.Text)
	})

	t.Run("Save is an upsert, never a second row", func(t *testing.T) {
		_, err := repo.Save("scope-1", 1, models.ChoiceValue("b", "Option B"), root, nil)
		assert.NoError(t, err)

		ans, err := repo.Get("scope-1", 1, root)
		assert.NoError(t, err)
		assert.Equal(t, "b", ans.Value.Choice.OptionID)
	})

	t.Run("Branch contexts key distinct records", func(t *testing.T) {
		branchCtx := models.BranchContext{ParentQuestionID: 3, EntryID: "e1", EntryIndex: 1}
		_, err := repo.Save("scope-1", 1, models.InputValue("branch value"), branchCtx, nil)
		assert.NoError(t, err)

		rootAns, _ := repo.Get("scope-1", 1, root)
		branchAns, _ := repo.Get("scope-1", 1, branchCtx)
		assert.Equal(t, models.QuestionKindMultipleChoice, rootAns.Value.Kind)
		assert.Equal(t, "branch value", branchAns.Value.Input)
	})

	t.Run("Empty scope id is rejected", func(t *testing.T) {
		_, err := repo.Save("", 1, models.InputValue("x"), root, nil)
		assert.Error(t, err)
	})
}

func TestAnswerRepository_AnalysisMerge(t *testing.T) {
	repo := NewAnswerRepository(nil)
	root := models.RootContext()

	value := models.InputValue("the project description")

	t.Run("Button responses from independent saves both survive", func(t *testing.T) {
		_, err := repo.Save("scope-2", 7, value, root, &models.AIAnalysis{
			ButtonResponses: map[string]string{"summarize": "a summary"},
		})
		assert.NoError(t, err)

		_, err = repo.Save("scope-2", 7, value, root, &models.AIAnalysis{
			ButtonResponses: map[string]string{"risks": "some risks"},
		})
		assert.NoError(t, err)

		ans, err := repo.Get("scope-2", 7, root)
		assert.NoError(t, err)
		assert.Equal(t, "a summary", ans.Analysis.ButtonResponses["summarize"])
		assert.Equal(t, "some risks", ans.Analysis.ButtonResponses["risks"])
	})

	t.Run("Existing button response is overwritten, others preserved", func(t *testing.T) {
		_, err := repo.Save("scope-2", 7, value, root, &models.AIAnalysis{
			ButtonResponses: map[string]string{"summarize": "a fresher summary"},
		})
		assert.NoError(t, err)

		ans, _ := repo.Get("scope-2", 7, root)
		assert.Equal(t, "a fresher summary", ans.Analysis.ButtonResponses["summarize"])
		assert.Equal(t, "some risks", ans.Analysis.ButtonResponses["risks"])
	})

	t.Run("Empty analysis in the patch retains the prior analysis", func(t *testing.T) {
		_, err := repo.Save("scope-2", 7, value, root, &models.AIAnalysis{Analysis: "top-level analysis"})
		assert.NoError(t, err)

		_, err = repo.Save("scope-2", 7, models.InputValue("edited description"), root, &models.AIAnalysis{
			ButtonResponses: map[string]string{"risks": "updated risks"},
		})
		assert.NoError(t, err)

		ans, _ := repo.Get("scope-2", 7, root)
		assert.Equal(t, "top-level analysis", ans.Analysis.Analysis)
		assert.Equal(t, "edited description", ans.Value.Input)
	})

	t.Run("Save without a patch keeps the whole analysis", func(t *testing.T) {
		_, err := repo.Save("scope-2", 7, models.InputValue("another edit"), root, nil)
		assert.NoError(t, err)

		ans, _ := repo.Get("scope-2", 7, root)
		assert.NotNil(t, ans.Analysis)
		assert.Equal(t, "top-level analysis", ans.Analysis.Analysis)
		assert.Equal(t, "a fresher summary", ans.Analysis.ButtonResponses["summarize"])
	})
}

func TestAnswerRepository_GetBranchAnswers(t *testing.T) {
	repo := NewAnswerRepository(nil)
	branchCtx := models.BranchContext{ParentQuestionID: 3, EntryID: "entry-1", EntryIndex: 1}

	t.Run("Untouched branch has not started", func(t *testing.T) {
		ba, err := repo.GetBranchAnswers("scope-3", 3, "entry-1", 2)
		assert.NoError(t, err)
		assert.False(t, ba.HasStarted)
		assert.False(t, ba.IsComplete)
	})

	t.Run("Partial answers start but do not complete the branch", func(t *testing.T) {
		_, err := repo.Save("scope-3", 4, models.InputValue("first"), branchCtx, nil)
		assert.NoError(t, err)

		ba, err := repo.GetBranchAnswers("scope-3", 3, "entry-1", 2)
		assert.NoError(t, err)
		assert.True(t, ba.HasStarted)
		assert.False(t, ba.IsComplete)
		assert.Len(t, ba.Answers, 1)
	})

	t.Run("Re-saving the same question does not inflate the count", func(t *testing.T) {
		_, err := repo.Save("scope-3", 4, models.InputValue("first edited"), branchCtx, nil)
		assert.NoError(t, err)

		ba, _ := repo.GetBranchAnswers("scope-3", 3, "entry-1", 2)
		assert.False(t, ba.IsComplete)
	})

	t.Run("Complete exactly when every remaining question is answered", func(t *testing.T) {
		_, err := repo.Save("scope-3", 5, models.InputValue("second"), branchCtx, nil)
		assert.NoError(t, err)

		ba, _ := repo.GetBranchAnswers("scope-3", 3, "entry-1", 2)
		assert.True(t, ba.IsComplete)
		assert.Len(t, ba.Answers, 2)
	})

	t.Run("Other entries on the same parent are independent", func(t *testing.T) {
		ba, err := repo.GetBranchAnswers("scope-3", 3, "entry-2", 2)
		assert.NoError(t, err)
		assert.False(t, ba.HasStarted)
	})
}
