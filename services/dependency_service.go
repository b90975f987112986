package services

import (
	"strings"

	"portal/models"
)

// AnswerSnapshot is a read-only view of the root-flow answers recorded so
// far, keyed by question id. Dependency targets are always earlier
// root-flow questions, never branch answers.
type AnswerSnapshot map[int]*models.Answer

// ChosenOptionID returns the option id recorded for a question, or "" when
// the question is unanswered or not a multiple-choice answer.
func (s AnswerSnapshot) ChosenOptionID(questionID int) string {
	ans, ok := s[questionID]
	if !ok || ans == nil {
		return ""
	}
	if ans.Value.Kind != models.QuestionKindMultipleChoice || ans.Value.Choice == nil {
		return ""
	}
	return ans.Value.Choice.OptionID
}

// DependencyService evaluates option and question visibility. All methods
// are pure: no side effects, no error conditions. An unresolved dependency
// target simply makes the dependent option ineligible.
type DependencyService interface {
	VisibleOptions(question *models.Question, snapshot AnswerSnapshot) []models.Option
	FilterOptions(options []models.Option, query string) []models.Option
	QuestionEligible(question *models.Question, snapshot AnswerSnapshot) bool
}

type dependencyService struct{}

// NewDependencyService creates a dependency evaluator.
func NewDependencyService() DependencyService {
	return &dependencyService{}
}

// VisibleOptions returns the subset of the question's options whose
// dependency conjunctions are fully satisfied by the snapshot. Options
// without dependencies are always visible.
func (s *dependencyService) VisibleOptions(question *models.Question, snapshot AnswerSnapshot) []models.Option {
	visible := make([]models.Option, 0, len(question.Options))
	for _, opt := range question.Options {
		if dependenciesSatisfied(opt.DependsOn, snapshot) {
			visible = append(visible, opt)
		}
	}
	return visible
}

// FilterOptions applies the UI search filter: case-insensitive substring
// match on the option text. It is a pure post-filter over an already
// dependency-filtered list.
func (s *dependencyService) FilterOptions(options []models.Option, query string) []models.Option {
	query = strings.TrimSpace(query)
	if query == "" {
		return options
	}
	needle := strings.ToLower(query)
	filtered := make([]models.Option, 0, len(options))
	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt.Text), needle) {
			filtered = append(filtered, opt)
		}
	}
	return filtered
}

// QuestionEligible evaluates a question-level dependency conjunction, used
// by the authoring view. Navigation order is driven by next-id references,
// not by question eligibility.
func (s *dependencyService) QuestionEligible(question *models.Question, snapshot AnswerSnapshot) bool {
	return dependenciesSatisfied(question.DependsOn, snapshot)
}

func dependenciesSatisfied(deps []models.OptionDependency, snapshot AnswerSnapshot) bool {
	for _, dep := range deps {
		if snapshot.ChosenOptionID(dep.QuestionID) != dep.OptionID {
			return false
		}
	}
	return true
}
