package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"portal/config"
	"portal/models"
	"portal/repository"

	openai "github.com/sashabaranov/go-openai"
)

// Generator produces analysis text from a prompt. The engine is agnostic to
// the vendor behind it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// AnalysisResult is the outcome of a cache resolution.
type AnalysisResult struct {
	Text      string `json:"text"`
	FromCache bool   `json:"from_cache"`
}

// AnalysisService is the AI response cache: generated text is stored on the
// answer row, keyed per button, and reused as long as the recorded input
// value is unchanged. Two buttons on the same question cache independently.
type AnalysisService interface {
	Resolve(ctx context.Context, scopeID string, questionID int, branchCtx models.BranchContext, buttonID, currentInput string, forceRefresh bool) (*AnalysisResult, error)
}

type analysisService struct {
	answers   repository.AnswerRepository
	graphs    repository.GraphRepository
	generator Generator
}

// NewAnalysisService creates the analysis cache over an answer store and a
// generator.
func NewAnalysisService(answers repository.AnswerRepository, graphs repository.GraphRepository, generator Generator) AnalysisService {
	return &analysisService{answers: answers, graphs: graphs, generator: generator}
}

// Resolve returns the cached text when the stored answer's input value
// equals currentInput and the cached text is non-empty, unless forceRefresh
// is set. Otherwise it invokes the generator and writes the result back
// through the answer store's merge, leaving other buttons' responses
// untouched. A generation failure leaves the cache exactly as it was.
func (s *analysisService) Resolve(ctx context.Context, scopeID string, questionID int, branchCtx models.BranchContext, buttonID, currentInput string, forceRefresh bool) (*AnalysisResult, error) {
	stored, err := s.answers.Get(scopeID, questionID, branchCtx)
	if err != nil {
		return nil, err
	}

	if !forceRefresh && stored != nil && stored.Value.InputText() == currentInput {
		if cached := cachedText(stored.Analysis, buttonID); cached != "" {
			log.Printf("INFO: [AnalysisService] Cache hit for question %d button '%s' (scope '%s').", questionID, buttonID, scopeID)
			return &AnalysisResult{Text: cached, FromCache: true}, nil
		}
	}

	prompt, err := s.buildPrompt(questionID, buttonID, currentInput)
	if err != nil {
		return nil, err
	}

	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		// The stored analysis is left untouched; stale text beats poisoned
		// text.
		log.Printf("ERROR: [AnalysisService] Generation failed for question %d button '%s': %v", questionID, buttonID, err)
		return nil, &GenerationError{Err: err}
	}

	value := writebackValue(stored, currentInput)
	patch := &models.AIAnalysis{}
	if buttonID == "" {
		patch.Analysis = text
	} else {
		patch.ButtonResponses = map[string]string{buttonID: text}
	}
	if _, err := s.answers.Save(scopeID, questionID, value, branchCtx, patch); err != nil {
		return nil, err
	}

	log.Printf("INFO: [AnalysisService] Generated analysis for question %d button '%s' (scope '%s', %d chars).", questionID, buttonID, scopeID, len(text))
	return &AnalysisResult{Text: text}, nil
}

func cachedText(analysis *models.AIAnalysis, buttonID string) string {
	if analysis == nil {
		return ""
	}
	if buttonID == "" {
		return analysis.Analysis
	}
	return analysis.ButtonResponses[buttonID]
}

// writebackValue keeps the stored answer value when its input already
// matches; otherwise the current input becomes the recorded value the next
// change detection compares against.
func writebackValue(stored *models.Answer, currentInput string) models.AnswerValue {
	if stored != nil {
		if stored.Value.InputText() == currentInput {
			return stored.Value
		}
		if stored.Value.Kind == models.QuestionKindInput {
			value := stored.Value
			value.Input = currentInput
			return value
		}
	}
	return models.InputValue(currentInput)
}

func (s *analysisService) buildPrompt(questionID int, buttonID, currentInput string) (string, error) {
	questions, _, err := s.graphs.Load()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := range questions {
		if questions[i].ID != questionID {
			continue
		}
		q := &questions[i]
		if buttonID != "" {
			for _, button := range q.AIButtons {
				if button.ID == buttonID && button.Prompt != "" {
					b.WriteString(button.Prompt)
					b.WriteString("\n\n")
				}
			}
		}
		fmt.Fprintf(&b, "Question: %s\nAnswer: %s\n", q.Text, currentInput)
		return b.String(), nil
	}
	return "", fmt.Errorf("question %d not found in the current graph", questionID)
}

// openAIGenerator is the production Generator: a one-shot chat completion
// against the provider configured for the analysis model.
type openAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator builds a generator from the application config.
func NewOpenAIGenerator() (Generator, error) {
	model := config.AppConfig.AnalysisModel
	if model == "" {
		return nil, errors.New("analysis_model is not configured")
	}
	providerKey, ok := config.AppConfig.LLMModels[model]
	if !ok {
		return nil, fmt.Errorf("model '%s' is not mapped to a provider", model)
	}
	providerConfig, ok := config.AppConfig.LLMProviders[providerKey]
	if !ok {
		return nil, fmt.Errorf("provider '%s' is not configured", providerKey)
	}
	if providerConfig.APIKey == "" || providerConfig.BaseURL == "" {
		return nil, fmt.Errorf("provider '%s' is missing an API key or base URL", providerKey)
	}

	clientConfig := openai.DefaultConfig(providerConfig.APIKey)
	clientConfig.BaseURL = providerConfig.BaseURL
	return &openAIGenerator{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

func (g *openAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed for model %s: %w", g.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("the model returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
