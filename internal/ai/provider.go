package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// Evaluation is one essay's raw score on a 0-100 scale plus qualitative
// feedback.
type Evaluation struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Commentary is the aggregate qualitative result for a whole submission.
type Commentary struct {
	Feedback       string   `json:"feedback"`
	Strengths      []string `json:"strengths"`
	AreasToImprove []string `json:"areas_to_improve"`
}

// ObjectiveAnswer is one answered multiple-choice question as presented to
// the commentary model.
type ObjectiveAnswer struct {
	Question string   `json:"question"`
	Choices  []string `json:"choices"`
	Chosen   string   `json:"chosen"`
}

// EssayAnswer is one scored essay as presented to the commentary model.
type EssayAnswer struct {
	Topic      string `json:"topic"`
	UserAnswer string `json:"userAnswer"`
}

// FeedbackRequest groups a submission's answers by skill. Only the slot of
// the submission's skill is populated.
type FeedbackRequest struct {
	Vocabulary []ObjectiveAnswer `json:"vocabulary,omitempty"`
	Grammar    []ObjectiveAnswer `json:"grammar,omitempty"`
	Reading    []ObjectiveAnswer `json:"reading,omitempty"`
	Listening  []ObjectiveAnswer `json:"listening,omitempty"`
	Speaking   []ObjectiveAnswer `json:"speaking,omitempty"`
	Writing    []EssayAnswer     `json:"writing,omitempty"`
}

// EssayScorer grades one essay against its prompt topic.
type EssayScorer interface {
	Score(ctx context.Context, content, topic string) (*Evaluation, error)
}

// Commentator produces the overall comment, strengths and areas to improve
// for a submission. Called once per submission attempt.
type Commentator interface {
	Commentary(ctx context.Context, req *FeedbackRequest) (*Commentary, error)
}

const geminiModel = "gemini-2.0-flash"

type geminiProvider struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiProvider builds a provider implementing both EssayScorer and
// Commentator. Credentials come from the environment (GOOGLE_API_KEY).
func NewGeminiProvider(ctx context.Context, logger *slog.Logger) (*geminiProvider, error) {
	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiProvider{client: client, logger: logger}, nil
}

func (p *geminiProvider) Score(ctx context.Context, content, topic string) (*Evaluation, error) {
	prompt := scorerSystemPrompt + "\n\n" + buildScorerPrompt(content, topic)

	raw, err := p.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var eval Evaluation
	if err := json.Unmarshal([]byte(raw), &eval); err != nil {
		p.logger.Error("Failed to decode essay evaluation", "error", err, "raw", raw)
		return nil, fmt.Errorf("failed to decode essay evaluation: %w", err)
	}

	return &eval, nil
}

func (p *geminiProvider) Commentary(ctx context.Context, req *FeedbackRequest) (*Commentary, error) {
	user, err := buildCommentaryPrompt(req)
	if err != nil {
		return nil, err
	}

	raw, err := p.generate(ctx, commentarySystemPrompt+"\n\n"+user)
	if err != nil {
		return nil, err
	}

	var commentary Commentary
	if err := json.Unmarshal([]byte(raw), &commentary); err != nil {
		p.logger.Error("Failed to decode commentary", "error", err, "raw", raw)
		return nil, fmt.Errorf("failed to decode commentary: %w", err)
	}

	return &commentary, nil
}

func (p *geminiProvider) generate(ctx context.Context, prompt string) (string, error) {
	result, err := p.client.Models.GenerateContent(ctx, geminiModel, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	raw := result.Text()
	if raw == "" {
		return "", errors.New("empty model response")
	}

	return cleanJSONResponse(raw), nil
}

// cleanJSONResponse strips markdown code fences the model sometimes wraps
// around its JSON output.
func cleanJSONResponse(raw string) string {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimSuffix(clean, "```")
	return strings.Trim(clean, "`")
}
