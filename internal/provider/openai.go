package provider

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/specforge/specforge/internal/config"
)

// systemPrompt frames every exchange. The per-unit instructions come from
// the rendered template in GenerateRequest.Prompt.
const systemPrompt = "You are a code generator. You output only Go source code, " +
	"never prose and never markdown fences."

// OpenAIProvider generates code through any OpenAI-compatible chat
// completion endpoint.
type OpenAIProvider struct {
	client *openai.Client
	cfg    config.ProviderConfig
}

// NewOpenAIProvider builds a provider from its configuration. The API key
// comes from the environment variable named in the config.
func NewOpenAIProvider(cfg config.ProviderConfig, apiKey string) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

// Generate performs one chat completion. The continuation token replays
// prior prompt/reply turns so a retry sees its own earlier attempt. Each
// call is bounded by the configured per-call timeout.
func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.Timeout)*time.Second)
		defer cancel()
	}

	turns, err := decodeContinuation(req.Continuation)
	if err != nil {
		return GenerateResult{}, &GeneratorError{UnitID: req.UnitID, Err: err}
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2*len(turns)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, t := range turns {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: t.Prompt},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: t.Reply},
		)
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		Temperature: float32(p.cfg.Temperature),
	}
	if req.Seed != 0 {
		seed := req.Seed
		chatReq.Seed = &seed
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return GenerateResult{}, &GeneratorError{UnitID: req.UnitID, Err: err}
	}
	if len(resp.Choices) == 0 {
		return GenerateResult{}, &GeneratorError{
			UnitID: req.UnitID,
			Err:    errors.New("completion returned no choices"),
		}
	}

	reply := resp.Choices[0].Message.Content
	return GenerateResult{
		Code:         CleanCode(reply),
		Continuation: encodeContinuation(append(turns, turn{Prompt: req.Prompt, Reply: reply})),
		Model:        resp.Model,
	}, nil
}
