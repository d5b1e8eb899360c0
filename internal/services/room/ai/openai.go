package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ICTLearningSciences/math-meridio-client-sub000/internal/errors"
)

// OpenAIConfig configures the OpenAI responses endpoint and HTTP behavior.
type OpenAIConfig struct {
	ResponsesURL string
	APIKey       string
	DefaultModel string
	HTTPClient   *http.Client
}

type openAIInvoker struct {
	cfg OpenAIConfig
}

// NewOpenAIInvoker builds an invoker backed by the OpenAI responses endpoint.
func NewOpenAIInvoker(cfg OpenAIConfig) Invoker {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.ResponsesURL) == "" {
		cfg.ResponsesURL = "https://api.openai.com/v1/responses"
	}
	return &openAIInvoker{cfg: cfg}
}

func (a *openAIInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	apiKey := strings.TrimSpace(a.cfg.APIKey)
	if apiKey == "" {
		return Result{}, errors.New(errors.CodeInvocationFailed, "api key is required")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(a.cfg.DefaultModel)
	}
	if model == "" {
		return Result{}, errors.New(errors.CodeInvocationFailed, "model is required")
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Result{}, errors.New(errors.CodeInvocationFailed, "prompt is required")
	}

	body := map[string]any{
		"model": model,
		"input": composeInput(req),
	}
	if req.JSONMode {
		body["text"] = map[string]any{
			"format": map[string]any{"type": "json_object"},
		}
	}
	requestBody, err := json.Marshal(body)
	if err != nil {
		return Result{}, errors.Wrap(errors.CodeInvocationFailed, "marshal invoke request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.ResponsesURL, bytes.NewReader(requestBody))
	if err != nil {
		return Result{}, errors.Wrap(errors.CodeInvocationFailed, "build invoke request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Credential material is sent only as an Authorization header and is
	// never echoed in errors or log output.
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := a.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return Result{}, errors.Wrap(errors.CodeInvocationFailed, "invoke request failed", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		errBody, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
		if readErr != nil {
			return Result{}, errors.Wrap(errors.CodeInvocationFailed, "read invoke error body", readErr)
		}
		return Result{}, errors.WithMetadata(errors.CodeInvocationFailed,
			fmt.Sprintf("invoke request status %d: %s", res.StatusCode, strings.TrimSpace(string(errBody))),
			map[string]string{"status": fmt.Sprintf("%d", res.StatusCode)})
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return Result{}, errors.Wrap(errors.CodeInvocationFailed, "read invoke response", err)
	}

	var payload struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Result{}, errors.Wrap(errors.CodeInvocationFailed, "decode invoke response", err)
	}
	outputText := strings.TrimSpace(payload.OutputText)
	if outputText == "" {
		for _, item := range payload.Output {
			for _, content := range item.Content {
				if strings.TrimSpace(content.Text) != "" {
					outputText = strings.TrimSpace(content.Text)
					break
				}
			}
			if outputText != "" {
				break
			}
		}
	}
	if outputText == "" {
		return Result{}, errors.New(errors.CodeInvocationFailed, "invoke response missing output text")
	}
	return Result{Text: outputText, Raw: raw}, nil
}

// composeInput flattens the request into a single input string: system
// framing, chat context, the prompt, then the response format instruction.
func composeInput(req Request) string {
	var parts []string
	if role := strings.TrimSpace(req.SystemRole); role != "" {
		parts = append(parts, role)
	}
	if chatContext := strings.TrimSpace(req.Context); chatContext != "" {
		parts = append(parts, "Conversation so far:\n"+chatContext)
	}
	parts = append(parts, strings.TrimSpace(req.Prompt))
	if format := strings.TrimSpace(req.ResponseFormat); format != "" {
		parts = append(parts, "Respond in this format: "+format)
	}
	return strings.Join(parts, "\n\n")
}
