package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Anthropic is a Claude Messages API adapter. Grounded on the teacher's
// AnthropicLLM in pkg/providers/llm/anthropic.go, generalized to this
// package's Message type.
type Anthropic struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

// NewAnthropic builds an Anthropic Messages API adapter.
func NewAnthropic(apiKey, model string) *Anthropic {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &Anthropic{apiKey: apiKey, url: "https://api.anthropic.com/v1/messages", model: model, client: http.DefaultClient}
}

func (l *Anthropic) Name() string { return "anthropic:" + l.model }

func (l *Anthropic) Complete(ctx context.Context, messages []Message) (string, error) {
	var system string
	var anthropicMessages []map[string]string
	for _, msg := range messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}
		anthropicMessages = append(anthropicMessages, map[string]string{"role": msg.Role, "content": msg.Content})
	}

	payload := map[string]interface{}{
		"model":      l.model,
		"messages":   anthropicMessages,
		"max_tokens": 1024,
	}
	if system != "" {
		payload["system"] = system
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("anthropic error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("no content returned from anthropic")
	}
	return result.Content[0].Text, nil
}

// OpenAIChat is a Chat Completions API adapter. Grounded on the teacher's
// OpenAILLM.
type OpenAIChat struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

// NewOpenAIChat builds a Chat Completions API adapter.
func NewOpenAIChat(apiKey, model string) *OpenAIChat {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIChat{apiKey: apiKey, url: "https://api.openai.com/v1/chat/completions", model: model, client: http.DefaultClient}
}

func (l *OpenAIChat) Name() string { return "openai:" + l.model }

func (l *OpenAIChat) Complete(ctx context.Context, messages []Message) (string, error) {
	payload := map[string]interface{}{
		"model":    l.model,
		"messages": messages,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("openai error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from openai")
	}
	return result.Choices[0].Message.Content, nil
}
