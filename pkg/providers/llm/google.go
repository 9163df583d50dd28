package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Google is a Gemini generateContent adapter, adapted directly from the
// teacher's GoogleLLM with this package's Message type in place of
// orchestrator.Message.
type Google struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

// NewGoogle builds a Gemini generateContent adapter.
func NewGoogle(apiKey, model string) *Google {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Google{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		model:  model,
		client: http.DefaultClient,
	}
}

func (l *Google) Name() string { return "google:" + l.model }

func (l *Google) Complete(ctx context.Context, messages []Message) (string, error) {
	type part struct {
		Text string `json:"text"`
	}
	type googleMessage struct {
		Role  string `json:"role"`
		Parts []part `json:"parts"`
	}

	var googleMessages []googleMessage
	for _, m := range messages {
		role := m.Role
		if role == "system" {
			role = "user" // Gemini doesn't handle a dedicated system role in every model
		}
		if role == "assistant" {
			role = "model"
		}
		googleMessages = append(googleMessages, googleMessage{Role: role, Parts: []part{{Text: m.Content}}})
	}

	payload := map[string]interface{}{"contents": googleMessages}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url+"?key="+l.apiKey, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("google llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []part `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from google llm")
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}
