package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const ollamaSystemPrompt = "You are an expert at reading invoices and answering questions about personal and business spending. Read all text in attached images carefully."

// Ollama implements Generator against a local Ollama server.
// Vision models served by Ollama only accept images, so documents are
// converted to PNG before they are sent.
type Ollama struct {
	baseURL string
	client  *http.Client
}

// NewOllama creates a new Ollama Generator. Request deadlines come from the
// caller's context.
func NewOllama(baseURL string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Generate posts the prompt to /api/chat
func (o *Ollama) Generate(ctx context.Context, prompt Prompt) (string, error) {
	user := ollamaMessage{Role: "user", Content: prompt.Text}
	if prompt.Document != nil {
		img, err := toPNG(*prompt.Document)
		if err != nil {
			return "", fmt.Errorf("preparing document: %w", err)
		}
		user.Images = []string{base64.StdEncoding.EncodeToString(img.Data)}
	}

	reqBody := ollamaChatRequest{
		Model:  prompt.Model,
		Stream: false,
		Messages: []ollamaMessage{
			{Role: "system", Content: ollamaSystemPrompt},
			user,
		},
	}
	if prompt.JSON {
		reqBody.Format = "json"
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return chatResp.Message.Content, nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
