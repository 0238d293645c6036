package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// chatSafetySettings lets finance questions about fraud through the default filters
var chatSafetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
}

// Gemini implements Generator using Google Gemini
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a new Gemini Generator
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{client: client}, nil
}

// Generate sends the prompt text, followed by the document if any, to prompt.Model
func (g *Gemini) Generate(ctx context.Context, prompt Prompt) (string, error) {
	model := g.client.GenerativeModel(prompt.Model)
	if prompt.JSON {
		model.ResponseMIMEType = "application/json"
	} else {
		model.SafetySettings = chatSafetySettings
	}

	parts := []genai.Part{genai.Text(prompt.Text)}
	if prompt.Document != nil {
		// Gemini reads PDFs and common image formats natively
		parts = append(parts, genai.Blob{
			MIMEType: prompt.Document.MIMEType,
			Data:     prompt.Document.Data,
		})
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return responseText.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
