package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"inboxpilot/config"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// EmailInput is the slice of a message handed to the analyzer.
type EmailInput struct {
	Subject string
	From    string
	Body    string
}

// EmailAnalysis is the annotation bundle produced for each ingested message.
type EmailAnalysis struct {
	Summary          string   `json:"summary"`
	Category         string   `json:"category"`
	Priority         string   `json:"priority"`
	Sentiment        string   `json:"sentiment"`
	ActionItems      []string `json:"actionItems"`
	SuggestedReplies []string `json:"suggestedReplies"`
}

// Analyzer abstracts the AI backend so ingestion and the draft endpoint can be
// tested against fakes.
type Analyzer interface {
	AnalyzeEmail(ctx context.Context, input EmailInput) (*EmailAnalysis, error)
	GenerateDraft(ctx context.Context, prompt, tone, extra string) (string, error)
}

// AIClient implements Analyzer against the Gemini REST API.
type AIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

func NewAIClient(cfg config.GeminiConfig, logger *log.Logger) *AIClient {
	return &AIClient{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: geminiBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// generate sends one prompt to the model and returns the first candidate's text.
func (a *AIClient) generate(ctx context.Context, prompt string) (string, error) {
	if a.apiKey == "" {
		return "", fmt.Errorf("gemini api key is not configured")
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, a.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("gemini error %d: %s", parsed.Error.Code, parsed.Error.Message)
		}
		return "", fmt.Errorf("gemini returned status %d", resp.StatusCode)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

func (a *AIClient) AnalyzeEmail(ctx context.Context, input EmailInput) (*EmailAnalysis, error) {
	prompt := fmt.Sprintf(`Analyze this email and respond with ONLY a JSON object in this exact format:
{
  "summary": "one sentence summary",
  "category": "work|personal|newsletter|spam",
  "priority": "high|medium|low",
  "sentiment": "positive|neutral|negative|urgent",
  "actionItems": ["item 1", "item 2"],
  "suggestedReplies": ["reply 1", "reply 2", "reply 3"]
}

Email:
Subject: %s
From: %s
Body: %s`, input.Subject, input.From, truncate(input.Body, 4000))

	text, err := a.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var analysis EmailAnalysis
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}
	return &analysis, nil
}

func (a *AIClient) GenerateDraft(ctx context.Context, prompt, tone, extra string) (string, error) {
	instruction, ok := toneInstructions[tone]
	if !ok {
		instruction = toneInstructions["professional"]
	}

	full := fmt.Sprintf("Write an email based on this request: %s\n\n%s", prompt, instruction)
	if extra != "" {
		full += fmt.Sprintf("\n\nAdditional context:\n%s", extra)
	}
	full += "\n\nRespond with ONLY the email body text, no subject line, no explanations."

	return a.generate(ctx, full)
}

var toneInstructions = map[string]string{
	"professional": "Use a professional, courteous tone suitable for business correspondence.",
	"casual":       "Use a relaxed, friendly tone as if writing to a colleague you know well.",
	"brief":        "Be as brief as possible. A few short sentences at most.",
}

// FallbackAnalysis is the deterministic bundle attached when the analyzer is
// unavailable at ingestion time.
func FallbackAnalysis() *EmailAnalysis {
	return &EmailAnalysis{
		Summary:     "Email analysis unavailable",
		Category:    "personal",
		Priority:    "medium",
		Sentiment:   "neutral",
		ActionItems: []string{},
		SuggestedReplies: []string{
			"Thank you for your email.",
			"Thanks for reaching out!",
			"Got it, thanks!",
		},
	}
}

// stripCodeFences removes a ```json ... ``` wrapper the model sometimes adds.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
