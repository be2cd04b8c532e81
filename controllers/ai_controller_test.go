package controller

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"inboxpilot/utils"
)

type fakeAnalyzer struct {
	draft     string
	err       error
	gotPrompt string
	gotTone   string
	gotExtra  string
}

func (f *fakeAnalyzer) AnalyzeEmail(ctx context.Context, input utils.EmailInput) (*utils.EmailAnalysis, error) {
	return utils.FallbackAnalysis(), nil
}

func (f *fakeAnalyzer) GenerateDraft(ctx context.Context, prompt, tone, extra string) (string, error) {
	f.gotPrompt = prompt
	f.gotTone = tone
	f.gotExtra = extra
	if f.err != nil {
		return "", f.err
	}
	return f.draft, nil
}

func newAIApp(analyzer *fakeAnalyzer) *fiber.App {
	app := fiber.New()
	ac := NewAIController(analyzer, testLogger())
	app.Post("/api/ai/generate-email", ac.GenerateEmail)
	return app
}

func TestGenerateEmail(t *testing.T) {
	analyzer := &fakeAnalyzer{draft: "Dear Bob,\n\nThe meeting moved to 3pm.\n\nBest,"}
	app := newAIApp(analyzer)

	resp, body := doJSON(t, app, http.MethodPost, "/api/ai/generate-email", map[string]string{
		"prompt":  "tell bob the meeting moved to 3pm",
		"tone":    "casual",
		"context": "Bob is a colleague",
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d: %v", resp.StatusCode, body)
	}
	if body["email_text"] != analyzer.draft {
		t.Errorf("email_text = %v", body["email_text"])
	}
	if body["tone"] != "casual" {
		t.Errorf("tone = %v, want casual", body["tone"])
	}
	if analyzer.gotTone != "casual" || analyzer.gotExtra != "Bob is a colleague" {
		t.Errorf("analyzer got tone=%q extra=%q", analyzer.gotTone, analyzer.gotExtra)
	}
}

func TestGenerateEmailDefaultsTone(t *testing.T) {
	analyzer := &fakeAnalyzer{draft: "Dear team,"}
	app := newAIApp(analyzer)

	resp, body := doJSON(t, app, http.MethodPost, "/api/ai/generate-email", map[string]string{
		"prompt": "announce the release",
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["tone"] != "professional" {
		t.Errorf("tone = %v, want professional", body["tone"])
	}
	if analyzer.gotTone != "professional" {
		t.Errorf("analyzer got tone=%q", analyzer.gotTone)
	}
}

func TestGenerateEmailValidation(t *testing.T) {
	app := newAIApp(&fakeAnalyzer{draft: "x"})

	// Missing prompt
	resp, body := doJSON(t, app, http.MethodPost, "/api/ai/generate-email", map[string]string{
		"tone": "casual",
	})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("missing prompt status = %d, want 400", resp.StatusCode)
	}
	if body["code"] != utils.CodeValidationFailed {
		t.Errorf("code = %v", body["code"])
	}

	// Unsupported tone
	resp, _ = doJSON(t, app, http.MethodPost, "/api/ai/generate-email", map[string]string{
		"prompt": "hello",
		"tone":   "sarcastic",
	})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("bad tone status = %d, want 400", resp.StatusCode)
	}
}

func TestGenerateEmailUpstreamFailure(t *testing.T) {
	analyzer := &fakeAnalyzer{err: fmt.Errorf("model overloaded")}
	app := newAIApp(analyzer)

	resp, body := doJSON(t, app, http.MethodPost, "/api/ai/generate-email", map[string]string{
		"prompt": "hello",
	})
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if body["code"] != utils.CodeAnalysisFailed {
		t.Errorf("code = %v, want %s", body["code"], utils.CodeAnalysisFailed)
	}
}
