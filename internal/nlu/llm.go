package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"booking-chatter/internal/llm"
)

const extractionPrompt = `You extract booking information from a single user message.
Respond with one JSON object and nothing else:
{"intent": "book|reschedule|cancel|unknown", "date": "", "time": "", "duration": "", "confirmation": "yes|no|", "selection": 0}
Rules:
- intent is "book" when the user wants a new appointment, "reschedule" to move one,
  "cancel" to stop or abandon, otherwise "unknown".
- date, time and duration copy the user's exact words ("next friday", "3pm", "for 30 minutes");
  leave them empty when absent. Never convert them to other formats.
- confirmation is "yes" for agreement, "no" for refusal, empty otherwise.
- selection is the 1-based number of an option the user picks ("the second one" is 2), else 0.`

// ErrMalformedResponse is returned when the model output is not the expected JSON.
var ErrMalformedResponse = errors.New("malformed extraction response")

type llmPayload struct {
	Intent       string `json:"intent"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	Duration     string `json:"duration"`
	Confirmation string `json:"confirmation"`
	Selection    int    `json:"selection"`
}

// LLMExtractor asks a language model for a strict JSON extraction.
type LLMExtractor struct {
	client llm.Client
}

func NewLLMExtractor(client llm.Client) *LLMExtractor {
	return &LLMExtractor{client: client}
}

func (e *LLMExtractor) Extract(ctx context.Context, text string) (Extraction, error) {
	resp, err := e.client.Generate(ctx, []llm.Message{
		{Role: "system", Content: extractionPrompt},
		{Role: "user", Content: text},
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("llm extraction: %w", err)
	}
	return parseExtraction(resp.Content, text)
}

func parseExtraction(content, text string) (Extraction, error) {
	raw := stripCodeFence(content)
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Extraction{}, fmt.Errorf("%w: no json object in %q", ErrMalformedResponse, content)
	}
	var p llmPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &p); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	out := Extraction{
		Intent: ParseIntent(p.Intent),
		Text:   text,
		Entities: Entities{
			Date:     strings.TrimSpace(p.Date),
			Time:     strings.TrimSpace(p.Time),
			Duration: strings.TrimSpace(p.Duration),
		},
	}
	switch strings.ToLower(strings.TrimSpace(p.Confirmation)) {
	case "yes":
		out.Entities.Confirmation = ConfirmYes
	case "no":
		out.Entities.Confirmation = ConfirmNo
	}
	if p.Selection > 0 {
		out.Entities.Selection = p.Selection
	}
	return out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

// Fallback uses Secondary whenever Primary fails.
type Fallback struct {
	Primary   Extractor
	Secondary Extractor
	Log       *zap.Logger
}

func (f Fallback) Extract(ctx context.Context, text string) (Extraction, error) {
	out, err := f.Primary.Extract(ctx, text)
	if err == nil {
		return out, nil
	}
	if f.Log != nil {
		f.Log.Warn("primary extractor failed, falling back", zap.Error(err))
	}
	return f.Secondary.Extract(ctx, text)
}
