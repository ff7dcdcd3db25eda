package llm

import (
	"context"
	"testing"
)

func TestFactory_RejectsUnknownAndUnconfigured(t *testing.T) {
	f := &Factory{}
	if _, err := f.CreateClient(context.Background(), "mistral"); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if _, err := f.CreateClient(context.Background(), "openai"); err == nil {
		t.Fatalf("expected error for openai without key")
	}
	if _, err := f.CreateClient(context.Background(), "gemini"); err == nil {
		t.Fatalf("expected error for gemini without key")
	}
}

func TestFactory_CreatesOpenAI(t *testing.T) {
	f := &Factory{OpenaiAPIKey: "sk-test", OpenaiModel: "gpt-4o-mini"}
	c, err := f.CreateClient(context.Background(), "OpenAI")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.(*OpenAIClient); !ok {
		t.Fatalf("expected *OpenAIClient, got %T", c)
	}
}
