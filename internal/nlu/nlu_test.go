package nlu

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"booking-chatter/internal/llm"
)

type fakeLLM struct {
	content string
	err     error
	calls   int
}

func (f *fakeLLM) Generate(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	f.calls++
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Content: f.content}, nil
}

func TestRuleExtractor_Intents(t *testing.T) {
	rx := NewRuleExtractor()
	cases := map[string]Intent{
		"book a 30 minute meeting tomorrow at 3pm": IntentBook,
		"Can we schedule a call?":                  IntentBook,
		"I need to reschedule":                     IntentReschedule,
		"cancel":                                   IntentCancel,
		"never mind":                               IntentCancel,
		"hello":                                    IntentUnknown,
		"tomorrow at 3pm":                          IntentUnknown,
	}
	for text, want := range cases {
		got, err := rx.Extract(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, want, got.Intent, text)
		assert.Equal(t, text, got.Text)
	}
}

func TestRuleExtractor_Entities(t *testing.T) {
	rx := NewRuleExtractor()

	got, err := rx.Extract(context.Background(), "Book a 30 minute meeting tomorrow at 3pm")
	require.NoError(t, err)
	assert.Equal(t, "tomorrow", got.Entities.Date)
	assert.Equal(t, "3pm", got.Entities.Time)
	assert.Equal(t, "30 minute", got.Entities.Duration)
	assert.Equal(t, "tomorrow 3pm 30 minute", got.Entities.TemporalFragment())

	got, err = rx.Extract(context.Background(), "no, how about Friday instead")
	require.NoError(t, err)
	assert.Equal(t, ConfirmNo, got.Entities.Confirmation)
	assert.Equal(t, "friday", got.Entities.Date)
	assert.True(t, got.Entities.HasTemporal())
}

func TestRuleExtractor_ConfirmationAndSelection(t *testing.T) {
	rx := NewRuleExtractor()
	cases := []struct {
		text      string
		confirm   Confirmation
		selection int
	}{
		{"yes please", ConfirmYes, 0},
		{"Sounds good!", ConfirmYes, 0},
		{"nope", ConfirmNo, 0},
		{"that doesn't work", ConfirmNo, 0},
		{"2", ConfirmNone, 2},
		{"option 3", ConfirmNone, 3},
		{"the second one", ConfirmNone, 2},
		{"first one works", ConfirmYes, 1},
		{"hmm", ConfirmNone, 0},
		{"yes, no problem", ConfirmYes, 0},
		{"no problem", ConfirmYes, 0},
		{"works, nothing to change", ConfirmYes, 0},
		{"I'd rather not", ConfirmNo, 0},
		{"no, the other one is fine", ConfirmNo, 0},
	}
	for _, tc := range cases {
		got, err := rx.Extract(context.Background(), tc.text)
		require.NoError(t, err)
		assert.Equal(t, tc.confirm, got.Entities.Confirmation, tc.text)
		assert.Equal(t, tc.selection, got.Entities.Selection, tc.text)
	}
}

func TestLLMExtractor_ParsesFencedJSON(t *testing.T) {
	f := &fakeLLM{content: "```json\n{\"intent\":\"booking\",\"date\":\"tomorrow\",\"time\":\"3pm\",\"duration\":\"\",\"confirmation\":\"\",\"selection\":0}\n```"}
	got, err := NewLLMExtractor(f).Extract(context.Background(), "book tomorrow 3pm")
	require.NoError(t, err)
	assert.Equal(t, IntentBook, got.Intent)
	assert.Equal(t, "tomorrow", got.Entities.Date)
	assert.Equal(t, "3pm", got.Entities.Time)
	assert.Equal(t, "book tomorrow 3pm", got.Text)
}

func TestLLMExtractor_UnknownLabelsAndGarbage(t *testing.T) {
	f := &fakeLLM{content: `{"intent":"weather","confirmation":"maybe"}`}
	got, err := NewLLMExtractor(f).Extract(context.Background(), "what's the weather")
	require.NoError(t, err)
	assert.Equal(t, IntentUnknown, got.Intent)
	assert.Equal(t, ConfirmNone, got.Entities.Confirmation)

	f.content = "I cannot help with that"
	_, err = NewLLMExtractor(f).Extract(context.Background(), "x")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestFallback_UsesSecondaryOnError(t *testing.T) {
	f := &fakeLLM{err: errors.New("rate limited")}
	fb := Fallback{Primary: NewLLMExtractor(f), Secondary: NewRuleExtractor(), Log: zap.NewNop()}
	got, err := fb.Extract(context.Background(), "cancel")
	require.NoError(t, err)
	assert.Equal(t, IntentCancel, got.Intent)
	assert.Equal(t, 1, f.calls)
}

func TestParseIntent(t *testing.T) {
	assert.Equal(t, IntentBook, ParseIntent(" Book "))
	assert.Equal(t, IntentReschedule, ParseIntent("modification"))
	assert.Equal(t, IntentCancel, ParseIntent("cancellation"))
	assert.Equal(t, IntentUnknown, ParseIntent(""))
}
