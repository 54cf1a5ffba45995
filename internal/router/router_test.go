package router

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/satriahrh/voicegate/domain"
	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
)

type stubResponder struct{ name string }

func (s *stubResponder) StreamRespond(ctx context.Context, text string, history []entities.Turn) (<-chan repositories.TextDelta, error) {
	ch := make(chan repositories.TextDelta)
	close(ch)
	return ch, nil
}

func (s *stubResponder) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return nil, nil
}

func responders(labels ...entities.IntentLabel) map[entities.IntentLabel]repositories.Responder {
	out := make(map[entities.IntentLabel]repositories.Responder)
	for _, l := range labels {
		out[l] = &stubResponder{name: string(l)}
	}
	return out
}

func newTestRouter(t *testing.T, labels ...entities.IntentLabel) *Router {
	t.Helper()
	r, err := NewRouter(NewKeywordClassifier(DefaultKeywords), responders(labels...), DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	return r
}

func transcript(text string) entities.Transcript {
	return entities.Transcript{Text: text, Final: true}
}

func TestRouter_ChemotherapyRoutesToTreatment(t *testing.T) {
	r := newTestRouter(t, entities.IntentGeneral, entities.IntentTreatment, entities.IntentOncology)

	first := r.Route(transcript("What is chemotherapy?"), nil)
	second := r.Route(transcript("What is chemotherapy?"), nil)

	if first != entities.IntentTreatment {
		t.Errorf("Expected %s, got %s", entities.IntentTreatment, first)
	}
	if first != second {
		t.Errorf("Routing is not deterministic: %s then %s", first, second)
	}

	responder, err := r.Dispatch(first)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if responder.(*stubResponder).name != string(entities.IntentTreatment) {
		t.Errorf("Expected treatment responder, got %s", responder.(*stubResponder).name)
	}
}

func TestRouter_FallsBackWhenLabelNotRegistered(t *testing.T) {
	r := newTestRouter(t, entities.IntentGeneral)

	label := r.Route(transcript("What is chemotherapy?"), nil)
	if label != entities.IntentTreatment {
		t.Fatalf("Classification should not depend on registration, got %s", label)
	}

	if resolved := r.Resolve(label); resolved != entities.IntentGeneral {
		t.Errorf("Expected fallback to general, got %s", resolved)
	}
	responder, err := r.Dispatch(label)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if responder.(*stubResponder).name != string(entities.IntentGeneral) {
		t.Errorf("Expected general responder, got %s", responder.(*stubResponder).name)
	}
}

func TestRouter_Route(t *testing.T) {
	all := entities.IntentLabels

	tests := []struct {
		name    string
		text    string
		history []entities.Turn
		want    entities.IntentLabel
	}{
		{
			name: "no keywords goes to general",
			text: "Hello there, how are you?",
			want: entities.IntentGeneral,
		},
		{
			name: "single candidate",
			text: "I keep getting a migraine",
			want: entities.IntentNeurology,
		},
		{
			name: "plural matches word prefix",
			text: "Are tumors always malignant?",
			want: entities.IntentOncology,
		},
		{
			name: "best score wins without history",
			text: "Does my diet and food choice affect my heart?",
			want: entities.IntentNutrition,
		},
		{
			name: "tie without history falls back to general",
			text: "Is my heart affected by my diet?",
			want: entities.IntentGeneral,
		},
		{
			name: "tie sticks to most recent intent",
			text: "Is my heart affected by my diet?",
			history: []entities.Turn{
				{Speaker: entities.SpeakerUser, Text: "I have high blood pressure"},
				{Speaker: string(entities.IntentCardiology), Text: "High blood pressure often has no symptoms."},
			},
			want: entities.IntentCardiology,
		},
		{
			name: "sticky ignores stale intents that are not candidates",
			text: "Should I take a pill for stress?",
			history: []entities.Turn{
				{Speaker: string(entities.IntentMentalHealth), Text: "Breathing exercises may help."},
				{Speaker: string(entities.IntentNeurology), Text: "Migraines can have many triggers."},
			},
			want: entities.IntentMentalHealth,
		},
		{
			name: "history does not override a single candidate",
			text: "What vitamin should I eat more of?",
			history: []entities.Turn{
				{Speaker: string(entities.IntentCardiology), Text: "Keep an eye on your cholesterol."},
			},
			want: entities.IntentNutrition,
		},
	}

	r := newTestRouter(t, all...)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Route(transcript(tt.text), tt.history); got != tt.want {
				t.Errorf("Route(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func TestNewRouter_RequiresDefaultResponder(t *testing.T) {
	_, err := NewRouter(NewKeywordClassifier(DefaultKeywords), responders(entities.IntentCardiology), DefaultConfig(), zap.NewNop())
	if !errors.Is(err, domain.ErrNoResponderRegistered) {
		t.Errorf("Expected ErrNoResponderRegistered, got %v", err)
	}

	cfg := DefaultConfig()
	cfg.Default = entities.IntentCardiology
	if _, err := NewRouter(NewKeywordClassifier(DefaultKeywords), responders(entities.IntentCardiology), cfg, zap.NewNop()); err != nil {
		t.Errorf("Custom default should be accepted, got %v", err)
	}
}

func TestRouter_Labels(t *testing.T) {
	r := newTestRouter(t, entities.IntentTreatment, entities.IntentGeneral)
	labels := r.Labels()
	if len(labels) != 2 || labels[0] != entities.IntentGeneral || labels[1] != entities.IntentTreatment {
		t.Errorf("Unexpected labels %v", labels)
	}
}

func TestKeywordClassifier_Scores(t *testing.T) {
	c := NewKeywordClassifier(DefaultKeywords)

	scores := c.Scores("CHEST PAIN, high blood-pressure and heart racing!")
	if scores[entities.IntentCardiology] != 3 {
		t.Errorf("Expected 3 cardiology hits, got %v", scores[entities.IntentCardiology])
	}

	if s := c.Scores("chemotherapy")[entities.IntentTreatment]; s != 1 {
		t.Errorf("chemotherapy should count once for treatment, got %v", s)
	}
}
