package persona_test

import (
	"strings"
	"testing"

	"ensemble/internal/persona"
)

const minimalBundle = `{
  "id": "companion",
  "name": "Companion",
  "version": "1.0.0",
  "voice": {"voice_id": "voice-1"},
  "system_prompt": "You are a friendly companion."
}`

func TestFromBundleDefaults(t *testing.T) {
	p, err := persona.FromBundle([]byte(minimalBundle))
	if err != nil {
		t.Fatalf("FromBundle: %v", err)
	}

	if p.ID != "companion" || p.Version != "1.0.0" {
		t.Fatalf("identity not preserved: %#v", p)
	}
	if p.Adaptation.Kind != persona.InstructionOnly {
		t.Fatalf("expected instruction_only default, got %s", p.Adaptation.Kind)
	}
	if p.Voice.Provider != "elevenlabs" || p.Voice.Language != "en-US" {
		t.Fatalf("voice defaults not applied: %#v", p.Voice)
	}
	if p.Voice.Speed != 1.0 || p.Voice.Stability != 0.5 || p.Voice.SimilarityBoost != 0.75 {
		t.Fatalf("voice tuning defaults not applied: %#v", p.Voice)
	}
	if p.Generation.MaxResponseTokens != 500 || p.Generation.Temperature != 0.7 {
		t.Fatalf("generation defaults not applied: %#v", p.Generation)
	}
	if !p.Triggers.Allows(persona.TriggerManual) || p.Triggers.Allows(persona.TriggerButton) {
		t.Fatalf("expected manual-only trigger default, got %#v", p.Triggers)
	}
	if p.ContextRetentionHours != 24 {
		t.Fatalf("expected 24h retention default, got %d", p.ContextRetentionHours)
	}
	if p.LoadedAt.IsZero() {
		t.Fatal("LoadedAt not set")
	}
}

func TestFromBundleExplicitValues(t *testing.T) {
	doc := `{
  "id": "storyteller",
  "name": "Storyteller",
  "version": "2.1.0",
  "adaptation": {"mode": "instruction_rag", "knowledge_docs": ["tales.md"]},
  "voice": {"voice_id": "voice-2", "language": "de-DE", "speed": 0.9, "stability": 0.8},
  "generation": {"max_response_tokens": 800, "temperature": 0.4},
  "triggers": {"types": ["button", "voice_command"]},
  "context_retention_hours": 48,
  "tags": ["bedtime"],
  "system_prompt": "You tell stories.",
  "examples": [{"user_message": "tell me a story", "assistant_response": "Once upon a time..."}]
}`
	p, err := persona.FromBundle([]byte(doc))
	if err != nil {
		t.Fatalf("FromBundle: %v", err)
	}

	if p.Adaptation.Kind != persona.InstructionRAG || len(p.Adaptation.KnowledgeDocs) != 1 {
		t.Fatalf("unexpected adaptation: %#v", p.Adaptation)
	}
	if p.Voice.Language != "de-DE" || p.Voice.Speed != 0.9 || p.Voice.Stability != 0.8 {
		t.Fatalf("unexpected voice: %#v", p.Voice)
	}
	if p.Generation.MaxResponseTokens != 800 || p.Generation.Temperature != 0.4 {
		t.Fatalf("unexpected generation: %#v", p.Generation)
	}
	if !p.Triggers.Allows(persona.TriggerButton) || p.Triggers.Allows(persona.TriggerManual) {
		t.Fatalf("unexpected triggers: %#v", p.Triggers)
	}
	if p.ContextRetentionHours != 48 || len(p.Examples) != 1 {
		t.Fatalf("unexpected persona: %#v", p)
	}
}

func TestFromBundleRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing system prompt",
			doc:  `{"id": "x", "name": "X", "version": "1.0.0", "voice": {"voice_id": "v"}}`,
			want: "validate bundle",
		},
		{
			name: "bad version",
			doc:  `{"id": "x", "name": "X", "version": "one", "voice": {"voice_id": "v"}, "system_prompt": "p"}`,
			want: "validate bundle",
		},
		{
			name: "not json",
			doc:  `{`,
			want: "parse bundle",
		},
		{
			name: "fine tuned without model reference",
			doc: `{"id": "x", "name": "X", "version": "1.0.0", "adaptation": {"mode": "fine_tuned"},
				"voice": {"voice_id": "v"}, "system_prompt": "p"}`,
			want: "model_reference",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := persona.FromBundle([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestFromBundleFineTuned(t *testing.T) {
	doc := `{
  "id": "tutor",
  "name": "Tutor",
  "version": "3.0.0",
  "adaptation": {"mode": "fine_tuned", "model_reference": "ft:tutor-v3"},
  "voice": {"voice_id": "voice-3"},
  "system_prompt": "You tutor math."
}`
	p, err := persona.FromBundle([]byte(doc))
	if err != nil {
		t.Fatalf("FromBundle: %v", err)
	}
	if p.Adaptation.Kind != persona.FineTuned || p.Adaptation.ModelReference != "ft:tutor-v3" {
		t.Fatalf("unexpected adaptation: %#v", p.Adaptation)
	}
	if p.Summary().Mode != "fine_tuned" {
		t.Fatalf("unexpected summary mode: %s", p.Summary().Mode)
	}
}
