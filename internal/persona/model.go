// Package persona loads versioned persona bundles from the authoring
// store, caches them, and owns the active-persona pointer per device.
// Personas are immutable once constructed; the factory in this package is
// the only way to build one.
package persona

import (
	"time"
)

// AdaptationKind discriminates how a persona adapts its behavior. Modeled
// as a tagged variant so response generation can handle each case
// exhaustively.
type AdaptationKind string

const (
	InstructionOnly AdaptationKind = "instruction_only"
	InstructionRAG  AdaptationKind = "instruction_rag"
	FineTuned       AdaptationKind = "fine_tuned"
)

// Adaptation carries the kind tag plus the payload for the two kinds that
// need one: knowledge document references for retrieval-augmented personas
// and the model reference for fine-tuned ones.
type Adaptation struct {
	Kind           AdaptationKind
	KnowledgeDocs  []string
	ModelReference string
}

// TriggerType enumerates the stimuli allowed to activate a persona.
type TriggerType string

const (
	TriggerSchedule     TriggerType = "schedule"
	TriggerButton       TriggerType = "button"
	TriggerVoiceCommand TriggerType = "voice_command"
	TriggerManual       TriggerType = "manual"
	TriggerEvent        TriggerType = "event"
)

// TriggerPolicy describes which stimuli may activate the persona.
type TriggerPolicy struct {
	Types        []TriggerType
	ScheduleCron string
}

// Allows reports whether the policy permits activation by the trigger.
func (p TriggerPolicy) Allows(trigger TriggerType) bool {
	for _, t := range p.Types {
		if t == trigger {
			return true
		}
	}
	return false
}

// Voice holds the synthesis parameters for the persona's voice.
type Voice struct {
	Provider        string
	VoiceID         string
	Language        string
	Speed           float64
	Pitch           float64
	Stability       float64
	SimilarityBoost float64
}

// Generation holds response generation constraints.
type Generation struct {
	MaxResponseTokens int
	Temperature       float64
}

// DialogExample is one authored exchange used to steer the persona.
type DialogExample struct {
	UserMessage       string
	AssistantResponse string
	Context           string
}

// Persona is an immutable, versioned behavioral bundle. The coordination
// core never mutates a persona; it only references one by id and version.
type Persona struct {
	ID                    string
	Name                  string
	Description           string
	Version               string
	Adaptation            Adaptation
	Voice                 Voice
	Generation            Generation
	Triggers              TriggerPolicy
	ContextRetentionHours int
	Tags                  []string
	SystemPrompt          string
	Examples              []DialogExample
	LoadedAt              time.Time
}

// Summary is the lightweight listing form of a persona.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Mode        string `json:"mode"`
}

// Summary returns the listing form.
func (p *Persona) Summary() Summary {
	return Summary{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Version:     p.Version,
		Mode:        string(p.Adaptation.Kind),
	}
}
