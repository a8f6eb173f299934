package persona

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
)

//go:embed schema.json
var bundleSchemaJSON []byte

var (
	bundleSchemaOnce sync.Once
	bundleSchema     *jsonschema.Schema
	bundleSchemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	bundleSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal(bundleSchemaJSON, &doc); err != nil {
			bundleSchemaErr = fmt.Errorf("parse embedded schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("persona.schema.json", doc); err != nil {
			bundleSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		bundleSchema, bundleSchemaErr = compiler.Compile("persona.schema.json")
	})
	return bundleSchema, bundleSchemaErr
}

// bundle mirrors the authored JSON document. Field defaults live in
// FromBundle, not here.
type bundle struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Adaptation  struct {
		Mode           string   `json:"mode"`
		KnowledgeDocs  []string `json:"knowledge_docs"`
		ModelReference string   `json:"model_reference"`
	} `json:"adaptation"`
	Voice struct {
		Provider        string   `json:"provider"`
		VoiceID         string   `json:"voice_id"`
		Language        string   `json:"language"`
		Speed           *float64 `json:"speed"`
		Pitch           *float64 `json:"pitch"`
		Stability       *float64 `json:"stability"`
		SimilarityBoost *float64 `json:"similarity_boost"`
	} `json:"voice"`
	Generation struct {
		MaxResponseTokens int      `json:"max_response_tokens"`
		Temperature       *float64 `json:"temperature"`
	} `json:"generation"`
	Triggers struct {
		Types        []string `json:"types"`
		ScheduleCron string   `json:"schedule_cron"`
	} `json:"triggers"`
	ContextRetentionHours int             `json:"context_retention_hours"`
	Tags                  []string        `json:"tags"`
	SystemPrompt          string          `json:"system_prompt"`
	Examples              []bundleExample `json:"examples"`
}

type bundleExample struct {
	UserMessage       string `json:"user_message"`
	AssistantResponse string `json:"assistant_response"`
	Context           string `json:"context"`
}

// FromBundle validates a raw bundle document against the bundle schema and
// constructs an immutable Persona. All field defaults are applied here.
func FromBundle(raw []byte) (*Persona, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate bundle: %w", err)
	}

	var b bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}

	adaptation, err := buildAdaptation(b)
	if err != nil {
		return nil, err
	}
	voice, err := buildVoice(b)
	if err != nil {
		return nil, err
	}

	triggerTypes := make([]TriggerType, 0, len(b.Triggers.Types))
	for _, t := range b.Triggers.Types {
		triggerTypes = append(triggerTypes, TriggerType(t))
	}
	if len(triggerTypes) == 0 {
		triggerTypes = []TriggerType{TriggerManual}
	}

	retention := b.ContextRetentionHours
	if retention == 0 {
		retention = 24
	}

	maxTokens := b.Generation.MaxResponseTokens
	if maxTokens == 0 {
		maxTokens = 500
	}

	examples := make([]DialogExample, 0, len(b.Examples))
	for _, ex := range b.Examples {
		examples = append(examples, DialogExample{
			UserMessage:       ex.UserMessage,
			AssistantResponse: ex.AssistantResponse,
			Context:           ex.Context,
		})
	}

	return &Persona{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Version:     b.Version,
		Adaptation:  adaptation,
		Voice:       voice,
		Generation: Generation{
			MaxResponseTokens: maxTokens,
			Temperature:       floatDefault(b.Generation.Temperature, 0.7),
		},
		Triggers: TriggerPolicy{
			Types:        triggerTypes,
			ScheduleCron: b.Triggers.ScheduleCron,
		},
		ContextRetentionHours: retention,
		Tags:                  append([]string(nil), b.Tags...),
		SystemPrompt:          b.SystemPrompt,
		Examples:              examples,
		LoadedAt:              time.Now().UTC(),
	}, nil
}

func buildAdaptation(b bundle) (Adaptation, error) {
	mode := AdaptationKind(b.Adaptation.Mode)
	if b.Adaptation.Mode == "" {
		mode = InstructionOnly
	}
	adaptation := Adaptation{Kind: mode}
	switch mode {
	case InstructionOnly:
	case InstructionRAG:
		adaptation.KnowledgeDocs = append([]string(nil), b.Adaptation.KnowledgeDocs...)
	case FineTuned:
		if b.Adaptation.ModelReference == "" {
			return Adaptation{}, fmt.Errorf("adaptation mode %q requires model_reference", mode)
		}
		adaptation.ModelReference = b.Adaptation.ModelReference
	default:
		return Adaptation{}, fmt.Errorf("unknown adaptation mode %q", b.Adaptation.Mode)
	}
	return adaptation, nil
}

func buildVoice(b bundle) (Voice, error) {
	provider := b.Voice.Provider
	if provider == "" {
		provider = "elevenlabs"
	}
	tag := b.Voice.Language
	if tag == "" {
		tag = "en-US"
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return Voice{}, fmt.Errorf("voice language %q: %w", tag, err)
	}
	return Voice{
		Provider:        provider,
		VoiceID:         b.Voice.VoiceID,
		Language:        parsed.String(),
		Speed:           floatDefault(b.Voice.Speed, 1.0),
		Pitch:           floatDefault(b.Voice.Pitch, 1.0),
		Stability:       floatDefault(b.Voice.Stability, 0.5),
		SimilarityBoost: floatDefault(b.Voice.SimilarityBoost, 0.75),
	}, nil
}

func floatDefault(value *float64, fallback float64) float64 {
	if value == nil {
		return fallback
	}
	return *value
}
