package usecase

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
)

const (
	defaultResearchTimeout = 3 * time.Second
	maxResearchFacts       = 3
)

const sharedRules = " Be polite and concise. Always respond in English only. Answer in a few short spoken sentences without lists or markdown."

// Persona is the static description of one specialist.
type Persona struct {
	Label       entities.IntentLabel
	Name        string
	Instruction string
	Tables      []*KnowledgeTable
	// Research adds findings from the research source to the notes.
	Research bool
}

// Personas lists every specialist the gateway can route to.
var Personas = []Persona{
	{
		Label:       entities.IntentGeneral,
		Name:        "General Healthcare",
		Instruction: "You're a general healthcare assistant. Provide helpful health information but always remind users to consult healthcare professionals for medical advice. If the query is specialized, recommend the appropriate specialist.",
		Tables:      []*KnowledgeTable{HealthTable},
	},
	{
		Label:       entities.IntentCardiology,
		Name:        "Cardiology",
		Instruction: "You're a cardiology assistant specializing in heart health. Provide information about heart conditions, cardiovascular health, and related symptoms. Always emphasize the importance of seeking professional medical advice.",
		Tables:      []*KnowledgeTable{HealthTable},
	},
	{
		Label:       entities.IntentNeurology,
		Name:        "Neurology",
		Instruction: "You're a neurology assistant specializing in brain and nervous system health. Provide information about neurological conditions, brain health, and related symptoms. Always emphasize the importance of seeking professional medical advice.",
		Tables:      []*KnowledgeTable{HealthTable},
	},
	{
		Label:       entities.IntentNutrition,
		Name:        "Nutrition",
		Instruction: "You're a nutrition assistant specializing in dietary advice. Provide information about healthy eating and dietary requirements for various conditions. Always emphasize consulting with a registered dietitian for personalized advice.",
		Tables:      []*KnowledgeTable{NutritionTable},
	},
	{
		Label:       entities.IntentMedication,
		Name:        "Medication",
		Instruction: "You're a medication assistant specializing in pharmaceutical information. Provide general information about medications, potential side effects, and usage guidelines. Always emphasize following a doctor's prescription and consulting with a pharmacist.",
		Tables:      []*KnowledgeTable{MedicationTable},
	},
	{
		Label:       entities.IntentMentalHealth,
		Name:        "Mental Health",
		Instruction: "You're a mental health assistant specializing in psychological wellbeing. Provide supportive information about mental health conditions, stress management, and emotional wellbeing. Always emphasize seeking professional help from therapists or counselors. Be empathetic.",
		Tables:      []*KnowledgeTable{HealthTable},
	},
	{
		Label:       entities.IntentOncology,
		Name:        "Cancer Research",
		Instruction: "You're a cancer research specialist. Provide evidence-based information about cancer types, research developments, and prevention. Emphasize that patients should consult with oncologists for personalized medical advice. Be compassionate and clear.",
		Tables:      []*KnowledgeTable{HealthTable},
		Research:    true,
	},
	{
		Label:       entities.IntentTreatment,
		Name:        "Treatment",
		Instruction: "You're a treatment assistant. Explain how treatments such as chemotherapy, radiation, surgery, and immunotherapy work and what patients can expect. Always emphasize that the care team decides the treatment plan.",
		Tables:      []*KnowledgeTable{HealthTable, MedicationTable},
		Research:    true,
	},
}

// Agent answers turns for one persona. It implements repositories.Responder.
type Agent struct {
	persona Persona
	model   repositories.LanguageModel
	voice   repositories.TextToSpeech
	logger  *zap.Logger

	research        repositories.ResearchSource
	researchTimeout time.Duration
}

var _ repositories.Responder = (*Agent)(nil)

type AgentOption func(*Agent)

// WithResearch lets research personas consult src, waiting at most timeout
// before answering without it.
func WithResearch(src repositories.ResearchSource, timeout time.Duration) AgentOption {
	return func(a *Agent) {
		a.research = src
		a.researchTimeout = timeout
	}
}

func NewAgent(persona Persona, model repositories.LanguageModel, voice repositories.TextToSpeech, logger *zap.Logger, opts ...AgentOption) *Agent {
	a := &Agent{
		persona:         persona,
		model:           model,
		voice:           voice,
		logger:          logger.With(zap.String("agent", string(persona.Label))),
		researchTimeout: defaultResearchTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.researchTimeout <= 0 {
		a.researchTimeout = defaultResearchTimeout
	}
	return a
}

func (a *Agent) Persona() Persona {
	return a.persona
}

// StreamRespond streams the persona's reply to text.
func (a *Agent) StreamRespond(ctx context.Context, text string, history []entities.Turn) (<-chan repositories.TextDelta, error) {
	prompt := a.systemPrompt(ctx, text)
	a.logger.Debug("Streaming response",
		zap.Int("historyTurns", len(history)),
		zap.Int("promptLength", len(prompt)))

	return a.model.GenerateStream(ctx, repositories.GenerateRequest{
		SystemPrompt: prompt,
		History:      chatHistory(history),
		Message:      text,
	})
}

// Synthesize voices one unit of the reply.
func (a *Agent) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return a.voice.ConvertTextToSpeech(ctx, text)
}

// systemPrompt is the persona instruction plus the table facts the user
// mentioned and, for research personas, any findings found in time.
func (a *Agent) systemPrompt(ctx context.Context, text string) string {
	var b strings.Builder
	b.WriteString(a.persona.Instruction)
	b.WriteString(sharedRules)

	seen := make(map[string]bool)
	var facts []string
	for _, table := range a.persona.Tables {
		for _, fact := range table.Mentioned(text) {
			if !seen[fact] {
				seen[fact] = true
				facts = append(facts, fact)
			}
		}
	}
	facts = append(facts, a.findings(ctx, text)...)
	if len(facts) > 0 {
		b.WriteString("\n\n")
		b.WriteString(repositories.ReferenceNotesHeader)
		for _, fact := range facts {
			b.WriteString("\n- ")
			b.WriteString(fact)
		}
	}
	return b.String()
}

// findings is best effort: a slow or failing source only costs the notes.
func (a *Agent) findings(ctx context.Context, text string) []string {
	if !a.persona.Research || a.research == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.researchTimeout)
	defer cancel()

	found, err := a.research.Search(ctx, text)
	if err != nil {
		a.logger.Warn("Research unavailable, answering without it", zap.Error(err))
		return nil
	}
	if len(found) > maxResearchFacts {
		found = found[:maxResearchFacts]
	}
	out := make([]string, 0, len(found))
	for _, f := range found {
		out = append(out, f.String())
	}
	return out
}

func chatHistory(history []entities.Turn) []repositories.ChatMessage {
	out := make([]repositories.ChatMessage, 0, len(history))
	for _, turn := range history {
		role := repositories.AssistantRole
		if turn.FromUser() {
			role = repositories.UserRole
		}
		out = append(out, repositories.ChatMessage{Role: role, Content: turn.Text})
	}
	return out
}

// AgentCatalog holds one Agent per persona.
type AgentCatalog struct {
	agents map[entities.IntentLabel]*Agent
}

// NewAgentCatalog builds every persona on a shared model and voice.
func NewAgentCatalog(model repositories.LanguageModel, voice repositories.TextToSpeech, logger *zap.Logger, opts ...AgentOption) *AgentCatalog {
	agents := make(map[entities.IntentLabel]*Agent, len(Personas))
	for _, p := range Personas {
		agents[p.Label] = NewAgent(p, model, voice, logger, opts...)
	}
	return &AgentCatalog{agents: agents}
}

func (c *AgentCatalog) Agent(label entities.IntentLabel) (*Agent, bool) {
	a, ok := c.agents[label]
	return a, ok
}

// Responders returns the label to responder map the router dispatches on.
func (c *AgentCatalog) Responders() map[entities.IntentLabel]repositories.Responder {
	out := make(map[entities.IntentLabel]repositories.Responder, len(c.agents))
	for label, a := range c.agents {
		out[label] = a
	}
	return out
}
