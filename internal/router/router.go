// Package router classifies a transcript into an intent label and hands the
// turn to the responder registered for it.
package router

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/voicegate/domain"
	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
)

// Classifier scores every label it recognizes in the text. Labels it does
// not score are treated as zero.
type Classifier interface {
	Scores(text string) map[entities.IntentLabel]float64
}

// Config holds routing settings.
type Config struct {
	// MinScore is the decision threshold a label must reach to be a candidate.
	MinScore float64 `yaml:"min_score"`
	// Default answers anything that is unknown or below the threshold.
	Default entities.IntentLabel `yaml:"default"`
}

func DefaultConfig() Config {
	return Config{MinScore: 1, Default: entities.IntentGeneral}
}

// Router is safe for concurrent use; it holds no per-session state.
type Router struct {
	classifier Classifier
	responders map[entities.IntentLabel]repositories.Responder
	cfg        Config
	logger     *zap.Logger
}

// NewRouter fails with domain.ErrNoResponderRegistered when the default label
// has no responder.
func NewRouter(classifier Classifier, responders map[entities.IntentLabel]repositories.Responder, cfg Config, logger *zap.Logger) (*Router, error) {
	if cfg.Default == "" {
		cfg.Default = entities.IntentGeneral
	}
	if responders[cfg.Default] == nil {
		return nil, fmt.Errorf("%w: default label %q", domain.ErrNoResponderRegistered, cfg.Default)
	}
	registered := make(map[entities.IntentLabel]repositories.Responder, len(responders))
	for label, r := range responders {
		if r != nil {
			registered[label] = r
		}
	}
	return &Router{
		classifier: classifier,
		responders: registered,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Route picks the intent of a transcript.
//
// Labels scoring at least MinScore are candidates. With none, the default
// wins. With several, the candidate that answered most recently in history
// wins; if none of them has answered yet, the single best score wins and a
// tie on the best score falls back to the default.
func (r *Router) Route(transcript entities.Transcript, history []entities.Turn) entities.IntentLabel {
	scores := r.classifier.Scores(transcript.Text)

	var candidates []entities.IntentLabel
	for _, label := range entities.IntentLabels {
		if label == r.cfg.Default {
			continue
		}
		if scores[label] >= r.cfg.MinScore {
			candidates = append(candidates, label)
		}
	}

	switch len(candidates) {
	case 0:
		return r.cfg.Default
	case 1:
		return candidates[0]
	}

	if label, ok := lastActive(history, candidates); ok {
		r.logger.Debug("Sticky routing to previous intent",
			zap.String("label", string(label)),
			zap.Int("candidates", len(candidates)))
		return label
	}

	best := candidates[0]
	tie := false
	for _, label := range candidates[1:] {
		switch {
		case scores[label] > scores[best]:
			best, tie = label, false
		case scores[label] == scores[best]:
			tie = true
		}
	}
	if tie {
		return r.cfg.Default
	}
	return best
}

// Resolve returns label if a responder is registered for it, else the default.
func (r *Router) Resolve(label entities.IntentLabel) entities.IntentLabel {
	if _, ok := r.responders[label]; ok {
		return label
	}
	return r.cfg.Default
}

// Dispatch returns the responder for label, falling back to the default one.
func (r *Router) Dispatch(label entities.IntentLabel) (repositories.Responder, error) {
	resolved := r.Resolve(label)
	responder, ok := r.responders[resolved]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrNoResponderRegistered, label)
	}
	if resolved != label {
		r.logger.Debug("No responder for label, using default",
			zap.String("label", string(label)),
			zap.String("default", string(resolved)))
	}
	return responder, nil
}

// Default is the label that answers unrouted turns.
func (r *Router) Default() entities.IntentLabel {
	return r.cfg.Default
}

// Labels returns the registered labels in their canonical order.
func (r *Router) Labels() []entities.IntentLabel {
	var out []entities.IntentLabel
	for _, label := range entities.IntentLabels {
		if _, ok := r.responders[label]; ok {
			out = append(out, label)
		}
	}
	return out
}

func lastActive(history []entities.Turn, candidates []entities.IntentLabel) (entities.IntentLabel, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].FromUser() {
			continue
		}
		for _, c := range candidates {
			if history[i].Speaker == string(c) {
				return c, true
			}
		}
	}
	return "", false
}
