package router

import (
	"strings"
	"unicode"

	"github.com/satriahrh/voicegate/domain/entities"
)

// DefaultKeywords maps each specialist label to the words that select it.
// A keyword matches at the start of a word, so "tumor" also matches
// "tumors" but "therapy" does not match "chemotherapy".
var DefaultKeywords = map[entities.IntentLabel][]string{
	entities.IntentCardiology:   {"heart", "chest pain", "blood pressure", "cardiovascular", "cholesterol", "palpitation"},
	entities.IntentNeurology:    {"brain", "headache", "migraine", "memory", "neurological", "seizure"},
	entities.IntentNutrition:    {"diet", "nutrition", "food", "weight", "eating", "vitamin"},
	entities.IntentMedication:   {"medicine", "drug", "medication", "pill", "prescription", "dosage", "side effect"},
	entities.IntentMentalHealth: {"mental", "anxiety", "depression", "stress", "mood", "panic"},
	entities.IntentOncology:     {"cancer", "tumor", "oncology", "malignant", "biopsy", "metasta"},
	entities.IntentTreatment:    {"chemotherapy", "radiation", "radiotherapy", "immunotherapy", "surgery", "treatment", "therapy"},
}

// KeywordClassifier scores labels by the number of distinct keywords found
// in the text.
type KeywordClassifier struct {
	keywords map[entities.IntentLabel][]string
}

func NewKeywordClassifier(keywords map[entities.IntentLabel][]string) *KeywordClassifier {
	normalized := make(map[entities.IntentLabel][]string, len(keywords))
	for label, words := range keywords {
		for _, w := range words {
			if w = Normalize(w); w != "" {
				normalized[label] = append(normalized[label], w)
			}
		}
	}
	return &KeywordClassifier{keywords: normalized}
}

// Scores implements Classifier.
func (k *KeywordClassifier) Scores(text string) map[entities.IntentLabel]float64 {
	padded := " " + Normalize(text)
	scores := make(map[entities.IntentLabel]float64)
	for label, words := range k.keywords {
		hits := 0
		for _, w := range words {
			if strings.Contains(padded, " "+w) {
				hits++
			}
		}
		if hits > 0 {
			scores[label] = float64(hits)
		}
	}
	return scores
}

// Normalize lowercases text and collapses everything but letters and digits
// into single spaces.
func Normalize(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
