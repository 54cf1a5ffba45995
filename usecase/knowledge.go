package usecase

import (
	"sort"
	"strings"

	"github.com/satriahrh/voicegate/internal/router"
)

// KnowledgeTable is a small fact lookup keyed by condition, drug or diet.
type KnowledgeTable struct {
	Name  string
	facts map[string]string
	keys  []string
}

func newKnowledgeTable(name string, facts map[string]string) *KnowledgeTable {
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	// Longer keys first so "high blood pressure" wins over shorter overlaps.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return &KnowledgeTable{Name: name, facts: facts, keys: keys}
}

// Lookup returns the fact for an exact key.
func (t *KnowledgeTable) Lookup(key string) (string, bool) {
	fact, ok := t.facts[strings.ToLower(strings.TrimSpace(key))]
	return fact, ok
}

// Mentioned returns the facts whose key appears in text as whole words. A
// plural "s" or "es" on the last word still matches.
func (t *KnowledgeTable) Mentioned(text string) []string {
	padded := " " + router.Normalize(text) + " "
	var out []string
	for _, k := range t.keys {
		key := " " + router.Normalize(k)
		if strings.Contains(padded, key+" ") || strings.Contains(padded, key+"s ") || strings.Contains(padded, key+"es ") {
			out = append(out, t.facts[k])
		}
	}
	return out
}

var (
	HealthTable = newKnowledgeTable("health", map[string]string{
		"headache":            "Common headaches are often caused by stress, dehydration, or lack of sleep. Try drinking water and resting.",
		"cold":                "Common cold symptoms include runny nose, sore throat, and cough. Rest and hydration are typically recommended.",
		"fever":               "Fever is often a sign that your body is fighting an infection. Rest and monitor your temperature.",
		"allergies":           "Allergies can cause sneezing, itchy eyes, and congestion. Over-the-counter antihistamines may help.",
		"insomnia":            "Insomnia is difficulty falling or staying asleep. Consider improving sleep hygiene and reducing caffeine intake.",
		"anxiety":             "Anxiety can manifest as worry, restlessness, and physical symptoms. Deep breathing exercises may help manage symptoms.",
		"back pain":           "Back pain can result from poor posture, muscle strain, or underlying conditions. Gentle stretching may provide relief.",
		"high blood pressure": "High blood pressure often has no symptoms but can lead to serious health problems. Regular monitoring is important.",
		"diabetes":            "Diabetes affects how your body processes blood sugar. Symptoms may include increased thirst and frequent urination.",
		"chemotherapy":        "Chemotherapy uses drugs to kill fast-growing cells. Fatigue and nausea are common side effects.",
	})

	MedicationTable = newKnowledgeTable("medication", map[string]string{
		"aspirin":       "Aspirin is used to relieve pain, reduce inflammation, and lower fever. Common side effects include stomach irritation. It should not be given to children due to risk of Reye's syndrome.",
		"ibuprofen":     "Ibuprofen is a nonsteroidal anti-inflammatory drug used for pain relief and reducing inflammation. Take it with food to reduce stomach irritation.",
		"acetaminophen": "Acetaminophen relieves pain and reduces fever but does not reduce inflammation. Liver damage can occur at high doses or with alcohol.",
		"lisinopril":    "Lisinopril is an ACE inhibitor used to treat high blood pressure and heart failure. Side effects may include dry cough and dizziness.",
		"metformin":     "Metformin is used to treat type 2 diabetes by improving blood sugar control. Common side effects include digestive issues. Take it with meals.",
	})

	NutritionTable = newKnowledgeTable("nutrition", map[string]string{
		"diabetes":     "Focus on foods with a low glycemic index, like whole grains, legumes, and non-starchy vegetables. Limit added sugars and refined carbs.",
		"hypertension": "The DASH diet is recommended. Reduce sodium, eat potassium-rich fruits and vegetables, and limit processed foods.",
		"heart health": "Choose heart-healthy fats like those in olive oil, avocados, and fatty fish. Limit saturated and trans fats.",
		"weight loss":  "Focus on whole foods, increase protein and fiber intake, and be mindful of portion sizes.",
		"vegetarian":   "Get enough protein from legumes, tofu, and dairy. Consider supplements for vitamin B12 and iron.",
		"gluten free":  "Focus on naturally gluten-free foods like rice, potatoes, fruits, vegetables, and lean proteins. Watch for cross-contamination.",
	})
)
