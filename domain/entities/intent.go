package entities

// IntentLabel selects which responder answers a turn.
type IntentLabel string

const (
	IntentGeneral      IntentLabel = "general"
	IntentCardiology   IntentLabel = "cardiology"
	IntentNeurology    IntentLabel = "neurology"
	IntentNutrition    IntentLabel = "nutrition"
	IntentMedication   IntentLabel = "medication"
	IntentMentalHealth IntentLabel = "mental_health"
	IntentOncology     IntentLabel = "oncology"
	IntentTreatment    IntentLabel = "treatment"
)

// IntentLabels lists every label in a fixed order. Ties that cannot be broken
// otherwise never depend on map iteration order.
var IntentLabels = []IntentLabel{
	IntentGeneral,
	IntentCardiology,
	IntentNeurology,
	IntentNutrition,
	IntentMedication,
	IntentMentalHealth,
	IntentOncology,
	IntentTreatment,
}

// Valid reports whether the label belongs to the closed set.
func (l IntentLabel) Valid() bool {
	for _, known := range IntentLabels {
		if l == known {
			return true
		}
	}
	return false
}
