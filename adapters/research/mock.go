package research

import (
	"context"
	"strings"

	"github.com/satriahrh/voicegate/domain/repositories"
)

// MockResearch answers from a fixed set of findings so the oncology and
// treatment specialists work offline.
type MockResearch struct {
	findings []mockFinding
}

type mockFinding struct {
	keyword string
	fact    repositories.ResearchFact
}

var _ repositories.ResearchSource = (*MockResearch)(nil)

func NewMockResearch() *MockResearch {
	return &MockResearch{findings: []mockFinding{
		{"breast", repositories.ResearchFact{
			Title:   "Breast cancer screening",
			Summary: "Regular mammograms help find breast cancer early, when treatment works best",
			Source:  "https://www.cancer.gov/types/breast",
		}},
		{"lung", repositories.ResearchFact{
			Title:   "Lung cancer prevention",
			Summary: "Not smoking is the most effective way to lower lung cancer risk",
			Source:  "https://www.cancer.gov/types/lung",
		}},
		{"chemo", repositories.ResearchFact{
			Title:   "Chemotherapy side effects",
			Summary: "Fatigue, nausea and hair loss are common and usually ease after treatment ends",
			Source:  "https://www.cancer.gov/about-cancer/treatment/types/chemotherapy",
		}},
		{"immunotherapy", repositories.ResearchFact{
			Title:   "Immunotherapy",
			Summary: "Immunotherapy helps the immune system recognize and attack cancer cells",
			Source:  "https://www.cancer.gov/about-cancer/treatment/types/immunotherapy",
		}},
		{"radiation", repositories.ResearchFact{
			Title:   "Radiation therapy",
			Summary: "Radiation uses high doses of energy to shrink tumors and is often given daily over several weeks",
			Source:  "https://www.cancer.gov/about-cancer/treatment/types/radiation-therapy",
		}},
	}}
}

// Search returns every finding whose keyword occurs in query.
func (m *MockResearch) Search(ctx context.Context, query string) ([]repositories.ResearchFact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []repositories.ResearchFact
	for _, f := range m.findings {
		if strings.Contains(q, f.keyword) {
			out = append(out, f.fact)
		}
	}
	return out, nil
}
