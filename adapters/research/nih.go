// Package research looks up cancer findings for the oncology and treatment
// specialists.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicegate/domain"
	"github.com/satriahrh/voicegate/domain/repositories"
)

const (
	defaultNCIBaseURL         = "https://www.cancer.gov/api"
	defaultPubMedBaseURL      = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	defaultMedlinePlusBaseURL = "https://connect.medlineplus.gov"
	defaultMaxResults         = 3
	defaultTimeout            = 5 * time.Second
	userAgent                 = "voicegate/1.0"
	maxSummaryRunes           = 280

	// ICD-10-CM code system and the unspecified malignant neoplasm code.
	icd10CodeSystem = "2.16.840.1.113883.6.90"
	icd10Neoplasm   = "C80.1"
)

// NIHConfig holds configuration for NIHResearch. Zero values take the
// public endpoints.
type NIHConfig struct {
	NCIBaseURL         string
	PubMedBaseURL      string
	MedlinePlusBaseURL string
	MaxResults         int
	Timeout            time.Duration
}

// NIHResearch searches the National Cancer Institute site index first, then
// PubMed, then MedlinePlus, and returns the first non-empty answer.
type NIHResearch struct {
	nciBaseURL    string
	pubmedBaseURL string
	medlineURL    string
	maxResults    int
	client        *http.Client
	logger        *zap.Logger
}

var _ repositories.ResearchSource = (*NIHResearch)(nil)

func NewNIHResearch(config NIHConfig, logger *zap.Logger) *NIHResearch {
	r := &NIHResearch{
		nciBaseURL:    strings.TrimSuffix(orDefault(config.NCIBaseURL, defaultNCIBaseURL), "/"),
		pubmedBaseURL: strings.TrimSuffix(orDefault(config.PubMedBaseURL, defaultPubMedBaseURL), "/"),
		medlineURL:    strings.TrimSuffix(orDefault(config.MedlinePlusBaseURL, defaultMedlinePlusBaseURL), "/"),
		maxResults:    config.MaxResults,
		logger:        logger,
	}
	if r.maxResults <= 0 {
		r.maxResults = defaultMaxResults
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	r.client = &http.Client{Timeout: timeout}
	return r
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

type searchFunc func(ctx context.Context, query string) ([]repositories.ResearchFact, error)

// Search tries each source in turn. It fails only when every source failed.
func (r *NIHResearch) Search(ctx context.Context, query string) ([]repositories.ResearchFact, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if !strings.Contains(strings.ToLower(query), "cancer") {
		query += " cancer"
	}

	sources := []struct {
		name   string
		search searchFunc
	}{
		{"nci", r.searchNCI},
		{"pubmed", r.searchPubMed},
		{"medlineplus", r.searchMedlinePlus},
	}

	var errs []error
	for _, s := range sources {
		facts, err := s.search(ctx, query)
		if err != nil {
			r.logger.Warn("Research source failed", zap.String("source", s.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(facts) > 0 {
			r.logger.Debug("Research found", zap.String("source", s.name), zap.Int("count", len(facts)))
			return facts, nil
		}
	}
	if len(errs) == len(sources) || ctx.Err() != nil {
		return nil, fmt.Errorf("%w: research: %v", domain.ErrBackendUnavailable, errors.Join(errs...))
	}
	return nil, nil
}

func (r *NIHResearch) getJSON(ctx context.Context, endpoint string, params url.Values, dst any) error {
	u := endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type nciResponse struct {
	Results []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
	} `json:"results"`
}

func (r *NIHResearch) searchNCI(ctx context.Context, query string) ([]repositories.ResearchFact, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("size", strconv.Itoa(r.maxResults))
	params.Set("from", "0")
	params.Set("site", "Cancer.gov")

	var body nciResponse
	if err := r.getJSON(ctx, r.nciBaseURL+"/sitewide", params, &body); err != nil {
		return nil, err
	}

	var facts []repositories.ResearchFact
	for _, res := range body.Results {
		if res.Title == "" {
			continue
		}
		facts = append(facts, repositories.ResearchFact{
			Title:   "National Cancer Institute, " + res.Title,
			Summary: clip(res.Description),
			Source:  res.URL,
		})
		if len(facts) == r.maxResults {
			break
		}
	}
	return facts, nil
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryArticle struct {
	Title   string `json:"title"`
	Journal string `json:"fulljournalname"`
	PubDate string `json:"pubdate"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
}

func (r *NIHResearch) searchPubMed(ctx context.Context, query string) ([]repositories.ResearchFact, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query+" AND cancer[MeSH Terms]")
	params.Set("retmax", strconv.Itoa(r.maxResults))
	params.Set("sort", "relevance")
	params.Set("retmode", "json")

	var ids esearchResponse
	if err := r.getJSON(ctx, r.pubmedBaseURL+"/esearch.fcgi", params, &ids); err != nil {
		return nil, err
	}
	if len(ids.Result.IDList) == 0 {
		return nil, nil
	}

	params = url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(ids.Result.IDList, ","))
	params.Set("retmode", "json")

	// The result object mixes a "uids" array with one object per id, so it
	// is decoded lazily.
	var summary struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := r.getJSON(ctx, r.pubmedBaseURL+"/esummary.fcgi", params, &summary); err != nil {
		return nil, err
	}

	var facts []repositories.ResearchFact
	for _, id := range ids.Result.IDList {
		raw, ok := summary.Result[id]
		if !ok {
			continue
		}
		var article esummaryArticle
		if err := json.Unmarshal(raw, &article); err != nil || article.Title == "" {
			continue
		}
		facts = append(facts, repositories.ResearchFact{
			Title:   "PubMed, " + strings.TrimSuffix(article.Title, "."),
			Summary: articleByline(article),
			Source:  "https://pubmed.ncbi.nlm.nih.gov/" + id + "/",
		})
	}
	return facts, nil
}

func articleByline(a esummaryArticle) string {
	var names []string
	for i, author := range a.Authors {
		if i == 3 {
			break
		}
		names = append(names, author.Name)
	}
	var parts []string
	if len(names) > 0 {
		by := "by " + strings.Join(names, ", ")
		if len(a.Authors) > 3 {
			by += " et al."
		}
		parts = append(parts, by)
	}
	if a.Journal != "" && a.PubDate != "" {
		parts = append(parts, fmt.Sprintf("published in %s, %s", a.Journal, a.PubDate))
	}
	return strings.Join(parts, ", ")
}

type medlineValue struct {
	Value string `json:"_value"`
}

type medlineResponse struct {
	Feed struct {
		Entry []struct {
			Title   medlineValue `json:"title"`
			Summary medlineValue `json:"summary"`
			Link    []struct {
				Href string `json:"href"`
			} `json:"link"`
		} `json:"entry"`
	} `json:"feed"`
}

func (r *NIHResearch) searchMedlinePlus(ctx context.Context, query string) ([]repositories.ResearchFact, error) {
	params := url.Values{}
	params.Set("mainSearchCriteria.v.cs", icd10CodeSystem)
	params.Set("mainSearchCriteria.v.c", icd10Neoplasm)
	params.Set("mainSearchCriteria.v.dn", query)
	params.Set("informationRecipient.languageCode.c", "en")
	params.Set("knowledgeResponseType", "application/json")

	var body medlineResponse
	if err := r.getJSON(ctx, r.medlineURL+"/service", params, &body); err != nil {
		return nil, err
	}

	var facts []repositories.ResearchFact
	for _, entry := range body.Feed.Entry {
		if entry.Title.Value == "" {
			continue
		}
		fact := repositories.ResearchFact{
			Title:   "MedlinePlus, " + entry.Title.Value,
			Summary: clip(stripTags(entry.Summary.Value)),
		}
		for _, l := range entry.Link {
			if l.Href != "" {
				fact.Source = l.Href
				break
			}
		}
		facts = append(facts, fact)
		if len(facts) == r.maxResults {
			break
		}
	}
	return facts, nil
}

// stripTags drops the HTML markup MedlinePlus embeds in summaries and
// collapses whitespace.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// clip shortens s to maxSummaryRunes at a word boundary.
func clip(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= maxSummaryRunes {
		return string(runes)
	}
	cut := string(runes[:maxSummaryRunes])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
