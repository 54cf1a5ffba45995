package research

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicegate/domain"
)

// fakeNIH serves the three research endpoints from one server. Handlers left
// nil answer 503.
type fakeNIH struct {
	nci      http.HandlerFunc
	esearch  http.HandlerFunc
	esummary http.HandlerFunc
	medline  http.HandlerFunc
}

func (f fakeNIH) start(t *testing.T) *NIHResearch {
	t.Helper()
	mux := http.NewServeMux()
	route := func(path string, h http.HandlerFunc) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if h == nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			h(w, r)
		})
	}
	route("/nci/sitewide", f.nci)
	route("/eutils/esearch.fcgi", f.esearch)
	route("/eutils/esummary.fcgi", f.esummary)
	route("/medline/service", f.medline)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return NewNIHResearch(NIHConfig{
		NCIBaseURL:         server.URL + "/nci",
		PubMedBaseURL:      server.URL + "/eutils",
		MedlinePlusBaseURL: server.URL + "/medline/",
		MaxResults:         2,
		Timeout:            time.Second,
	}, zaptest.NewLogger(t))
}

func jsonBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func TestNIHResearch_NCIFirst(t *testing.T) {
	var pubmedCalled bool
	r := fakeNIH{
		nci: func(w http.ResponseWriter, req *http.Request) {
			assert.Equal(t, "lung cancer", req.URL.Query().Get("query"))
			assert.Equal(t, "2", req.URL.Query().Get("size"))
			assert.Equal(t, "application/json", req.Header.Get("Accept"))
			jsonBody(`{"results":[
				{"title":"Lung Cancer","description":"Overview of lung cancer.","url":"https://www.cancer.gov/types/lung"},
				{"title":"","description":"untitled"},
				{"title":"Screening","description":"Low dose CT.","url":"https://www.cancer.gov/screening"},
				{"title":"Extra","description":"over the limit"}
			]}`)(w, req)
		},
		esearch: func(w http.ResponseWriter, req *http.Request) {
			pubmedCalled = true
		},
	}.start(t)

	facts, err := r.Search(context.Background(), "lung")
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "National Cancer Institute, Lung Cancer", facts[0].Title)
	assert.Equal(t, "Overview of lung cancer.", facts[0].Summary)
	assert.Equal(t, "https://www.cancer.gov/types/lung", facts[0].Source)
	assert.Equal(t, "National Cancer Institute, Screening", facts[1].Title)
	assert.False(t, pubmedCalled)
}

func TestNIHResearch_FallsBackToPubMed(t *testing.T) {
	r := fakeNIH{
		nci: jsonBody(`{"results":[]}`),
		esearch: func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			assert.Equal(t, "pubmed", q.Get("db"))
			assert.Equal(t, "breast cancer AND cancer[MeSH Terms]", q.Get("term"))
			assert.Equal(t, "json", q.Get("retmode"))
			jsonBody(`{"esearchresult":{"idlist":["111","222"]}}`)(w, req)
		},
		esummary: func(w http.ResponseWriter, req *http.Request) {
			assert.Equal(t, "111,222", req.URL.Query().Get("id"))
			jsonBody(`{"result":{
				"uids":["111","222"],
				"111":{"title":"Screening outcomes.","fulljournalname":"Journal of Oncology","pubdate":"2024 Mar",
					"authors":[{"name":"Smith J"},{"name":"Lee K"},{"name":"Ng A"},{"name":"Cho M"}]},
				"222":{"title":"Hormone therapy","authors":[]}
			}}`)(w, req)
		},
	}.start(t)

	facts, err := r.Search(context.Background(), "breast cancer")
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "PubMed, Screening outcomes", facts[0].Title)
	assert.Equal(t, "by Smith J, Lee K, Ng A et al., published in Journal of Oncology, 2024 Mar", facts[0].Summary)
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/111/", facts[0].Source)
	assert.Equal(t, "PubMed, Hormone therapy", facts[1].Title)
	assert.Empty(t, facts[1].Summary)
}

func TestNIHResearch_FallsBackToMedlinePlus(t *testing.T) {
	r := fakeNIH{
		esearch: jsonBody(`{"esearchresult":{"idlist":[]}}`),
		medline: func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			assert.Equal(t, "application/json", q.Get("knowledgeResponseType"))
			assert.Equal(t, "colon cancer", q.Get("mainSearchCriteria.v.dn"))
			jsonBody(`{"feed":{"entry":[{
				"title":{"_value":"Colorectal Cancer"},
				"summary":{"_value":"<p>Colorectal cancer   starts in the <b>colon</b>.</p>"},
				"link":[{"href":""},{"href":"https://medlineplus.gov/colorectalcancer.html"}]
			}]}}`)(w, req)
		},
	}.start(t)

	facts, err := r.Search(context.Background(), "colon")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "MedlinePlus, Colorectal Cancer", facts[0].Title)
	assert.Equal(t, "Colorectal cancer starts in the colon .", facts[0].Summary)
	assert.Equal(t, "https://medlineplus.gov/colorectalcancer.html", facts[0].Source)
}

func TestNIHResearch_AllSourcesFail(t *testing.T) {
	r := fakeNIH{}.start(t)

	facts, err := r.Search(context.Background(), "skin")
	assert.Empty(t, facts)
	assert.True(t, errors.Is(err, domain.ErrBackendUnavailable))
}

func TestNIHResearch_NothingFound(t *testing.T) {
	r := fakeNIH{
		nci:     jsonBody(`{"results":[]}`),
		esearch: jsonBody(`{"esearchresult":{"idlist":[]}}`),
		medline: jsonBody(`{"feed":{"entry":[]}}`),
	}.start(t)

	facts, err := r.Search(context.Background(), "skin")
	assert.NoError(t, err)
	assert.Empty(t, facts)
}

func TestNIHResearch_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := fakeNIH{
		nci: func(w http.ResponseWriter, req *http.Request) {
			select {
			case <-block:
			case <-req.Context().Done():
			}
		},
	}.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Search(ctx, "lung")
	assert.True(t, errors.Is(err, domain.ErrBackendUnavailable))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("  short "))

	long := strings.Repeat("word ", 100)
	got := clip(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len([]rune(got)), maxSummaryRunes+3)
}

func TestMockResearch(t *testing.T) {
	m := NewMockResearch()

	facts, err := m.Search(context.Background(), "Does chemotherapy help lung tumors?")
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "Lung cancer prevention", facts[0].Title)
	assert.Equal(t, "Chemotherapy side effects", facts[1].Title)

	facts, err = m.Search(context.Background(), "hello")
	require.NoError(t, err)
	assert.Empty(t, facts)
}
