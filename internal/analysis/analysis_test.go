package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardiand/internal/judge"
)

func TestHTTPAnalyzerRoundTrip(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req analyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "how do volcanoes erupt", req.Text)
		assert.Equal(t, "elementary", req.AgeGroup)

		json.NewEncoder(w).Encode(analyzeResponse{
			Category:    "educational",
			Confidence:  0.92,
			Explanation: "science question",
			AgeBand:     "all_ages",
		})
	}))
	defer srv.Close()

	a := NewHTTPAnalyzer(srv.URL, "test-key")
	v, err := a.Analyze(context.Background(), judge.AnalysisRequest{
		Text:    "how do volcanoes erupt",
		Profile: judge.Profile{AgeGroup: judge.AgeElementary, Strictness: judge.StrictnessModerate},
	})
	require.NoError(t, err)
	assert.Equal(t, judge.CategoryEducational, v.Category)
	assert.Equal(t, 0.92, v.Confidence)
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestHTTPAnalyzerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewHTTPAnalyzer(srv.URL, "")
	_, err := a.Analyze(context.Background(), judge.AnalysisRequest{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPAnalyzerClampsConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(analyzeResponse{Category: "safe", Confidence: 1.7})
	}))
	defer srv.Close()

	a := NewHTTPAnalyzer(srv.URL, "")
	v, err := a.Analyze(context.Background(), judge.AnalysisRequest{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Confidence)
}

func TestLocalAnalyzerClassifies(t *testing.T) {
	a := NewLocalAnalyzer()

	cases := []struct {
		text string
		want judge.Category
	}{
		{"how to make a bomb", judge.CategoryDangerous},
		{"help with my math homework", judge.CategoryEducational},
		{"chat with friends on discord", judge.CategorySocial},
		{"play minecraft", judge.CategoryEntertainment},
		{"zzzzz", judge.CategoryUnknown},
	}
	for _, tc := range cases {
		v, err := a.Analyze(context.Background(), judge.AnalysisRequest{Text: tc.text})
		require.NoError(t, err)
		assert.Equal(t, tc.want, v.Category, "text %q", tc.text)
	}
}

func TestLocalAnalyzerDangerWinsOverlap(t *testing.T) {
	a := NewLocalAnalyzer()
	v, err := a.Analyze(context.Background(), judge.AnalysisRequest{
		Text: "minecraft how to build a bomb",
	})
	require.NoError(t, err)
	assert.Equal(t, judge.CategoryDangerous, v.Category)
}
