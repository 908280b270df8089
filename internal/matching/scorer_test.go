package matching

import (
	"context"
	"testing"

	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var goProfile = domain.Profile{
	Headline: "Backend engineer",
	Summary:  "Eight years building distributed systems and APIs.",
	Skills:   []string{"Go", "PostgreSQL", "Kubernetes", "Docker", "Redis", "communication"},
}

func score(t *testing.T, l domain.JobListing, p domain.Profile) float64 {
	t.Helper()
	s, err := NewKeywordScorer().Score(context.Background(), l, p)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s, 0.0)
	assert.LessOrEqual(t, s, 1.0)
	return s
}

func TestScore_StrongMatch(t *testing.T) {
	l := domain.JobListing{
		Title:       "Senior Go Engineer",
		Description: "We run Go services on Kubernetes with PostgreSQL and Redis. Docker experience required.",
	}
	assert.Greater(t, score(t, l, goProfile), 0.7)
}

func TestScore_WeakMatch(t *testing.T) {
	l := domain.JobListing{
		Title:       "iOS Developer",
		Description: "Swift, Kotlin and Angular for our mobile and web apps. Experience with Oracle a plus.",
	}
	assert.Less(t, score(t, l, goProfile), 0.3)
}

func TestScore_WordBoundaries(t *testing.T) {
	// "going" and "google" must not count as go
	l := domain.JobListing{Title: "Ongoing support role", Description: "Google Workspace administration going forward."}
	p := domain.Profile{Skills: []string{"Go"}}

	_, ok := skillMatch(normalize(l.Title+" "+l.Description), normalize("go"))
	assert.False(t, ok)
	assert.Less(t, score(t, l, p), 0.5)
}

func TestScore_SymbolSkills(t *testing.T) {
	text := normalize("Looking for C++ and C# devs, Node.js, CI/CD pipelines.")
	assert.True(t, containsPhrase(text, "c++"))
	assert.True(t, containsPhrase(text, "c#"))
	assert.True(t, containsPhrase(text, "node.js"))
	assert.True(t, containsPhrase(text, "ci/cd"))
}

func TestScore_NoCatalogueSkillsUsesKeywords(t *testing.T) {
	l := domain.JobListing{Title: "Payroll specialist", Description: "Payroll processing, reconciliation, payroll audits."}
	p := domain.Profile{Summary: "Payroll processing and reconciliation specialist"}

	assert.Greater(t, score(t, l, p), 0.5)
	assert.Equal(t, 0.0, score(t, domain.JobListing{}, p))
}

func TestKeywords_MostFrequentFirst(t *testing.T) {
	kw := keywords(normalize("kafka kafka kafka streaming streaming the and with pipelines"))
	assert.Equal(t, []string{"kafka", "streaming", "pipelines"}, kw)
}
