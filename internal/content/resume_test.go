package content

import (
	"context"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resumeText = `SAM DOE
Backend engineer. Go, PostgreSQL and Docker in production.
Led a team of four through an agile migration.`

func TestOptimizeResumeKeywords(t *testing.T) {
	l := domain.JobListing{
		Title:       "Platform Engineer",
		Company:     "Acme",
		Description: "Go services on Kubernetes and AWS. Kubernetes operators, Terraform, Docker. Strong communication and mentoring, agile teams.",
	}

	body := OptimizeResumeKeywords(resumeText, l)

	assert.True(t, strings.HasPrefix(body, resumeText), "resume text is kept")
	assert.Contains(t, body, "Keyword suggestions for Platform Engineer at Acme")

	skills := section(body, "Skills to add if you have the experience:")
	assert.Contains(t, skills, "  - AWS\n")
	assert.Contains(t, skills, "  - Kubernetes\n")
	assert.Contains(t, skills, "  - Terraform\n")
	assert.NotContains(t, skills, "Docker", "already in the resume")
	assert.NotContains(t, skills, "  - Go\n")

	abilities := section(body, "Abilities to show in your experience:")
	assert.Contains(t, abilities, "communication")
	assert.Contains(t, abilities, "mentoring")
	assert.NotContains(t, abilities, "agile")

	top := section(body, "Most frequent keywords in the posting:")
	assert.True(t, strings.HasPrefix(top, "  - Kubernetes (2)\n"), top)
	assert.Contains(t, body, "ATS tips:")
}

func TestOptimizeResumeKeywords_NothingMissing(t *testing.T) {
	body := OptimizeResumeKeywords(resumeText, domain.JobListing{Title: "Go Developer", Company: "Initech", Description: "Go and PostgreSQL."})

	assert.NotContains(t, body, "Skills to add")
	assert.NotContains(t, body, "Abilities to show")
	assert.Contains(t, body, "  - PostgreSQL (1)\n")
}

func TestCountWord(t *testing.T) {
	assert.Equal(t, 2, countWord("go, go-kit and golang", "go"))
	assert.Equal(t, 0, countWord("javascript", "java"))
	assert.Equal(t, 1, countWord("c++ and c", "c++"))
}

func TestTemplateGenerator_OptimizeResume(t *testing.T) {
	store := NewMemoryArtifacts()
	gen := NewTemplateGenerator(store, clockwork.NewFakeClockAt(t0))
	p := profile
	p.ResumeText = resumeText

	h, err := gen.OptimizeResume(context.Background(), listing, p)
	require.NoError(t, err)
	assert.Equal(t, KindResume, h.Kind)

	a, err := store.GetArtifact(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Contains(t, a.Body, "  - Kubernetes\n")
	assert.Contains(t, a.Body, "  - AWS\n")
}

func TestTemplateGenerator_OptimizeResumeWithoutResume(t *testing.T) {
	gen := NewTemplateGenerator(NewMemoryArtifacts(), clockwork.NewFakeClock())

	_, err := gen.OptimizeResume(context.Background(), listing, profile)
	assert.ErrorIs(t, err, domain.ErrContentGeneration)
}

// section returns the lines following heading up to the next blank line.
func section(body, heading string) string {
	i := strings.Index(body, heading+"\n")
	if i < 0 {
		return ""
	}
	rest := body[i+len(heading)+1:]
	if j := strings.Index(rest, "\n\n"); j >= 0 {
		return rest[:j+1]
	}
	return rest
}
