// Package content generates application content and keeps it addressable by handle.
package content

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/domain"
)

const KindCoverLetter = "cover_letter"

var coverLetter = template.Must(template.New("cover_letter").Parse(`Dear Hiring Manager,

I am writing to express my strong interest in the {{.Position}} position at {{.Company}}. With my background in {{.Field}} and expertise in {{.KeySkills}}, I am confident I would be a valuable addition to your team.

{{.Experience}}

I am particularly drawn to {{.Company}}'s {{.Strength}} and would be excited to contribute my skills in {{.RelevantSkills}} to help drive your continued success.

Thank you for your consideration. I look forward to the opportunity to discuss how my experience and enthusiasm can benefit your team.

Best regards,
{{.Name}}
`))

var highlightSkills = []string{
	"Python", "JavaScript", "Java", "Go", "React", "Node.js", "SQL", "AWS", "Docker", "Kubernetes",
	"Machine Learning", "Data Analysis", "Project Management", "Agile", "Scrum", "Git", "API", "REST",
	"Microservices", "Cloud", "DevOps", "CI/CD", "Testing",
}

var strengths = []struct{ keyword, phrase string }{
	{"innovative", "innovative approach"},
	{"leading", "industry leadership"},
	{"growth", "commitment to growth"},
	{"customer", "focus on customers"},
	{"mission", "mission"},
	{"remote", "flexible, remote-friendly culture"},
	{"open source", "open source work"},
}

var fields = []struct{ keyword, field string }{
	{"software", "software development"},
	{"developer", "software development"},
	{"data", "data science"},
	{"engineer", "engineering"},
	{"devops", "cloud infrastructure"},
	{"security", "information security"},
	{"product", "product management"},
	{"design", "design"},
	{"analyst", "analytics"},
}

// TemplateGenerator renders a cover letter from the listing and profile and
// saves it to an ArtifactStore. It implements domain.ContentService.
type TemplateGenerator struct {
	artifacts domain.ArtifactStore
	clock     clockwork.Clock
}

func NewTemplateGenerator(artifacts domain.ArtifactStore, clock clockwork.Clock) *TemplateGenerator {
	return &TemplateGenerator{artifacts: artifacts, clock: clock}
}

func (g *TemplateGenerator) Generate(ctx context.Context, listing domain.JobListing, profile domain.Profile) (domain.ContentHandle, error) {
	body, err := RenderCoverLetter(listing, profile)
	if err != nil {
		return domain.ContentHandle{}, fmt.Errorf("%w: %w", domain.ErrContentGeneration, err)
	}
	return Save(ctx, g.artifacts, g.clock, listing, KindCoverLetter, body)
}

// Save stores body as a new artifact for the listing and returns its handle.
func Save(ctx context.Context, artifacts domain.ArtifactStore, clock clockwork.Clock, listing domain.JobListing, kind, body string) (domain.ContentHandle, error) {
	handle := domain.ContentHandle{ID: uuid.NewString(), Kind: kind}
	artifact := domain.Artifact{
		Handle:    handle,
		Identity:  listing.Identity(),
		Body:      body,
		CreatedAt: clock.Now(),
	}
	if err := artifacts.SaveArtifact(ctx, artifact); err != nil {
		return domain.ContentHandle{}, fmt.Errorf("%w: failed to save artifact: %w", domain.ErrContentGeneration, err)
	}
	return handle, nil
}

// RenderCoverLetter fills the cover letter template. It fails only on an
// unusable listing.
func RenderCoverLetter(listing domain.JobListing, profile domain.Profile) (string, error) {
	if strings.TrimSpace(listing.Title) == "" || strings.TrimSpace(listing.Company) == "" {
		return "", fmt.Errorf("listing %s has no title or company", listing.Identity())
	}

	jobSkills := mentionedSkills(listing.Title + " " + listing.Description)
	relevant := intersect(jobSkills, profile.Skills)
	if len(relevant) == 0 {
		relevant = firstN(profile.Skills, 3)
	}
	key := firstN(profile.Skills, 4)
	if len(key) == 0 {
		key = firstN(jobSkills, 3)
	}

	data := struct {
		Position, Company, Field, KeySkills, Experience, Strength, RelevantSkills, Name string
	}{
		Position:       listing.Title,
		Company:        listing.Company,
		Field:          inferField(listing.Title),
		KeySkills:      joinOr(key, "technology"),
		Experience:     experienceParagraph(profile),
		Strength:       companyStrength(listing.Description),
		RelevantSkills: joinOr(relevant, "software delivery"),
		Name:           cmp.Or(strings.TrimSpace(profile.Name), "Applicant"),
	}

	var buf bytes.Buffer
	if err := coverLetter.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render cover letter: %w", err)
	}
	return buf.String(), nil
}

func mentionedSkills(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, s := range highlightSkills {
		if containsWord(lower, strings.ToLower(s)) {
			out = append(out, s)
		}
	}
	return out
}

func containsWord(text, word string) bool {
	return countWord(text, word) > 0
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func intersect(jobSkills, profileSkills []string) []string {
	var out []string
	for _, js := range jobSkills {
		for _, ps := range profileSkills {
			if strings.EqualFold(js, strings.TrimSpace(ps)) {
				out = append(out, js)
				break
			}
		}
	}
	return out
}

func inferField(title string) string {
	lower := strings.ToLower(title)
	for _, f := range fields {
		if strings.Contains(lower, f.keyword) {
			return f.field
		}
	}
	return "technology"
}

func companyStrength(description string) string {
	lower := strings.ToLower(description)
	for _, s := range strengths {
		if strings.Contains(lower, s.keyword) {
			return s.phrase
		}
	}
	return "innovative approach"
}

func experienceParagraph(p domain.Profile) string {
	if summary := strings.TrimSpace(p.Summary); summary != "" {
		if r := []rune(summary); len(r) > 200 {
			summary = strings.TrimSpace(string(r[:200])) + "..."
		}
		return "In my career so far, " + lowerFirst(summary)
	}
	if len(p.Skills) > 0 {
		return fmt.Sprintf("In my previous roles I have worked extensively with %s, delivering reliable results in collaborative teams.", joinOr(firstN(p.Skills, 3), ""))
	}
	return "I bring a strong track record of learning quickly and delivering reliable results in collaborative teams."
}

func lowerFirst(s string) string {
	r := []rune(s)
	if len(r) > 1 && r[0] >= 'A' && r[0] <= 'Z' && !(r[1] >= 'A' && r[1] <= 'Z') {
		r[0] += 'a' - 'A'
	}
	return string(r)
}

func firstN[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// joinOr renders "a, b and c", or def for an empty list.
func joinOr(items []string, def string) string {
	switch len(items) {
	case 0:
		return def
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
