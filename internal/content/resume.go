package content

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pscheid92/autoapply/internal/domain"
)

const KindResume = "resume"

const (
	maxMissingTechnical = 5
	maxMissingSoft      = 3
	maxTopKeywords      = 8
)

var technicalKeywords = []string{
	"Python", "JavaScript", "TypeScript", "Java", "C++", "C#", "Go", "Rust", "PHP", "Ruby", "Scala", "Kotlin", "Swift",
	"React", "Vue", "Angular", "Django", "Flask", "Spring", "Express", "Laravel", "Rails", "ASP.NET",
	"AWS", "Azure", "GCP", "Docker", "Kubernetes", "Jenkins", "Git", "Terraform", "Ansible",
	"MySQL", "PostgreSQL", "MongoDB", "Redis", "Elasticsearch", "Oracle", "SQL Server",
}

var softKeywords = []string{
	"leadership", "communication", "teamwork", "problem solving", "analytical", "creative", "strategic",
	"project management", "agile", "scrum", "collaboration", "mentoring", "coaching",
}

var atsTips = []string{
	"Use standard section headings such as Professional Experience.",
	"Name your key skills in the first third of the resume.",
	"List skills and achievements as bullet points.",
	"Quantify impact with concrete numbers.",
}

// keywordCount is a posting keyword and how often it occurs.
type keywordCount struct {
	keyword string
	count   int
}

// OptimizeResumeKeywords compares the resume against the posting and appends
// keyword suggestions: skills the posting asks for that the resume never
// mentions, and the posting's most frequent keywords. The resume text itself
// is left unchanged.
func OptimizeResumeKeywords(resume string, listing domain.JobListing) string {
	posting := strings.ToLower(listing.Title + " " + listing.Description)
	have := strings.ToLower(resume)

	technical := countKeywords(posting, technicalKeywords)
	soft := countKeywords(posting, softKeywords)

	var b strings.Builder
	b.WriteString(strings.TrimRight(resume, "\n"))
	b.WriteString("\n\n" + strings.Repeat("=", 50) + "\nKeyword suggestions for ")
	fmt.Fprintf(&b, "%s at %s\n%s\n", listing.Title, listing.Company, strings.Repeat("=", 50))

	if missing := missingKeywords(technical, have, maxMissingTechnical); len(missing) > 0 {
		b.WriteString("\nSkills to add if you have the experience:\n")
		for _, k := range missing {
			fmt.Fprintf(&b, "  - %s\n", k)
		}
	}
	if missing := missingKeywords(soft, have, maxMissingSoft); len(missing) > 0 {
		b.WriteString("\nAbilities to show in your experience:\n")
		for _, k := range missing {
			fmt.Fprintf(&b, "  - %s\n", k)
		}
	}

	top := slices.Concat(technical, soft)
	slices.SortStableFunc(top, func(a, b keywordCount) int {
		return cmp.Or(cmp.Compare(b.count, a.count), cmp.Compare(len(b.keyword), len(a.keyword)))
	})
	if len(top) > 0 {
		b.WriteString("\nMost frequent keywords in the posting:\n")
		for _, k := range firstN(top, maxTopKeywords) {
			fmt.Fprintf(&b, "  - %s (%d)\n", k.keyword, k.count)
		}
	}

	b.WriteString("\nATS tips:\n")
	for _, tip := range atsTips {
		fmt.Fprintf(&b, "  - %s\n", tip)
	}
	return b.String()
}

// countKeywords returns the keywords found in text, in list order.
func countKeywords(text string, keywords []string) []keywordCount {
	var out []keywordCount
	for _, k := range keywords {
		if n := countWord(text, strings.ToLower(k)); n > 0 {
			out = append(out, keywordCount{keyword: k, count: n})
		}
	}
	return out
}

func missingKeywords(found []keywordCount, resume string, limit int) []string {
	var out []string
	for _, k := range found {
		if countWord(resume, strings.ToLower(k.keyword)) == 0 {
			out = append(out, k.keyword)
		}
	}
	return firstN(out, limit)
}

func countWord(text, word string) int {
	n := 0
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], word)
		if j < 0 {
			break
		}
		start, end := i+j, i+j+len(word)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			n++
		}
		i = start + 1
	}
	return n
}

// OptimizeResume implements domain.ContentService.
func (g *TemplateGenerator) OptimizeResume(ctx context.Context, listing domain.JobListing, profile domain.Profile) (domain.ContentHandle, error) {
	if strings.TrimSpace(profile.ResumeText) == "" {
		return domain.ContentHandle{}, fmt.Errorf("%w: profile has no resume text", domain.ErrContentGeneration)
	}
	body := OptimizeResumeKeywords(profile.ResumeText, listing)
	return Save(ctx, g.artifacts, g.clock, listing, KindResume, body)
}
