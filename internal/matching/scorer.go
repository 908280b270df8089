// Package matching scores how well a job listing fits the applicant profile
// using weighted skill catalogues and keyword overlap. No network calls.
package matching

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/pscheid92/autoapply/internal/domain"
)

type category struct {
	name   string
	weight float64
	skills []string
}

var catalogue = []category{
	{"languages", 0.30, []string{"python", "javascript", "typescript", "java", "c++", "c#", "go", "golang", "rust", "php", "ruby", "scala", "kotlin", "swift"}},
	{"frameworks", 0.25, []string{"react", "vue", "angular", "django", "flask", "spring", "express", "laravel", "rails", "asp.net", "node.js"}},
	{"tools", 0.20, []string{"docker", "kubernetes", "aws", "azure", "gcp", "git", "jenkins", "terraform", "ansible", "ci/cd", "kafka"}},
	{"databases", 0.15, []string{"mysql", "postgresql", "postgres", "mongodb", "redis", "elasticsearch", "oracle", "sql server", "sql"}},
	{"soft", 0.10, []string{"leadership", "communication", "teamwork", "problem solving", "analytical", "mentoring"}},
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "you": {}, "your": {}, "our": {}, "are": {}, "will": {},
	"this": {}, "that": {}, "from": {}, "have": {}, "has": {}, "was": {}, "were": {}, "team": {}, "work": {},
	"role": {}, "about": {}, "what": {}, "who": {}, "into": {}, "their": {}, "they": {}, "been": {},
}

const (
	skillWeight   = 0.7
	keywordWeight = 0.3
	topKeywords   = 20
)

// KeywordScorer implements domain.MatchScorer.
type KeywordScorer struct{}

func NewKeywordScorer() *KeywordScorer { return &KeywordScorer{} }

// Score returns a value in [0, 1]. A listing that names no catalogue skill is
// scored on keyword overlap alone.
func (s *KeywordScorer) Score(_ context.Context, listing domain.JobListing, profile domain.Profile) (float64, error) {
	jobText := normalize(listing.Title + " " + listing.Description)
	profileText := normalize(strings.Join([]string{
		profile.Headline, profile.Summary, profile.ResumeText, strings.Join(profile.Skills, " , "),
	}, " "))

	skill, ok := skillMatch(jobText, profileText)
	kw := keywordMatch(jobText, profileText)
	if !ok {
		return kw, nil
	}
	return skillWeight*skill + keywordWeight*kw, nil
}

// skillMatch is the weighted share of the listing's catalogue skills the profile has.
// ok is false when the listing mentions none.
func skillMatch(jobText, profileText string) (float64, bool) {
	var score, weight float64
	for _, cat := range catalogue {
		wanted, have := 0, 0
		for _, sk := range cat.skills {
			if !containsPhrase(jobText, sk) {
				continue
			}
			wanted++
			if containsPhrase(profileText, sk) {
				have++
			}
		}
		if wanted > 0 {
			score += cat.weight * float64(have) / float64(wanted)
			weight += cat.weight
		}
	}
	if weight == 0 {
		return 0, false
	}
	return score / weight, true
}

func keywordMatch(jobText, profileText string) float64 {
	jobKeywords := keywords(jobText)
	if len(jobKeywords) == 0 {
		return 0
	}
	have := make(map[string]struct{})
	for _, w := range strings.Fields(profileText) {
		have[w] = struct{}{}
	}
	hits := 0
	for _, w := range jobKeywords {
		if _, ok := have[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(jobKeywords))
}

// keywords returns the most frequent non-stop words longer than three letters.
func keywords(text string) []string {
	counts := make(map[string]int)
	for _, w := range strings.Fields(text) {
		if len(w) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		counts[w]++
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > topKeywords {
		words = words[:topKeywords]
	}
	return words
}

// normalize lowercases text and keeps tokens made of letters, digits and the
// symbols skill names use (c++, c#, node.js, ci/cd), separated by single spaces.
func normalize(text string) string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("+#./", r)
	})
	for i, t := range tokens {
		tokens[i] = strings.TrimRight(t, "./")
	}
	return " " + strings.Join(tokens, " ") + " "
}

func containsPhrase(text, phrase string) bool {
	return strings.Contains(text, " "+phrase+" ")
}
