package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIdentity(t *testing.T) {
	tests := []struct {
		name       string
		platform   string
		externalID string
		want       Identity
	}{
		{"plain", "linkedin", "12345", Identity{"linkedin", "12345"}},
		{"case folded", "LinkedIn", "ABC-12", Identity{"linkedin", "abc-12"}},
		{"query stripped", "seek", "7781?ref=search&pos=3", Identity{"seek", "7781"}},
		{"fragment stripped", "seek", "7781#apply", Identity{"seek", "7781"}},
		{"trailing slash", "linkedin", "jobs/view/42/", Identity{"linkedin", "jobs/view/42"}},
		{"whitespace", " seek ", "  99 ", Identity{"seek", "99"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeIdentity(tt.platform, tt.externalID))
		})
	}
}

func TestJobListing_IdentityMatchesAcrossScrapes(t *testing.T) {
	first := JobListing{Platform: "linkedin", ExternalID: "3901?trk=abc"}
	second := JobListing{Platform: "LINKEDIN", ExternalID: "3901/?trk=xyz"}

	assert.Equal(t, first.Identity(), second.Identity())
	assert.Equal(t, "linkedin:3901", first.Identity().Key())
}
