package domain

import (
	"strings"
	"time"
)

// JobListing is a scraped job posting. It is never modified after discovery.
type JobListing struct {
	Platform    string    `json:"platform"`
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	Location    string    `json:"location"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	EasyApply   bool      `json:"easy_apply"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// Identity returns the normalized dedup identity of the listing.
func (l JobListing) Identity() Identity {
	return NormalizeIdentity(l.Platform, l.ExternalID)
}

// Identity is the canonical (platform, external id) key of a job listing.
type Identity struct {
	Platform   string `json:"platform"`
	ExternalID string `json:"external_id"`
}

// Key renders the identity as "platform:external_id".
func (i Identity) Key() string {
	return i.Platform + ":" + i.ExternalID
}

func (i Identity) String() string { return i.Key() }

// IsZero reports whether either half of the identity is missing.
func (i Identity) IsZero() bool {
	return i.Platform == "" || i.ExternalID == ""
}

// NormalizeIdentity case-folds both parts and strips query string, fragment
// and trailing slashes from the external id.
func NormalizeIdentity(platform, externalID string) Identity {
	id := strings.TrimSpace(externalID)
	if i := strings.IndexAny(id, "?#"); i >= 0 {
		id = id[:i]
	}
	id = strings.TrimRight(id, "/")

	return Identity{
		Platform:   strings.ToLower(strings.TrimSpace(platform)),
		ExternalID: strings.ToLower(id),
	}
}

// Criteria describes a discovery search on one platform.
type Criteria struct {
	Keywords  string `json:"keywords"`
	Location  string `json:"location"`
	MaxPages  int    `json:"max_pages"`
	EasyApply bool   `json:"easy_apply"`
}
