package domain

import (
	"context"
	"time"
)

// Profile is the applicant profile handed to content generation and matching.
type Profile struct {
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
	Location   string   `json:"location"`
	Headline   string   `json:"headline"`
	Summary    string   `json:"summary"`
	Skills     []string `json:"skills"`
	ResumeText string   `json:"resume_text"`
}

// ContentService generates application content and returns handles to it.
// Generate writes a cover letter; OptimizeResume rewrites the profile's
// resume around the listing's keywords. Failures are wrapped with
// ErrContentGeneration.
type ContentService interface {
	Generate(ctx context.Context, listing JobListing, profile Profile) (ContentHandle, error)
	OptimizeResume(ctx context.Context, listing JobListing, profile Profile) (ContentHandle, error)
}

// MatchScorer rates how well a listing fits a profile, in [0, 1].
type MatchScorer interface {
	Score(ctx context.Context, listing JobListing, profile Profile) (float64, error)
}

// Artifact is generated content addressed by a ContentHandle.
type Artifact struct {
	Handle    ContentHandle
	Identity  Identity
	Body      string
	CreatedAt time.Time
}

// ArtifactStore persists generated content so records only keep handles.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, artifact Artifact) error
	GetArtifact(ctx context.Context, id string) (*Artifact, error)
}

// CompanyFilter decides whether applications to a company are blocked.
type CompanyFilter interface {
	IsBlocked(ctx context.Context, company string) (blocked bool, reason string, err error)
}
