// Package openai generates cover letters and optimized resumes through an OpenAI-compatible chat
// completion API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/content"
	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/platform/retry"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultModel     = openai.GPT4oMini
	defaultMaxTokens = 600
	resumeMaxTokens  = 1500
	maxDescription   = 4000
	maxResume        = 6000
)

const systemPrompt = `You write cover letters for job applications.
Write a concise, professional letter of 250 to 300 words in plain text.
Use only facts from the applicant profile. Do not invent employers, degrees or numbers.
Start with "Dear Hiring Manager," and end with "Best regards," followed by the applicant's name.`

const resumeSystemPrompt = `You optimize resumes for applicant tracking systems.
Rewrite the resume so the skills and terms of the job description appear naturally.
Put the most relevant skills in the first third and use standard section headings.
Keep every employer, date, degree and number exactly as given. Never add experience the applicant does not have.
Return only the full resume in plain text.`

// ChatClient is the part of *openai.Client the service uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ContentService implements domain.ContentService.
type ContentService struct {
	client    ChatClient
	model     string
	artifacts domain.ArtifactStore
	clock     clockwork.Clock
	retry     retry.Policy
}

func NewContentService(client ChatClient, model string, artifacts domain.ArtifactStore, clock clockwork.Clock) *ContentService {
	if model == "" {
		model = DefaultModel
	}
	return &ContentService{
		client:    client,
		model:     model,
		artifacts: artifacts,
		clock:     clock,
		retry: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   time.Second,
			RateLimitBackoff: 10 * time.Second,
			MaxBackoff:       30 * time.Second,
			Clock:            clock,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Warn("Chat completion failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
			},
		},
	}
}

// NewClient builds a go-openai client; baseURL may point at any compatible API.
func NewClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (s *ContentService) Generate(ctx context.Context, listing domain.JobListing, profile domain.Profile) (domain.ContentHandle, error) {
	if strings.TrimSpace(listing.Title) == "" || strings.TrimSpace(listing.Company) == "" {
		return domain.ContentHandle{}, fmt.Errorf("%w: listing %s has no title or company", domain.ErrContentGeneration, listing.Identity())
	}

	body, err := s.complete(ctx, systemPrompt, userPrompt(listing, profile), defaultMaxTokens)
	if err != nil {
		return domain.ContentHandle{}, fmt.Errorf("%w: %w", domain.ErrContentGeneration, err)
	}
	return content.Save(ctx, s.artifacts, s.clock, listing, content.KindCoverLetter, body)
}

// OptimizeResume rewrites the profile's resume so the listing's keywords
// appear naturally, keeping the applicant's facts.
func (s *ContentService) OptimizeResume(ctx context.Context, listing domain.JobListing, profile domain.Profile) (domain.ContentHandle, error) {
	if strings.TrimSpace(profile.ResumeText) == "" {
		return domain.ContentHandle{}, fmt.Errorf("%w: profile has no resume text", domain.ErrContentGeneration)
	}

	body, err := s.complete(ctx, resumeSystemPrompt, resumePrompt(listing, profile), resumeMaxTokens)
	if err != nil {
		return domain.ContentHandle{}, fmt.Errorf("%w: %w", domain.ErrContentGeneration, err)
	}
	return content.Save(ctx, s.artifacts, s.clock, listing, content.KindResume, body)
}

func (s *ContentService) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	return retry.Do(ctx, s.retry, classify, func(ctx context.Context) (string, error) {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("no choices in chat completion")
		}
		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return "", errors.New("empty chat completion")
		}
		return text, nil
	})
}

func userPrompt(listing domain.JobListing, profile domain.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job title: %s\nCompany: %s\n", listing.Title, listing.Company)
	if listing.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", listing.Location)
	}
	fmt.Fprintf(&b, "Job description:\n%s\n\n", truncate(listing.Description, maxDescription))

	fmt.Fprintf(&b, "Applicant name: %s\n", profile.Name)
	if profile.Headline != "" {
		fmt.Fprintf(&b, "Headline: %s\n", profile.Headline)
	}
	if len(profile.Skills) > 0 {
		fmt.Fprintf(&b, "Skills: %s\n", strings.Join(profile.Skills, ", "))
	}
	if profile.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", profile.Summary)
	}
	return b.String()
}

func resumePrompt(listing domain.JobListing, profile domain.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job title: %s\nCompany: %s\n", listing.Title, listing.Company)
	fmt.Fprintf(&b, "Job description:\n%s\n\n", truncate(listing.Description, maxDescription))
	fmt.Fprintf(&b, "Resume:\n%s\n", truncate(profile.ResumeText, maxResume))
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// classify retries throttling and server errors. Client errors such as a
// bad key or an unknown model do not get better by retrying.
func classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}
	return retry.Retry
}

func classifyStatus(code int) retry.Action {
	switch {
	case code == http.StatusTooManyRequests:
		return retry.After
	case code >= 500, code == 0:
		return retry.Retry
	default:
		return retry.Stop
	}
}
