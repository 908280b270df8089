package content

import (
	"context"
	"log/slog"

	"github.com/pscheid92/autoapply/internal/domain"
)

// Fallback tries Primary and, when it fails for any reason other than the
// caller giving up, Secondary.
type Fallback struct {
	Primary   domain.ContentService
	Secondary domain.ContentService
}

func (f Fallback) Generate(ctx context.Context, listing domain.JobListing, profile domain.Profile) (domain.ContentHandle, error) {
	h, err := f.Primary.Generate(ctx, listing, profile)
	if err == nil || ctx.Err() != nil {
		return h, err
	}
	slog.Warn("Primary content service failed, using fallback", "identity", listing.Identity().Key(), "error", err)
	return f.Secondary.Generate(ctx, listing, profile)
}

func (f Fallback) OptimizeResume(ctx context.Context, listing domain.JobListing, profile domain.Profile) (domain.ContentHandle, error) {
	h, err := f.Primary.OptimizeResume(ctx, listing, profile)
	if err == nil || ctx.Err() != nil {
		return h, err
	}
	slog.Warn("Primary resume optimization failed, using fallback", "identity", listing.Identity().Key(), "error", err)
	return f.Secondary.OptimizeResume(ctx, listing, profile)
}
