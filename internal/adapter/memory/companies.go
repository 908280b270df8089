package memory

import (
	"context"
	"strings"
)

// CompanyBlocklist is a fixed, case-insensitive set of blocked companies,
// used when no database is configured.
type CompanyBlocklist struct {
	blocked map[string]struct{}
}

func NewCompanyBlocklist(companies []string) *CompanyBlocklist {
	b := &CompanyBlocklist{blocked: make(map[string]struct{}, len(companies))}
	for _, c := range companies {
		if name := strings.ToLower(strings.TrimSpace(c)); name != "" {
			b.blocked[name] = struct{}{}
		}
	}
	return b
}

func (b *CompanyBlocklist) IsBlocked(_ context.Context, company string) (bool, string, error) {
	if _, ok := b.blocked[strings.ToLower(strings.TrimSpace(company))]; ok {
		return true, "blocked by configuration", nil
	}
	return false, "", nil
}
