package vendors

import (
	"strings"

	"github.com/procurepro/procurepro/internal/platform/httpx"
)

func (s *Service) validate(v *Vendor) error {
	v.CompanyName = strings.TrimSpace(v.CompanyName)
	v.Email = strings.TrimSpace(strings.ToLower(v.Email))
	v.Phone = strings.TrimSpace(v.Phone)
	v.Category = strings.TrimSpace(v.Category)
	return httpx.Validate(s.validator, v)
}
