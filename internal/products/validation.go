package products

import (
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func (s *Service) validate(in *CreateInput) error {
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	in.SKU = strings.TrimSpace(in.SKU)
	in.Name = strings.TrimSpace(in.Name)
	if in.Code == "" {
		return shared.InvalidField("code", "product code is required")
	}
	if in.Name == "" {
		return shared.InvalidField("name", "product name is required")
	}
	return in.Params.Validate()
}
