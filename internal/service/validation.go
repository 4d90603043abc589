package service

import (
	"strings"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

// ValidateCourseCategories checks a requested category list against the
// known categories and returns it de-duplicated in request order.
func ValidateCourseCategories(requested []string, known map[string]struct{}) ([]string, error) {
	out := make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	var unknown []string
	for _, id := range requested {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
			continue
		}
		out = append(out, id)
	}
	if len(unknown) > 0 {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "unknown categories"), unknown)
	}
	if len(out) > models.MaxCourseCategories {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a course can have at most 3 categories")
	}
	return out, nil
}

// ValidateCategoryName rejects blank names and names already used by another
// category, compared case-insensitively.
func ValidateCategoryName(existing []models.Category, name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return appErrors.Clone(appErrors.ErrValidation, "category name is required")
	}
	for _, category := range existing {
		if strings.EqualFold(strings.TrimSpace(category.Name), trimmed) {
			return appErrors.Clone(appErrors.ErrValidation, "category name already exists")
		}
	}
	return nil
}
