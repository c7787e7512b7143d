package coupon

import "github.com/google/uuid"

// RestrictionKind says how a category restriction constrains a template.
type RestrictionKind string

const (
	// RestrictionAllowOnly whitelists a category.
	RestrictionAllowOnly RestrictionKind = "allow_only"
	// RestrictionForbid blacklists a category.
	RestrictionForbid RestrictionKind = "forbid"
)

// Restriction ties a template to a product category.
type Restriction struct {
	ID         uuid.UUID
	TemplateID uuid.UUID
	CategoryID string
	Kind       RestrictionKind
}

// EvaluateRestrictions checks categoryID against the template's
// restrictions. ALLOW-ONLY entries are checked first as a whitelist (only when
// any exist), then FORBID entries as a blacklist. An empty category is
// rejected before either list is consulted.
func EvaluateRestrictions(restrictions []Restriction, categoryID string) Reason {
	if categoryID == "" {
		return ReasonMissingCategory
	}

	hasAllow, allowed := false, false
	for _, r := range restrictions {
		if r.Kind != RestrictionAllowOnly {
			continue
		}
		hasAllow = true
		if r.CategoryID == categoryID {
			allowed = true
			break
		}
	}
	if hasAllow && !allowed {
		return ReasonCategoryNotAllowed
	}

	for _, r := range restrictions {
		if r.Kind == RestrictionForbid && r.CategoryID == categoryID {
			return ReasonCategoryForbidden
		}
	}
	return ""
}
