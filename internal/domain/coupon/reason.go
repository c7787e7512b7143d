package coupon

// Reason is the machine-readable cause of a rejected validation. The empty
// Reason means the check passed.
type Reason string

const (
	ReasonNotFound           Reason = "not_found"
	ReasonAlreadyUsed        Reason = "already_used"
	ReasonExpired            Reason = "expired"
	ReasonInactive           Reason = "inactive"
	ReasonNotYetValid        Reason = "not_yet_valid"
	ReasonWindowExpired      Reason = "window_expired"
	ReasonMissingCategory    Reason = "missing_category"
	ReasonCategoryNotAllowed Reason = "category_not_allowed"
	ReasonCategoryForbidden  Reason = "category_forbidden"
	ReasonUsageLimitReached  Reason = "usage_limit_reached"
	ReasonInvalidItem        Reason = "invalid_item"
)

var reasonMessages = map[Reason]string{
	ReasonNotFound:           "coupon not found",
	ReasonAlreadyUsed:        "coupon has already been used",
	ReasonExpired:            "coupon has expired",
	ReasonInactive:           "coupon is no longer active",
	ReasonNotYetValid:        "coupon is not valid yet",
	ReasonWindowExpired:      "coupon promotion has ended",
	ReasonMissingCategory:    "item has no category",
	ReasonCategoryNotAllowed: "coupon does not apply to this category",
	ReasonCategoryForbidden:  "coupon cannot be used for this category",
	ReasonUsageLimitReached:  "coupon usage limit reached",
	ReasonInvalidItem:        "item price and quantity must be positive",
}

// Message returns a human-readable description of r.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}
