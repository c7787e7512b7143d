package coupon

import "github.com/storefront/service-coupon/internal/platform/domain"

var (
	ErrTemplateNotFound = &domain.DomainError{Code: "TEMPLATE_NOT_FOUND", Message: "no active coupon template for amount", Err: domain.ErrNotFound}
	ErrInstanceNotFound = &domain.DomainError{Code: "COUPON_NOT_FOUND", Message: "coupon not found", Err: domain.ErrNotFound}
	ErrAlreadyRedeemed  = &domain.DomainError{Code: "COUPON_ALREADY_REDEEMED", Message: "coupon has already been redeemed", Err: domain.ErrConflict}
	ErrNotOrphaned      = &domain.DomainError{Code: "COUPON_NOT_ORPHANED", Message: "coupon already has a buyer", Err: domain.ErrConflict}
	// ErrDuplicatePayment and ErrDuplicateCode are raised by repositories on
	// unique violations and are resolved inside issuance.
	ErrDuplicatePayment    = &domain.DomainError{Code: "DUPLICATE_PAYMENT", Message: "coupon already issued for payment", Err: domain.ErrConflict}
	ErrDuplicateCode       = &domain.DomainError{Code: "DUPLICATE_CODE", Message: "coupon code already exists", Err: domain.ErrConflict}
	ErrCodeSpaceExhausted  = &domain.DomainError{Code: "CODE_SPACE_EXHAUSTED", Message: "could not generate a unique coupon code", Err: domain.ErrConflict}
	ErrInvalidConfirmation = &domain.DomainError{Code: "INVALID_CONFIRMATION", Message: "invalid payment confirmation", Err: domain.ErrValidation}
)
