package domain

import "errors"

var (
	ErrPaymentNotFound = errors.New("payment_not_found")

	ErrNotBookingOwner = errors.New("not_booking_owner")
	ErrNotCompanyOwner = errors.New("not_company_owner")

	ErrAlreadyPaid       = errors.New("booking_already_paid")
	ErrBookingNotPayable = errors.New("booking_not_payable")
	ErrNotRefundable     = errors.New("payment_not_refundable")
	ErrConcurrentUpdate  = errors.New("payment_concurrently_updated")

	ErrInvalidRefundAmount = errors.New("invalid_refund_amount")
	ErrSessionMismatch     = errors.New("session_booking_mismatch")
)
