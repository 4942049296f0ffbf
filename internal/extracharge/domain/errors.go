package domain

import "errors"

var (
	ErrChargeNotFound   = errors.New("extra_charge_not_found")
	ErrChargeExpired    = errors.New("extra_charge_expired")
	ErrChargeNotPending = errors.New("extra_charge_not_pending")
	ErrInvalidAmount    = errors.New("extra_charge_invalid_amount")
)
