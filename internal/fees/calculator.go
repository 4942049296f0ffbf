package fees

import (
	"errors"

	"github.com/bookline-app/bookline/internal/config"
)

var ErrInvalidBaseAmount = errors.New("invalid_base_amount")

// Split is the breakdown of a customer-facing charge. TotalAmount always
// equals BaseAmount + PlatformFeeAmount + ProcessingFeeAmount exactly; the
// merchant payout is BaseAmount and the platform keeps the rest.
type Split struct {
	BaseAmount          int64
	PlatformFeeAmount   int64
	ProcessingFeeAmount int64
	TotalAmount         int64
}

// Calculate maps a base price in minor currency units to the full split
// under the given policy. Pure; fee fractions round half-up.
func Calculate(policy config.FeePolicy, baseAmount int64) (Split, error) {
	if baseAmount <= 0 {
		return Split{}, ErrInvalidBaseAmount
	}

	platformFee := roundBps(baseAmount, policy.PlatformFeeBps)
	processingFee := roundBps(baseAmount, policy.ProcessingFeeBps) + policy.ProcessingFeeFixed

	return Split{
		BaseAmount:          baseAmount,
		PlatformFeeAmount:   platformFee,
		ProcessingFeeAmount: processingFee,
		TotalAmount:         baseAmount + platformFee + processingFee,
	}, nil
}

// roundBps applies a basis-point rate with half-up rounding on the
// remainder, so the split reconciles exactly in integer arithmetic.
func roundBps(amount int64, bps int64) int64 {
	return (amount*bps + 5000) / 10000
}
