package math

import (
	"fmt"
	"math/bits"
)

// Payout computes floor(amount * totalPool / winningPool) with a 128-bit
// intermediate, so the product never overflows even when both factors approach
// the uint64 range.
//
// The quotient itself cannot overflow for any real claim: amount is part of
// winningPool, so amount <= winningPool and the result is at most totalPool.
// The guard below still rejects the impossible case rather than trusting it.
func Payout(amount, totalPool, winningPool uint64) (uint64, error) {
	if winningPool == 0 {
		return 0, fmt.Errorf("payout: winning pool is zero")
	}
	hi, lo := bits.Mul64(amount, totalPool)
	if hi >= winningPool {
		// Quotient would exceed 64 bits; bits.Div64 panics on this input.
		return 0, fmt.Errorf("payout: quotient overflow (amount=%d total=%d winning=%d)",
			amount, totalPool, winningPool)
	}
	quo, _ := bits.Div64(hi, lo, winningPool)
	return quo, nil
}

// AddPool returns a + b, rejecting uint64 overflow. Pool accounting refuses a
// stake that would overflow rather than wrapping silently.
func AddPool(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("pool overflow: %d + %d exceeds uint64", a, b)
	}
	return sum, nil
}
