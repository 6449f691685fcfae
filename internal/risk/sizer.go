package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sizing errors. ErrStopDistance is a hard rejection: a zero stop distance
// must never be papered over with a fallback lot.
var (
	ErrStopDistance = errors.New("invalid stop distance")
	ErrRiskInputs   = errors.New("invalid risk inputs")
)

// ComputeLot converts risk parameters and stop distance into a lot size:
//
//	risk_amount   = balance × risk_pct
//	distance_pips = |entry − stop| / pip_size
//	lot           = risk_amount / (distance_pips × pip_value)
//
// rounded down to the instrument's lot step, then clamped into
// [MinLot, MaxLot]. Decimal arithmetic keeps the rounding exact; float math
// here has produced off-by-a-step lots before.
func ComputeLot(balance, riskPct, entry, stop float64, inst Instrument) (float64, error) {
	if balance <= 0 || riskPct <= 0 || riskPct > 1 {
		return 0, fmt.Errorf("%w: balance=%v risk_pct=%v", ErrRiskInputs, balance, riskPct)
	}
	if inst.PipSize <= 0 || inst.PipValue <= 0 || inst.LotStep <= 0 {
		return 0, fmt.Errorf("%w: bad instrument %s", ErrRiskInputs, inst.Symbol)
	}

	entryD := decimal.NewFromFloat(entry)
	stopD := decimal.NewFromFloat(stop)
	pipSize := decimal.NewFromFloat(inst.PipSize)

	distancePips := entryD.Sub(stopD).Abs().Div(pipSize)
	if distancePips.Sign() <= 0 {
		return 0, fmt.Errorf("%w: entry=%v stop=%v", ErrStopDistance, entry, stop)
	}

	riskAmount := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(riskPct))
	pipValue := decimal.NewFromFloat(inst.PipValue)

	lot := riskAmount.Div(distancePips.Mul(pipValue))

	// Round down to the lot step; rounding up would oversize the position.
	step := decimal.NewFromFloat(inst.LotStep)
	lot = lot.Div(step).Floor().Mul(step)

	minLot := decimal.NewFromFloat(inst.MinLot)
	if lot.LessThan(minLot) {
		lot = minLot
	}
	if inst.MaxLot > 0 {
		maxLot := decimal.NewFromFloat(inst.MaxLot)
		if lot.GreaterThan(maxLot) {
			lot = maxLot
		}
	}

	return lot.InexactFloat64(), nil
}
