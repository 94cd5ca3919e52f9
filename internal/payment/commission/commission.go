// Package commission implements the marketplace fee split. Amounts are
// integer minor units and rates are basis points, so every split is exact.
package commission

import "errors"

var (
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrInvalidRate   = errors.New("invalid_rate")
)

const rateScale = 10000

// Split divides a gross amount into commission and net. The commission
// rounds down and the remainder cent stays on the net side, so
// commission + net == gross always holds.
func Split(gross int64, rateBps int64) (commission int64, net int64, err error) {
	if gross <= 0 {
		return 0, 0, ErrInvalidAmount
	}
	if rateBps <= 0 || rateBps >= rateScale {
		return 0, 0, ErrInvalidRate
	}

	commission = gross * rateBps / rateScale
	net = gross - commission
	return commission, net, nil
}

// Proportional splits a partial refund in the same ratio as the original
// transaction, rounding the commission share down. The two shares always
// sum to the refund amount.
func Proportional(refund, gross, grossCommission int64) (commission int64, net int64, err error) {
	if refund <= 0 || gross <= 0 || refund > gross {
		return 0, 0, ErrInvalidAmount
	}
	if grossCommission < 0 || grossCommission > gross {
		return 0, 0, ErrInvalidAmount
	}

	commission = refund * grossCommission / gross
	net = refund - commission
	return commission, net, nil
}
