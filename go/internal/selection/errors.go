package selection

import "errors"

var (
	// ErrManualWinnerRequired indicates Select was called with the manual
	// method, which needs an explicit winner via CommitManual.
	ErrManualWinnerRequired = errors.New("manual selection requires an explicit winner attempt")

	// ErrAttemptNotEligible indicates a manually supplied winner does not
	// meet the eligibility bar (paid, completed, fraud-free, finalized).
	ErrAttemptNotEligible = errors.New("attempt is not eligible to win")

	// ErrTokenNotFound indicates no claim token matches.
	ErrTokenNotFound = errors.New("claim token not found")

	// ErrTokenExpired indicates the claim window has closed.
	ErrTokenExpired = errors.New("claim token expired")

	// ErrTokenRedeemed indicates the prize was already claimed.
	ErrTokenRedeemed = errors.New("claim token already redeemed")
)
