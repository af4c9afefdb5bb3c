package domain

// SubmissionState is a node of the checkout submission state machine.
type SubmissionState string

const (
	SubmissionIdle                       SubmissionState = "IDLE"
	SubmissionFormValidating             SubmissionState = "FORM_VALIDATING"
	SubmissionAwaitingWalletConfirmation SubmissionState = "AWAITING_WALLET_CONFIRMATION"
	SubmissionSubmitting                 SubmissionState = "SUBMITTING"
	SubmissionConfirmed                  SubmissionState = "CONFIRMED"
	SubmissionFailed                     SubmissionState = "FAILED"
)

// IsTerminal reports whether the attempt has finished. Failed is terminal for the attempt but
// the checkout may be retried from it.
func (s SubmissionState) IsTerminal() bool {
	return s == SubmissionConfirmed || s == SubmissionFailed
}

// CanStartCheckout reports whether a new checkout attempt may begin from this state.
func (s SubmissionState) CanStartCheckout() bool {
	return s == SubmissionIdle || s == SubmissionFailed
}

// String returns the wire name of the state.
func (s SubmissionState) String() string {
	return string(s)
}
