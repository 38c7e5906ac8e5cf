package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrLockHeld      = errors.New("lock already held")
	ErrRunTerminal   = errors.New("execution run already terminal")
	ErrContextDone   = errors.New("context cancelled")
)

// Error codes surfaced in the HTTP error envelope. The RMS and broker layers
// attach these to typed errors so handlers never have to guess a status.
const (
	CodeRMSMaxLoss           = "RMS_MAX_LOSS"
	CodeRMSMaxLots           = "RMS_MAX_LOTS"
	CodeRMSMaxOrderSize      = "RMS_MAX_ORDER_SIZE"
	CodeRMSMargin            = "RMS_MARGIN"
	CodeRMSExposure          = "RMS_EXPOSURE"
	CodeNoEligibleAccounts   = "NO_ELIGIBLE_ACCOUNTS"
	CodeBrokerSessionExpired = "BROKER_SESSION_EXPIRED"
	CodeBrokerRejected       = "BROKER_REJECTED"
	CodeAdapterTimeout       = "ADAPTER_TIMEOUT"
	CodeAllocationInvalid    = "ALLOCATION_INVALID"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeConflict             = "CONFLICT"
	CodeNotFound             = "NOT_FOUND"
)

// RiskViolation is returned by the RMS gate when a pre-trade rule rejects a
// leg. It is final: risk violations are never retried.
type RiskViolation struct {
	Code    string
	Message string
}

func (v *RiskViolation) Error() string {
	return fmt.Sprintf("rms: %s: %s", v.Code, v.Message)
}

// AsRiskViolation unwraps err into a *RiskViolation if there is one.
func AsRiskViolation(err error) (*RiskViolation, bool) {
	var v *RiskViolation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// BrokerFault describes an adapter-level failure. Retryable faults (transport
// timeouts, 5xx) may be retried once within a leg; business rejections and
// expired sessions are handled by dedicated paths.
type BrokerFault struct {
	Code      string // CodeBrokerRejected, CodeBrokerSessionExpired, CodeAdapterTimeout
	Message   string
	Retryable bool
}

func (f *BrokerFault) Error() string {
	return fmt.Sprintf("broker: %s: %s", f.Code, f.Message)
}

// AsBrokerFault unwraps err into a *BrokerFault if there is one.
func AsBrokerFault(err error) (*BrokerFault, bool) {
	var f *BrokerFault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// SessionExpired reports whether err is a broker fault caused by an expired
// session token.
func SessionExpired(err error) bool {
	f, ok := AsBrokerFault(err)
	return ok && f.Code == CodeBrokerSessionExpired
}
