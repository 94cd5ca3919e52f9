package domain

import "errors"

var (
	ErrNotFound        = errors.New("transaction_not_found")
	ErrConflict        = errors.New("transaction_conflict")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")

	// Gateway taxonomy. Unavailable is retryable, rejected is terminal,
	// auth is an operator configuration fault.
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	ErrGatewayRejected    = errors.New("gateway_rejected")
	ErrGatewayAuth        = errors.New("gateway_auth")
	ErrAuthConfig         = errors.New("gateway_auth_config")

	// ErrUnverified marks a webhook whose signature check did not return
	// success. Such payloads are discarded, never processed.
	ErrUnverified = errors.New("webhook_unverified")

	ErrEventIgnored = errors.New("event_ignored")
	ErrRefundFailed = errors.New("refund_failed")
)
