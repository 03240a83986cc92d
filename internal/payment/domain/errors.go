package domain

import "errors"

var (
	ErrProviderNotFound          = errors.New("payment_provider_not_found")
	ErrInvalidConfig             = errors.New("payment_provider_invalid_config")
	ErrInvalidPayload            = errors.New("payment_invalid_payload")
	ErrInvalidSignature          = errors.New("payment_invalid_signature")
	ErrPaymentLinkCreationFailed = errors.New("payment_link_creation_failed")
	ErrTransactionNotFound       = errors.New("transaction_not_found")
)
