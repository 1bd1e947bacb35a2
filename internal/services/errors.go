package services

import "errors"

// Sentinel errors mapped to HTTP statuses by the handlers
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrSpainRule      = errors.New("SOS requires at least one active connection or a regional subscription")
	ErrNotAuthorized  = errors.New("event not found or access denied")
	ErrEventNotActive = errors.New("event is not active")
	ErrPushDisabled   = errors.New("push notifications are not configured")
)

// SpainRuleCode is the machine readable code returned with ErrSpainRule
const SpainRuleCode = "SPAIN_RULE_VIOLATION"
