package chain

import "errors"

// Error kinds surfaced by the modules. Every failed invocation returns one of
// these (possibly wrapped) and the host reverts its state and events.
var (
	ErrNotOwner                    = errors.New("caller is not the owner")
	ErrNotAuthorizedProcessor      = errors.New("caller is not an authorized processor")
	ErrNotAuthorizedPublisher      = errors.New("caller is not an authorized publisher")
	ErrEntitlementNotFound         = errors.New("entitlement not found")
	ErrSessionNotFound             = errors.New("session not found")
	ErrSessionAlreadyExists        = errors.New("session already exists")
	ErrPaymentNotFound             = errors.New("payment not found")
	ErrPolicyNotFound              = errors.New("policy not found")
	ErrScopeNotFound               = errors.New("scope not found")
	ErrScopeInactive               = errors.New("scope inactive")
	ErrAttributeStoreNotConfigured = errors.New("attribute store not configured")
	ErrContractNotConfigured       = errors.New("contract not configured")
	ErrRootNotFound                = errors.New("attribute root not found")
	ErrInvalidProof                = errors.New("invalid proof")
	ErrMissingRequiredAttribute    = errors.New("missing required attribute")
	ErrPaymentAlreadyExists        = errors.New("payment already exists")
	ErrInvalidStatus               = errors.New("invalid status")
	ErrInputTooLong                = errors.New("input too long")
	ErrTooManyAttributes           = errors.New("too many attributes")
	ErrInvalidEntitlementLevel     = errors.New("invalid entitlement level")
	ErrInvalidDuration             = errors.New("invalid duration")
	ErrAlreadyInitialized          = errors.New("module already initialized")
	ErrNotInitialized              = errors.New("module not initialized")
	ErrCallDepthExceeded           = errors.New("call depth exceeded")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNotOwner, "NotOwner"},
	{ErrNotAuthorizedProcessor, "NotAuthorizedProcessor"},
	{ErrNotAuthorizedPublisher, "NotAuthorizedPublisher"},
	{ErrEntitlementNotFound, "EntitlementNotFound"},
	{ErrSessionNotFound, "SessionNotFound"},
	{ErrSessionAlreadyExists, "SessionAlreadyExists"},
	{ErrPaymentNotFound, "PaymentNotFound"},
	{ErrPolicyNotFound, "PolicyNotFound"},
	{ErrScopeNotFound, "ScopeNotFound"},
	{ErrScopeInactive, "ScopeInactive"},
	{ErrAttributeStoreNotConfigured, "AttributeStoreNotConfigured"},
	{ErrContractNotConfigured, "ContractNotConfigured"},
	{ErrRootNotFound, "RootNotFound"},
	{ErrInvalidProof, "InvalidProof"},
	{ErrMissingRequiredAttribute, "MissingRequiredAttribute"},
	{ErrPaymentAlreadyExists, "PaymentAlreadyExists"},
	{ErrInvalidStatus, "InvalidStatus"},
	{ErrInputTooLong, "InputTooLong"},
	{ErrTooManyAttributes, "TooManyAttributes"},
	{ErrInvalidEntitlementLevel, "InvalidEntitlementLevel"},
	{ErrInvalidDuration, "InvalidDuration"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrCallDepthExceeded, "CallDepthExceeded"},
}

// KindOf returns the tag name of a module error, or "" for errors that are
// not part of the taxonomy (storage failures and the like).
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

// ErrorForKind maps a tag name back to its sentinel, or nil if unknown.
func ErrorForKind(kind string) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}
