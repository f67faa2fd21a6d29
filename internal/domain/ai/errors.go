package ai

import "errors"

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrRequestRejected indicates the provider refused the request itself
// (bad credentials, unknown model, oversized context). Retrying cannot help.
var ErrRequestRejected = errors.New("ai request rejected")

// ErrEmptyResponse indicates the provider answered without any choice.
var ErrEmptyResponse = errors.New("ai returned no choices")
