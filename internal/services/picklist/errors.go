package picklist

import "errors"

var (
	// ErrInvalidRequest is a caller error (empty team set, bad pick
	// position), rejected before any model call is made
	ErrInvalidRequest = errors.New("invalid picklist request")

	// ErrMalformedResponse means the completion text is not parseable
	// JSON or lacks the picklist key
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrTransportFailure means the model call errored or timed out;
	// no response exists to reconcile
	ErrTransportFailure = errors.New("model call failed")

	// ErrChunkBudgetExhausted means the continuation controller hit its
	// chunk ceiling without covering the full team set; the partial
	// accumulated result is discarded
	ErrChunkBudgetExhausted = errors.New("chunk budget exhausted without full coverage")
)
