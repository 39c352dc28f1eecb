package quicksight

import (
	"errors"

	"github.com/aws/smithy-go"
)

// QuickSight error codes that change how an operation is handled.
const (
	errCodeResourceExists      = "ResourceExistsException"
	errCodeResourceNotFound    = "ResourceNotFoundException"
	errCodeThrottling          = "ThrottlingException"
	errCodeInternalFailure     = "InternalFailureException"
	errCodeResourceUnavailable = "ResourceUnavailableException"
	errCodeLimitExceeded       = "LimitExceededException"
	errCodeConcurrentUpdating  = "ConcurrentUpdatingException"
)

// IsAlreadyExists reports a create that found its resource already there.
// The apply engine counts those as success.
func IsAlreadyExists(err error) bool {
	return hasCode(err, errCodeResourceExists)
}

// IsNotFound reports an operation whose resource is gone. Deletes count
// those as success.
func IsNotFound(err error) bool {
	return hasCode(err, errCodeResourceNotFound)
}

// IsRetryable reports errors worth retrying with backoff: throttling and
// transient service trouble. Anything else (access denied, bad parameters,
// preconditions) fails the operation immediately.
func IsRetryable(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case errCodeThrottling, errCodeInternalFailure, errCodeResourceUnavailable,
		errCodeLimitExceeded, errCodeConcurrentUpdating:
		return true
	}
	return false
}

func hasCode(err error, code string) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == code
	}
	return false
}
