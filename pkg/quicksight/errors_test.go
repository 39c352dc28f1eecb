package quicksight

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/quicksight/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		alreadyExists bool
		notFound      bool
		retryable     bool
	}{
		{name: "nil"},
		{name: "plain error", err: errors.New("boom")},
		{name: "resource exists", err: &types.ResourceExistsException{}, alreadyExists: true},
		{name: "resource not found", err: &types.ResourceNotFoundException{}, notFound: true},
		{name: "throttling", err: &types.ThrottlingException{}, retryable: true},
		{name: "internal failure", err: &types.InternalFailureException{}, retryable: true},
		{name: "resource unavailable", err: &smithy.GenericAPIError{Code: "ResourceUnavailableException"}, retryable: true},
		{name: "limit exceeded", err: &smithy.GenericAPIError{Code: "LimitExceededException"}, retryable: true},
		{name: "concurrent updating", err: &smithy.GenericAPIError{Code: "ConcurrentUpdatingException"}, retryable: true},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDeniedException"}},
		{name: "invalid parameter", err: &smithy.GenericAPIError{Code: "InvalidParameterValueException"}},
		{
			name:      "wrapped throttling",
			err:       fmt.Errorf("listing users in namespace [default]: %w", &types.ThrottlingException{}),
			retryable: true,
		},
		{
			name:          "wrapped exists",
			err:           fmt.Errorf("creating group [default/qs_x]: %w", &types.ResourceExistsException{}),
			alreadyExists: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.alreadyExists, IsAlreadyExists(tt.err), "IsAlreadyExists")
			assert.Equal(t, tt.notFound, IsNotFound(tt.err), "IsNotFound")
			assert.Equal(t, tt.retryable, IsRetryable(tt.err), "IsRetryable")
		})
	}
}
