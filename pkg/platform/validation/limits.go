package validation

import (
	"fmt"

	dErrors "parcelproof/pkg/domain-errors"
)

// HTTP body limits
const (
	// MaxBodySize bounds JSON requests without evidence (64 KB).
	MaxBodySize = 64 * 1024

	// MaxHandoverBodySize bounds handover requests, which carry a base64 photo.
	MaxHandoverBodySize = 16 << 20
)

// Evidence limits
const (
	// MaxPhotoBytes is the largest decoded evidence photo accepted.
	MaxPhotoBytes = 10 << 20
)

// String element length limits
const (
	// MaxScannedTokenLength bounds the base58 token text presented at delivery.
	MaxScannedTokenLength = 4096

	// MaxOverrideReasonLength bounds the free-text proximity override reason.
	MaxOverrideReasonLength = 500

	// MaxScopeLength is the maximum length of an individual API scope.
	MaxScopeLength = 64
)

// Slice element count limits
const (
	// MaxScopes is the maximum number of scopes on an API bearer token.
	MaxScopes = 10
)

// CheckSliceCount validates that a slice does not exceed the maximum count.
func CheckSliceCount(fieldName string, count, max int) error {
	if count > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("too many %s: max %d allowed", fieldName, max))
	}
	return nil
}

// CheckStringLength validates that a string does not exceed the maximum length.
func CheckStringLength(fieldName, value string, max int) error {
	if len(value) > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
	}
	return nil
}

// CheckEachStringLength validates that each string in a slice does not exceed the maximum length.
func CheckEachStringLength(fieldName string, values []string, max int) error {
	for _, v := range values {
		if err := CheckStringLength(fieldName, v, max); err != nil {
			return err
		}
	}
	return nil
}

// CheckByteSize validates a decoded payload size.
func CheckByteSize(fieldName string, size, max int) error {
	if size > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds %d bytes", fieldName, max))
	}
	return nil
}
