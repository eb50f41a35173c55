package validation

import (
	"strings"
	"testing"

	dErrors "parcelproof/pkg/domain-errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every limit accepts its maximum and rejects maximum+1.
func TestLimitsAtBoundary(t *testing.T) {
	tests := []struct {
		name    string
		atMax   error
		overMax error
		message string
	}{
		{
			name:    "scope count",
			atMax:   CheckSliceCount("scopes", MaxScopes, MaxScopes),
			overMax: CheckSliceCount("scopes", MaxScopes+1, MaxScopes),
			message: "too many scopes: max 10 allowed",
		},
		{
			name:    "override reason",
			atMax:   CheckStringLength("override_reason", strings.Repeat("r", MaxOverrideReasonLength), MaxOverrideReasonLength),
			overMax: CheckStringLength("override_reason", strings.Repeat("r", MaxOverrideReasonLength+1), MaxOverrideReasonLength),
			message: "override_reason exceeds max length of 500",
		},
		{
			name:    "scanned token",
			atMax:   CheckStringLength("token", strings.Repeat("z", MaxScannedTokenLength), MaxScannedTokenLength),
			overMax: CheckStringLength("token", strings.Repeat("z", MaxScannedTokenLength+1), MaxScannedTokenLength),
			message: "token exceeds max length of 4096",
		},
		{
			name:    "photo bytes",
			atMax:   CheckByteSize("photo", MaxPhotoBytes, MaxPhotoBytes),
			overMax: CheckByteSize("photo", MaxPhotoBytes+1, MaxPhotoBytes),
			message: "photo exceeds 10485760 bytes",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, tc.atMax)
			require.Error(t, tc.overMax)
			assert.True(t, dErrors.HasCode(tc.overMax, dErrors.CodeValidation))
			assert.Equal(t, tc.message, tc.overMax.Error())
		})
	}
}

func TestCheckEachStringLength(t *testing.T) {
	assert.NoError(t, CheckEachStringLength("scope", nil, MaxScopeLength))
	assert.NoError(t, CheckEachStringLength("scope", []string{"handover", "read"}, MaxScopeLength))

	err := CheckEachStringLength("scope", []string{"read", strings.Repeat("s", MaxScopeLength+1)}, MaxScopeLength)
	require.Error(t, err)
	assert.Equal(t, "scope exceeds max length of 64", err.Error())
}

func TestBodyLimitsLeaveRoomForEncodedPhoto(t *testing.T) {
	// base64 inflates by 4/3; the handover body must fit a max-size photo.
	assert.Greater(t, MaxHandoverBodySize, MaxPhotoBytes*4/3)
	assert.Less(t, MaxBodySize, MaxHandoverBodySize)
}
