package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "parcelproof/pkg/domain-errors"
)

type point struct {
	Latitude  float64 `json:"lat" validate:"latitude"`
	Longitude float64 `json:"lon" validate:"longitude"`
}

type sample struct {
	PackageID string  `json:"package_id" validate:"required,max=64"`
	Sender    string  `json:"sender" validate:"required,didkey"`
	Photo     string  `json:"photo" validate:"required,base64"`
	Condition string  `json:"condition" validate:"omitempty,oneof=intact damaged"`
	Reason    string  `json:"reason" validate:"omitempty,notblank"`
	Location  point   `json:"location"`
	Accuracy  float64 `json:"accuracy_m" validate:"gte=0"`
}

func valid() sample {
	return sample{
		PackageID: "PKG-1",
		Sender:    "did:key:z6Mk",
		Photo:     "aGVsbG8=",
		Location:  point{Latitude: 52.5, Longitude: 13.4},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(valid()))

	cases := []struct {
		name    string
		mutate  func(*sample)
		message string
	}{
		{"missing field uses json name", func(s *sample) { s.PackageID = "" }, "package_id is required"},
		{"did key", func(s *sample) { s.Sender = "did:web:example.com" }, "sender must be a did:key identifier"},
		{"base64", func(s *sample) { s.Photo = "not base64!" }, "photo must be standard base64"},
		{"oneof", func(s *sample) { s.Condition = "lost" }, "condition must be one of [intact damaged]"},
		{"blank", func(s *sample) { s.Reason = "   " }, "reason must not be blank"},
		{"nested latitude", func(s *sample) { s.Location.Latitude = 91 }, "location.lat must be a latitude between -90 and 90"},
		{"nested longitude", func(s *sample) { s.Location.Longitude = -181 }, "location.lon must be a longitude between -180 and 180"},
		{"gte", func(s *sample) { s.Accuracy = -1 }, "accuracy_m must be at least 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(&req)
			err := Validate(req)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Equal(t, tc.message, err.Error())
		})
	}
}
