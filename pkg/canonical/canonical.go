// Package canonical produces the deterministic bytes behind every signature
// the engine makes.
//
// An encoding is a two-element CBOR array: a domain-separation label, then
// the payload as a map keyed by small integers (`cbor:"N,keyasint"` struct
// tags). Core deterministic encoding (RFC 8949 §4.2.1) sorts the keys and
// uses the shortest form of every head and float, so equal values always
// encode to identical bytes.
//
// Decoding is strict. Duplicate keys, unknown keys, indefinite lengths,
// invalid UTF-8 and trailing bytes are refused. Any input that does not
// re-encode to itself is also refused, which rules out unsorted keys and
// non-shortest numbers.
package canonical

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformed is returned (wrapped) for any input that is not a canonical encoding.
var ErrMalformed = errors.New("malformed canonical encoding")

const maxPairs = 64

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.NaNConvert = cbor.NaNConvertReject
	opts.InfConvert = cbor.InfConvertReject
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("canonical: encoder options: %v", err))
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		UTF8:              cbor.UTF8RejectInvalid,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		MaxNestedLevels:   4,
		MaxMapPairs:       maxPairs,
		MaxArrayElements:  maxPairs,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("canonical: decoder options: %v", err))
	}
	return dm
}

type envelope struct {
	_     struct{} `cbor:",toarray"`
	Label string
	Body  cbor.RawMessage
}

// Marshal encodes v under label. v is a struct whose fields carry keyasint
// tags; NaN and infinities are refused.
func Marshal(label string, v any) ([]byte, error) {
	body, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: encode %s: %w", label, err)
	}
	out, err := encMode.Marshal(envelope{Label: label, Body: body})
	if err != nil {
		return nil, fmt.Errorf("canonical: encode %s: %w", label, err)
	}
	// The encoder does not check strings; the decoder would refuse them later.
	if err := decMode.Wellformed(out); err != nil {
		return nil, fmt.Errorf("canonical: encode %s: %w", label, err)
	}
	return out, nil
}

// Unmarshal decodes data into v, which must point at the same struct type
// that Marshal was given.
func Unmarshal(label string, data []byte, v any) error {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.Label != label {
		return fmt.Errorf("%w: unexpected label %q", ErrMalformed, env.Label)
	}
	if err := decMode.Unmarshal(env.Body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	again, err := Marshal(label, v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if !bytes.Equal(again, data) {
		return fmt.Errorf("%w: not in canonical form", ErrMalformed)
	}
	return nil
}

// Float folds negative zero into zero so that values comparing equal also
// encode equally.
func Float(v float64) float64 {
	if v == 0 {
		return 0
	}
	return v
}
