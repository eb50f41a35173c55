package token

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"parcelproof/internal/geofence"
	"parcelproof/pkg/canonical"
	id "parcelproof/pkg/domain"
)

// Wire layout of an encoded token:
//
//	"PPT" | version(1) | uvarint(len payload) | payload | uvarint(len sig) | sig | crc32c(4, big endian)
//
// payload is the canonical signing payload. The CRC covers every preceding
// byte, so transport corruption is reported as a malformed encoding before any
// signature work; a forger who recomputes the CRC still fails the signature.
const (
	wireVersion  byte = 0x02
	payloadLabel      = "parcelproof.package-token.v2"
	maxWireSize       = 4096
)

var (
	wireMagic = []byte("PPT")
	crcTable  = crc32.MakeTable(crc32.Castagnoli)

	// ErrMalformed wraps every decoding failure.
	ErrMalformed = errors.New("malformed package token")
)

type tokenPayload struct {
	PackageID     string  `cbor:"1,keyasint"`
	Sender        string  `cbor:"2,keyasint"`
	Custodian     string  `cbor:"3,keyasint"`
	Destination   string  `cbor:"4,keyasint"`
	DeclaredValue int64   `cbor:"5,keyasint"`
	CreatedAt     int64   `cbor:"6,keyasint"`
	ExpiresAt     int64   `cbor:"7,keyasint"`
	DeliveryLat   float64 `cbor:"8,keyasint"`
	DeliveryLon   float64 `cbor:"9,keyasint"`
}

// SigningPayload is the exact byte string the sender signs.
func SigningPayload(t *Token) ([]byte, error) {
	return canonical.Marshal(payloadLabel, tokenPayload{
		PackageID:     string(t.PackageID),
		Sender:        string(t.Sender),
		Custodian:     string(t.Custodian),
		Destination:   t.Destination,
		DeclaredValue: t.DeclaredValue,
		CreatedAt:     t.CreatedAt.Unix(),
		ExpiresAt:     t.ExpiresAt.Unix(),
		DeliveryLat:   canonical.Float(t.DeliveryLocation.Latitude),
		DeliveryLon:   canonical.Float(t.DeliveryLocation.Longitude),
	})
}

// Encode produces the versioned wire form used for QR codes and transfer.
func Encode(t *Token) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("token is required")
	}
	if len(t.Signature) != ed25519.SignatureSize {
		return nil, fmt.Errorf("token is unsigned")
	}
	payload, err := SigningPayload(t)
	if err != nil {
		return nil, fmt.Errorf("encode token payload: %w", err)
	}
	buf := make([]byte, 0, len(wireMagic)+1+2*binary.MaxVarintLen64+len(payload)+len(t.Signature)+crc32.Size)
	buf = append(buf, wireMagic...)
	buf = append(buf, wireVersion)
	buf = binary.AppendUvarint(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	buf = binary.AppendUvarint(buf, uint64(len(t.Signature)))
	buf = append(buf, t.Signature...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.Checksum(buf, crcTable))
	return buf, nil
}

// Decode parses the wire form. It checks structure only: no expiry or
// signature checks happen here.
func Decode(raw []byte) (*Token, error) {
	if len(raw) > maxWireSize {
		return nil, fmt.Errorf("%w: too large", ErrMalformed)
	}
	if len(raw) < len(wireMagic)+1+crc32.Size {
		return nil, fmt.Errorf("%w: too short", ErrMalformed)
	}
	body, trailer := raw[:len(raw)-crc32.Size], raw[len(raw)-crc32.Size:]
	if crc32.Checksum(body, crcTable) != binary.BigEndian.Uint32(trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrMalformed)
	}
	if !bytes.HasPrefix(body, wireMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	rest := body[len(wireMagic):]
	if rest[0] != wireVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, rest[0])
	}
	rest = rest[1:]

	payload, rest, err := readChunk(rest)
	if err != nil {
		return nil, err
	}
	sig, rest, err := readChunk(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrMalformed)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: signature length %d", ErrMalformed, len(sig))
	}

	t, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	t.Signature = append([]byte(nil), sig...)
	return t, nil
}

func readChunk(b []byte) (chunk, rest []byte, err error) {
	n, size := binary.Uvarint(b)
	if size <= 0 {
		return nil, nil, fmt.Errorf("%w: bad length prefix", ErrMalformed)
	}
	if size != len(binary.AppendUvarint(nil, n)) {
		return nil, nil, fmt.Errorf("%w: non-minimal length prefix", ErrMalformed)
	}
	b = b[size:]
	if n > uint64(len(b)) {
		return nil, nil, fmt.Errorf("%w: truncated", ErrMalformed)
	}
	return b[:n], b[n:], nil
}

func decodePayload(raw []byte) (*Token, error) {
	var p tokenPayload
	if err := canonical.Unmarshal(payloadLabel, raw, &p); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	if p.PackageID == "" || p.Sender == "" || p.Custodian == "" {
		return nil, fmt.Errorf("%w: empty party or package field", ErrMalformed)
	}
	if p.ExpiresAt <= p.CreatedAt {
		return nil, fmt.Errorf("%w: expiry not after creation", ErrMalformed)
	}
	dest := geofence.Coordinate{Latitude: p.DeliveryLat, Longitude: p.DeliveryLon}
	if err := dest.Validate(); err != nil {
		return nil, fmt.Errorf("%w: delivery location: %w", ErrMalformed, err)
	}
	return &Token{
		PackageID:        id.PackageID(p.PackageID),
		Sender:           id.DID(p.Sender),
		Custodian:        id.DID(p.Custodian),
		Destination:      p.Destination,
		DeclaredValue:    p.DeclaredValue,
		DeliveryLocation: dest,
		CreatedAt:        time.Unix(p.CreatedAt, 0).UTC(),
		ExpiresAt:        time.Unix(p.ExpiresAt, 0).UTC(),
	}, nil
}
