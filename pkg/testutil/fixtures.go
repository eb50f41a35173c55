package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"math"
	"testing"

	"github.com/google/uuid"

	"parcelproof/internal/geofence"
	"parcelproof/internal/parcel"
	"parcelproof/internal/signing"
	id "parcelproof/pkg/domain"
)

// TestIDs provides fixed user IDs for deterministic test data.
var TestIDs = struct {
	Sender    id.UserID
	Custodian id.UserID
	Stranger  id.UserID
}{
	Sender:    id.UserID(uuid.MustParse("11111111-1111-1111-1111-111111111111")),
	Custodian: id.UserID(uuid.MustParse("22222222-2222-2222-2222-222222222222")),
	Stranger:  id.UserID(uuid.MustParse("33333333-3333-3333-3333-333333333333")),
}

// Well-known coordinates used across tests.
var (
	Alexanderplatz = geofence.Coordinate{Latitude: 52.521918, Longitude: 13.413215}
	Tiergarten     = geofence.Coordinate{Latitude: 52.514488, Longitude: 13.350110}
)

// Party is a test participant with a real Ed25519 key.
type Party struct {
	Signer  *signing.KeySigner
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func (p *Party) DID() id.DID { return p.Signer.DID() }

// NewParty generates a fresh keypair.
func NewParty(t testing.TB) *Party {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := signing.NewKeySigner(priv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return &Party{Signer: signer, Public: pub, Private: priv}
}

// NorthOf returns the coordinate meters due north of c.
func NorthOf(c geofence.Coordinate, meters float64) geofence.Coordinate {
	return geofence.Coordinate{
		Latitude:  c.Latitude + meters/geofence.EarthRadiusMeters*180/math.Pi,
		Longitude: c.Longitude,
	}
}

// PackageBuilder provides a fluent interface for building package descriptors.
type PackageBuilder struct {
	pkg parcel.Descriptor
}

// NewPackage starts a descriptor picked up at Tiergarten and delivered to
// Alexanderplatz.
func NewPackage(sender, custodian id.DID) *PackageBuilder {
	return &PackageBuilder{pkg: parcel.Descriptor{
		ID:               id.PackageID("PKG-" + uuid.NewString()[:8]),
		Sender:           sender,
		Custodian:        custodian,
		Destination:      "Alexanderplatz 1, 10178 Berlin",
		DeclaredValue:    4999,
		PickupLocation:   Tiergarten,
		DeliveryLocation: Alexanderplatz,
	}}
}

func (b *PackageBuilder) WithID(pkgID id.PackageID) *PackageBuilder {
	b.pkg.ID = pkgID
	return b
}

func (b *PackageBuilder) WithValue(minorUnits int64) *PackageBuilder {
	b.pkg.DeclaredValue = minorUnits
	return b
}

func (b *PackageBuilder) WithDestination(label string) *PackageBuilder {
	b.pkg.Destination = label
	return b
}

func (b *PackageBuilder) Build() *parcel.Descriptor {
	pkg := b.pkg
	return &pkg
}
