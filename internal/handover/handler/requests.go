package handler

import (
	"encoding/base64"
	"strings"

	"parcelproof/internal/events"
	"parcelproof/internal/geofence"
	"parcelproof/internal/handover/models"
	"parcelproof/internal/handover/ports"
	"parcelproof/internal/parcel"
	id "parcelproof/pkg/domain"
	dErrors "parcelproof/pkg/domain-errors"
	strs "parcelproof/pkg/platform/strings"
	"parcelproof/pkg/platform/validation"
	structvalidation "parcelproof/pkg/validation"
)

// CoordinateRequest is a WGS-84 position in decimal degrees.
type CoordinateRequest struct {
	Latitude  float64 `json:"lat" validate:"latitude"`
	Longitude float64 `json:"lon" validate:"longitude"`
}

func (c CoordinateRequest) toDomain() geofence.Coordinate {
	return geofence.Coordinate{Latitude: c.Latitude, Longitude: c.Longitude}
}

// PackageRequest is the package descriptor supplied by the calling application.
type PackageRequest struct {
	ID               string            `json:"id" validate:"required,notblank,max=128"`
	Sender           string            `json:"sender" validate:"required,didkey"`
	Custodian        string            `json:"custodian" validate:"required,didkey"`
	Destination      string            `json:"destination" validate:"required,notblank,max=256"`
	DeclaredValue    int64             `json:"declared_value" validate:"gte=0"`
	PickupLocation   CoordinateRequest `json:"pickup_location"`
	DeliveryLocation CoordinateRequest `json:"delivery_location"`
}

// FixRequest is the device position observed for this attempt. A missing fix
// means the device could not determine its location.
type FixRequest struct {
	Coordinate     CoordinateRequest `json:"coordinate"`
	AccuracyMeters float64           `json:"accuracy_m" validate:"gte=0"`
}

// PhotoRequest carries the evidence photo. An empty photo means the user
// backed out of capture.
type PhotoRequest struct {
	Data        string `json:"data" validate:"omitempty,base64"`
	ContentType string `json:"content_type" validate:"omitempty,oneof=image/jpeg image/png image/heic image/webp"`
}

// OverrideRequest asks to proceed outside the geofence.
type OverrideRequest struct {
	Reason string `json:"reason" validate:"required,notblank"`
}

// HandoverRequest is shared by pickup and delivery.
type HandoverRequest struct {
	Package  PackageRequest   `json:"package"`
	Fix      *FixRequest      `json:"fix"`
	Photo    *PhotoRequest    `json:"photo"`
	Override *OverrideRequest `json:"override"`

	// photo holds the decoded bytes after Validate.
	photo []byte
}

// Normalize trims identifiers and free text.
func (r *HandoverRequest) Normalize() {
	if r == nil {
		return
	}
	strs.TrimStrings(&r.Package.ID, &r.Package.Sender, &r.Package.Custodian, &r.Package.Destination)
	if r.Override != nil {
		strs.TrimStrings(&r.Override.Reason)
	}
}

// Validate checks that the request is well-formed and decodes the photo.
func (r *HandoverRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := structvalidation.Validate(r); err != nil {
		return err
	}
	if r.Override != nil {
		if err := validation.CheckStringLength("override.reason", r.Override.Reason, validation.MaxOverrideReasonLength); err != nil {
			return err
		}
	}
	if r.Photo != nil && r.Photo.Data != "" {
		photo, err := base64.StdEncoding.DecodeString(r.Photo.Data)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "photo.data must be standard base64")
		}
		if err := validation.CheckByteSize("photo.data", len(photo), validation.MaxPhotoBytes); err != nil {
			return err
		}
		r.photo = photo
	}
	return nil
}

func (r *HandoverRequest) descriptor() *parcel.Descriptor {
	return &parcel.Descriptor{
		ID:               id.PackageID(r.Package.ID),
		Sender:           id.DID(r.Package.Sender),
		Custodian:        id.DID(r.Package.Custodian),
		Destination:      r.Package.Destination,
		DeclaredValue:    r.Package.DeclaredValue,
		PickupLocation:   r.Package.PickupLocation.toDomain(),
		DeliveryLocation: r.Package.DeliveryLocation.toDomain(),
	}
}

func (r *HandoverRequest) actor(userID id.UserID) models.Actor {
	var fix *ports.Fix
	if r.Fix != nil {
		fix = &ports.Fix{Coordinate: r.Fix.Coordinate.toDomain(), AccuracyMeters: r.Fix.AccuracyMeters}
	}
	var contentType string
	if r.Photo != nil {
		contentType = r.Photo.ContentType
	}
	return models.Actor{
		UserID:   userID,
		Location: reportedLocation{fix: fix},
		Camera:   submittedPhoto{photo: ports.Photo{Bytes: r.photo, ContentType: contentType}},
	}
}

func (r *HandoverRequest) options() models.Options {
	var opts models.Options
	if r.Override != nil {
		opts.Override = &models.Override{Reason: r.Override.Reason}
	}
	return opts
}

// PickupRequest records the sender handing the package to the custodian.
type PickupRequest struct {
	HandoverRequest
}

// DeliveryRequest records the custodian handing the package to the recipient.
type DeliveryRequest struct {
	HandoverRequest
	// ScannedToken is the base64url wire token read from the recipient's code.
	ScannedToken string           `json:"scanned_token"`
	Condition    events.Condition `json:"condition"`
}

// Validate checks the shared handover fields, the scanned token length and the condition.
func (r *DeliveryRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validation.CheckStringLength("scanned_token", r.ScannedToken, validation.MaxScannedTokenLength); err != nil {
		return err
	}
	if !r.Condition.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "condition must be one of [intact damaged]")
	}
	return r.HandoverRequest.Validate()
}

// Normalize trims the scanned token alongside the shared fields.
func (r *DeliveryRequest) Normalize() {
	if r == nil {
		return
	}
	r.ScannedToken = strings.TrimSpace(r.ScannedToken)
	r.HandoverRequest.Normalize()
}

// scanned decodes the token text. Text that is not base64url reaches the
// token step unchanged and is refused there as malformed.
func (r *DeliveryRequest) scanned() []byte {
	if r.ScannedToken == "" {
		return nil
	}
	if raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(r.ScannedToken, "=")); err == nil {
		return raw
	}
	return []byte(r.ScannedToken)
}

func (r *DeliveryRequest) options() models.Options {
	opts := r.HandoverRequest.options()
	opts.Condition = r.Condition
	return opts
}
