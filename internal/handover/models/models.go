// Package models holds the handover state machine vocabulary: states,
// rejection reasons, attempt options and outcomes.
package models

import (
	"errors"
	"fmt"
	"time"

	"parcelproof/internal/events"
	"parcelproof/internal/handover/ports"
	"parcelproof/internal/token"
	id "parcelproof/pkg/domain"
	dErrors "parcelproof/pkg/domain-errors"
)

// State is a step of one handover attempt.
type State string

const (
	StateIdle             State = "idle"
	StateLocationAcquired State = "location_acquired"
	StateEvidenceCaptured State = "evidence_captured"
	StateTokenResolved    State = "token_resolved"
	StateSigned           State = "signed"
	StatePersisted        State = "persisted"
	StateSettled          State = "settled"
	StateRejected         State = "rejected"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateRejected
}

// Transition is one recorded step change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Reason tags a rejected attempt.
type Reason string

const (
	ReasonNoLocation           Reason = "no_location"
	ReasonNoEvidence           Reason = "no_evidence"
	ReasonInvalidToken         Reason = "invalid_token"
	ReasonSignatureUnavailable Reason = "signature_unavailable"
	ReasonGeofenceFailed       Reason = "geofence_failed"
	ReasonAlreadySettled       Reason = "already_settled"
	ReasonStoreConflict        Reason = "store_conflict"
	ReasonStoreUnavailable     Reason = "store_unavailable"
)

var reasonMessages = map[Reason]string{
	ReasonNoLocation:           "Your location could not be determined. Check location permissions and try again.",
	ReasonNoEvidence:           "A photo of the package is required. Take the photo and try again.",
	ReasonInvalidToken:         "The package token was not accepted.",
	ReasonSignatureUnavailable: "Your signing key is unavailable. Unlock your identity and start again.",
	ReasonGeofenceFailed:       "You are too far from the expected location. Move closer and try again.",
	ReasonAlreadySettled:       "This package has already been delivered and settled.",
	ReasonStoreConflict:        "This attempt conflicts with an existing record. Refresh and try again.",
	ReasonStoreUnavailable:     "The record could not be saved right now. Try again shortly.",
}

var reasonCodes = map[Reason]dErrors.Code{
	ReasonNoLocation:           dErrors.CodeRejected,
	ReasonNoEvidence:           dErrors.CodeRejected,
	ReasonInvalidToken:         dErrors.CodeInvalidToken,
	ReasonSignatureUnavailable: dErrors.CodeKeyUnavailable,
	ReasonGeofenceFailed:       dErrors.CodeRejected,
	ReasonAlreadySettled:       dErrors.CodeRejected,
	ReasonStoreConflict:        dErrors.CodeConflict,
	ReasonStoreUnavailable:     dErrors.CodeUnavailable,
}

// Code maps the reason onto the domain error taxonomy used for transport.
func (r Reason) Code() dErrors.Code {
	if c, ok := reasonCodes[r]; ok {
		return c
	}
	return dErrors.CodeInternal
}

// Rejection ends an attempt. It is a recorded outcome rather than a fault and
// carries enough detail for the caller to direct the user to a remedy.
type Rejection struct {
	Reason Reason
	// TokenReason is set for ReasonInvalidToken.
	TokenReason token.Reason
	// DistanceMeters and RadiusMeters are set for ReasonGeofenceFailed.
	DistanceMeters float64
	RadiusMeters   float64
	Err            error
}

// Reject builds a rejection for reason wrapping the underlying cause.
func Reject(reason Reason, err error) *Rejection {
	return &Rejection{Reason: reason, Err: err}
}

// RejectToken builds an InvalidToken rejection.
func RejectToken(reason token.Reason, err error) *Rejection {
	return &Rejection{Reason: ReasonInvalidToken, TokenReason: reason, Err: err}
}

// RejectGeofence builds a GeofenceFailed rejection.
func RejectGeofence(distance, radius float64) *Rejection {
	return &Rejection{Reason: ReasonGeofenceFailed, DistanceMeters: distance, RadiusMeters: radius}
}

// Message is the human-readable remedy.
func (r *Rejection) Message() string {
	switch r.Reason {
	case ReasonInvalidToken:
		return r.TokenReason.Message()
	case ReasonGeofenceFailed:
		return fmt.Sprintf("You are %.0f m from the expected location (limit %.0f m). Move closer and try again.",
			r.DistanceMeters, r.RadiusMeters)
	}
	if m, ok := reasonMessages[r.Reason]; ok {
		return m
	}
	return "The handover was rejected."
}

func (r *Rejection) Error() string {
	msg := "handover rejected: " + string(r.Reason)
	if r.TokenReason != "" {
		msg += "(" + string(r.TokenReason) + ")"
	}
	if r.Err != nil {
		msg += ": " + r.Err.Error()
	}
	return msg
}

// Unwrap exposes both the domain error code and the cause.
func (r *Rejection) Unwrap() []error {
	domain := &dErrors.Error{Code: r.Reason.Code(), Message: r.Message()}
	if r.Err == nil {
		return []error{domain}
	}
	return []error{domain, r.Err}
}

// AsRejection extracts a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Override lets the actor proceed outside the geofence. It is recorded on the
// signed record, audited, and clears the settlement's auto-verified flag.
type Override struct {
	Reason string
}

// Step names reported through Progress.
const (
	StepLocation = "location"
	StepUpload   = "upload"
)

// Progress is delivered when a step is still waiting past the configured threshold.
type Progress struct {
	Step    string
	Elapsed time.Duration
}

// Options tune one attempt.
type Options struct {
	Override *Override
	// Condition applies to deliveries; empty means intact.
	Condition events.Condition
	// OnProgress is called on the attempt's goroutine while a step waits.
	OnProgress func(Progress)
}

// Actor is the user performing the attempt together with their device
// collaborators.
type Actor struct {
	UserID   id.UserID
	Location ports.LocationProvider
	Camera   ports.Camera
}

// Outcome describes a finished attempt. On rejection it is returned alongside
// the *Rejection and still carries whatever was persisted.
type Outcome struct {
	Kind        events.Kind
	State       State
	Transitions []Transition
	Record      *events.Record
	Settlement  *events.Settlement
	// Token and EncodedToken are set on a verified pickup.
	Token        *token.Token
	EncodedToken []byte
	Rejection    *Rejection
	// Duplicate is set when the record had already been stored by an
	// identical earlier attempt.
	Duplicate bool
}

// History is everything stored for a package.
type History struct {
	PackageID  id.PackageID
	Records    []*events.Record
	Settlement *events.Settlement
}
