package handler

import (
	"encoding/base64"

	"parcelproof/internal/events"
	"parcelproof/internal/handover/models"
)

// OutcomeResponse describes a finished attempt.
type OutcomeResponse struct {
	Kind        events.Kind         `json:"kind"`
	State       models.State        `json:"state"`
	Transitions []models.Transition `json:"transitions"`
	Record      *events.Record      `json:"record,omitempty"`
	Settlement  *events.Settlement  `json:"settlement,omitempty"`
	// Token is the base64url wire token to render as a scannable code.
	Token     string `json:"token,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// RejectionResponse is the error body of a rejected attempt. Outcome carries
// whatever was persisted before the rejection, such as an unverified record.
type RejectionResponse struct {
	Error          string           `json:"error"`
	Description    string           `json:"error_description"`
	Reason         models.Reason    `json:"reason"`
	TokenReason    string           `json:"token_reason,omitempty"`
	DistanceMeters float64          `json:"distance_m,omitempty"`
	RadiusMeters   float64          `json:"radius_m,omitempty"`
	Outcome        *OutcomeResponse `json:"outcome,omitempty"`
}

// TokenResponse is the latest published token for a package.
type TokenResponse struct {
	PackageID string `json:"package_id"`
	Token     string `json:"token"`
}

// HistoryResponse lists every record stored for a package.
type HistoryResponse struct {
	PackageID  string             `json:"package_id"`
	Records    []*events.Record   `json:"records"`
	Settlement *events.Settlement `json:"settlement,omitempty"`
}

func toOutcomeResponse(o *models.Outcome) *OutcomeResponse {
	if o == nil {
		return nil
	}
	res := &OutcomeResponse{
		Kind:        o.Kind,
		State:       o.State,
		Transitions: o.Transitions,
		Record:      o.Record,
		Settlement:  o.Settlement,
		Duplicate:   o.Duplicate,
	}
	if len(o.EncodedToken) > 0 {
		res.Token = encodeToken(o.EncodedToken)
	}
	return res
}

func toHistoryResponse(h *models.History) *HistoryResponse {
	records := h.Records
	if records == nil {
		records = []*events.Record{}
	}
	return &HistoryResponse{
		PackageID:  string(h.PackageID),
		Records:    records,
		Settlement: h.Settlement,
	}
}

func encodeToken(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
