package audit

import "time"

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	UserID    string
	Subject   string // DID of the acting identity, when known
	Action    string
	PackageID string
	Decision  string
	Reason    string
	Device    string
	RequestID string
}

type AuditEvent string

const (
	EventIdentityCreated    AuditEvent = "identity_created"
	EventIdentityDeleted    AuditEvent = "identity_deleted"
	EventKeyStorageDegraded AuditEvent = "key_storage_degraded"
	EventTokenMinted        AuditEvent = "package_token_minted"
	EventHandoverRecorded   AuditEvent = "handover_recorded"
	EventHandoverRejected   AuditEvent = "handover_rejected"
	EventProximityOverride  AuditEvent = "proximity_override"
	EventSettlementEmitted  AuditEvent = "settlement_emitted"
)

const (
	DecisionGranted = "granted"
	DecisionDenied  = "denied"
)
