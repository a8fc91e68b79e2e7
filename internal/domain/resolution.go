package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Evidence
// ──────────────────────────────────────────────────────────────────────────────

// Evidence descriptor limits. Evidence bytes live outside the engine; only
// descriptors are stored.
const (
	// MinEvidenceDescription is the shortest description that can stand alone
	// (without a URL) as a usable evidence item.
	MinEvidenceDescription = 10

	// MaxEvidenceDescription caps a single description, in bytes.
	MaxEvidenceDescription = 10000
)

// Evidence is one piece of supporting material for a resolution decision.
type Evidence struct {
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// EvidenceList is the evidence set, stored as a JSONB column.
type EvidenceList []Evidence

// Value implements driver.Valuer for JSONB storage.
func (e EvidenceList) Value() (driver.Value, error) {
	return json.Marshal(e)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (e *EvidenceList) Scan(src any) error {
	if src == nil {
		*e = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("evidence list: unsupported scan type %T", src)
	}
	return json.Unmarshal(b, e)
}

// ValidateEvidence enforces the evidence bar for a resolution:
//
//   - at least one item;
//   - every non-empty URL must parse as http(s) with a host;
//   - no description may exceed MaxEvidenceDescription bytes;
//   - at least one item must be usable on its own: a valid URL, or a
//     description of MinEvidenceDescription characters or more.
//
// Items that fall short without sinking the set (short stand-alone
// descriptions, oversized item counts) come back as warnings.
func ValidateEvidence(items EvidenceList) ([]string, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no evidence items", ErrInsufficientEvidence)
	}

	var warnings []string
	usable := 0

	for i, item := range items {
		if len(item.Description) > MaxEvidenceDescription {
			return nil, fmt.Errorf("%w: evidence item %d description exceeds %d bytes",
				ErrInvalidInput, i, MaxEvidenceDescription)
		}

		hasURL := false
		if item.URL != "" {
			u, err := url.Parse(item.URL)
			if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
				return nil, fmt.Errorf("%w: evidence item %d has unparseable url %q",
					ErrInsufficientEvidence, i, item.URL)
			}
			hasURL = true
		}

		switch {
		case hasURL:
			usable++
		case len(item.Description) >= MinEvidenceDescription:
			usable++
		case item.Description == "":
			warnings = append(warnings, fmt.Sprintf("evidence item %d is empty", i))
		default:
			warnings = append(warnings, fmt.Sprintf("evidence item %d: description too short to stand alone", i))
		}
	}

	if usable == 0 {
		return warnings, fmt.Errorf("%w: no item carries a url or a usable description", ErrInsufficientEvidence)
	}
	if len(items) > 20 {
		warnings = append(warnings, fmt.Sprintf("unusually large evidence set (%d items)", len(items)))
	}
	return warnings, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketResolution
// ──────────────────────────────────────────────────────────────────────────────

// ResolutionStatus tracks whether a resolution decision still stands.
type ResolutionStatus string

const (
	ResolutionActive     ResolutionStatus = "active"
	ResolutionRolledBack ResolutionStatus = "rolled_back"
)

// MarketResolution is an operator's recorded decision for a market. Rolled
// back resolutions are kept; a re-resolution writes a new row.
type MarketResolution struct {
	ID              string           `json:"id"                db:"id"`
	MarketID        string           `json:"market_id"         db:"market_id"`
	WinningOptionID string           `json:"winning_option_id" db:"winning_option_id"`
	ResolvedBy      string           `json:"resolved_by"       db:"resolved_by"`
	Evidence        EvidenceList     `json:"evidence"          db:"evidence"`
	TotalPool       int64            `json:"total_pool"        db:"total_pool"`
	HouseFee        int64            `json:"house_fee"         db:"house_fee"`
	CreatorFee      int64            `json:"creator_fee"       db:"creator_fee"`
	WinnerPool      int64            `json:"winner_pool"       db:"winner_pool"`
	WinnerCount     int              `json:"winner_count"      db:"winner_count"`
	NoWinners       bool             `json:"no_winners"        db:"no_winners"`
	Status          ResolutionStatus `json:"status"            db:"status"`
	OperationID     string           `json:"operation_id"      db:"operation_id"`
	Version         int64            `json:"version"           db:"version"`
	CreatedAt       time.Time        `json:"created_at"        db:"created_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ResolutionLog — append-only audit trail
// ──────────────────────────────────────────────────────────────────────────────

// ResolutionEvent names one step in a resolution or rollback lifecycle.
type ResolutionEvent string

const (
	EventStarted           ResolutionEvent = "started"
	EventEvidenceValidated ResolutionEvent = "evidence_validated"
	EventPlanComputed      ResolutionEvent = "plan_computed"
	EventApplied           ResolutionEvent = "applied"
	EventCompleted         ResolutionEvent = "completed"
	EventFailed            ResolutionEvent = "failed"
	EventCancelled         ResolutionEvent = "cancelled"
	EventRollbackInitiated ResolutionEvent = "rollback_initiated"
	EventRollbackCompleted ResolutionEvent = "rollback_completed"
)

// ResolutionLog is one audit trail entry. seq is database-assigned and orders
// entries globally; operation_id groups the entries of a single engine call.
type ResolutionLog struct {
	Seq         int64           `json:"seq"          db:"seq"`
	ID          string          `json:"id"           db:"id"`
	MarketID    string          `json:"market_id"    db:"market_id"`
	OperationID string          `json:"operation_id" db:"operation_id"`
	Event       ResolutionEvent `json:"event"        db:"event"`
	Actor       string          `json:"actor"        db:"actor"`
	Detail      JSONMap         `json:"detail"       db:"detail"`
	CreatedAt   time.Time       `json:"created_at"   db:"created_at"`
}
