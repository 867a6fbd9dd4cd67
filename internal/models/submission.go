package models

import (
	"encoding/json"
	"strings"
	"time"
)

// FormCode identifies a submission family on the HR backend.
type FormCode string

const (
	FormMRF        FormCode = "mrf"
	FormDataChange FormCode = "data-change"
	FormMDA        FormCode = "mda"
)

// FormCodes lists every supported form family.
var FormCodes = []FormCode{FormMRF, FormDataChange, FormMDA}

// ParseFormCode normalises route values such as "MDA" or "data_change".
func ParseFormCode(raw string) (FormCode, bool) {
	code := FormCode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-"))
	for _, known := range FormCodes {
		if code == known {
			return code, true
		}
	}
	return "", false
}

// Label is the human name used in prompts and export titles.
func (f FormCode) Label() string {
	switch f {
	case FormMRF:
		return "Manpower Requisition Form"
	case FormDataChange:
		return "201 Data Change"
	case FormMDA:
		return "Master Data Authority"
	default:
		return string(f)
	}
}

// ApprovalStatus is the workflow stage string owned by the backend.
type ApprovalStatus string

const (
	StatusPending              ApprovalStatus = "PENDING"
	StatusApproved             ApprovalStatus = "APPROVED"
	StatusRejected             ApprovalStatus = "REJECTED"
	StatusReturned             ApprovalStatus = "RETURNED"
	StatusAwaitingResubmission ApprovalStatus = "AWAITING_RESUBMISSION"
	StatusCancelled            ApprovalStatus = "CANCELLED"
	StatusCompleted            ApprovalStatus = "COMPLETED"
	StatusInProgress           ApprovalStatus = "IN_PROGRESS"
	StatusPendingMDACreation   ApprovalStatus = "PENDING MDA CREATION"
)

// NormalizeStatus upper-cases and collapses the spellings the backend uses
// interchangeably ("Awaiting Resubmission", "awaiting-resubmission").
func NormalizeStatus(raw string) ApprovalStatus {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "PENDING MDA CREATION" || s == "PENDING_MDA_CREATION" {
		return StatusPendingMDACreation
	}
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return ApprovalStatus(s)
}

// RecordStatus is the record lifecycle flag (active/inactive), distinct from
// the approval status.
type RecordStatus string

const (
	RecordActive   RecordStatus = "active"
	RecordInactive RecordStatus = "inactive"
)

// ID accepts both numeric and string identifiers from the backend.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// FormRef names the form a submission belongs to.
type FormRef struct {
	ID   ID     `json:"id,omitempty"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// SubmissionActions are the permission flags computed by the backend.
type SubmissionActions struct {
	CanEdit     bool `json:"can_edit"`
	CanCancel   bool `json:"can_cancel"`
	CanResubmit bool `json:"can_resubmit"`
	CanStart    bool `json:"can_start"`
	CanComplete bool `json:"can_complete"`
	CanApprove  bool `json:"can_approve"`
	CanReject   bool `json:"can_reject"`
}

// Actor is the person behind an activity log entry.
type Actor struct {
	FullName string `json:"full_name"`
	Title    string `json:"title,omitempty"`
}

// ActivityLogEntry is one step of a submission's history.
type ActivityLogEntry struct {
	EventType   string     `json:"event_type"`
	Status      string     `json:"status"`
	Action      string     `json:"action,omitempty"`
	Description string     `json:"description,omitempty"`
	Details     string     `json:"details,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Actor       *Actor     `json:"actor,omitempty"`
}

// FormSubmission wraps every form type; Submittable holds the form-specific
// payload and is decoded on demand.
type FormSubmission struct {
	ID              ID                 `json:"id"`
	ReferenceNumber string             `json:"reference_number"`
	Status          string             `json:"status"`
	ApprovalStatus  string             `json:"approval_status"`
	Form            *FormRef           `json:"form,omitempty"`
	Submittable     json.RawMessage    `json:"submittable,omitempty"`
	EmployeeName    *string            `json:"employee_name"`
	EmployeeCode    *string            `json:"employee_code"`
	CreatedAt       *time.Time         `json:"created_at,omitempty"`
	UpdatedAt       *time.Time         `json:"updated_at,omitempty"`
	Actions         *SubmissionActions `json:"actions,omitempty"`
	ActivityLog     []ActivityLogEntry `json:"activity_log,omitempty"`
}

// EffectiveStatus prefers the approval status and falls back to status,
// matching how the tables label rows.
func (s FormSubmission) EffectiveStatus() ApprovalStatus {
	if strings.TrimSpace(s.ApprovalStatus) != "" {
		return NormalizeStatus(s.ApprovalStatus)
	}
	return NormalizeStatus(s.Status)
}

// Reference returns the reference number or the id when none was assigned.
func (s FormSubmission) Reference() string {
	if s.ReferenceNumber != "" {
		return s.ReferenceNumber
	}
	return "#" + s.ID.String()
}

// Employee returns name and code with nil treated as empty.
func (s FormSubmission) Employee() (name, code string) {
	if s.EmployeeName != nil {
		name = *s.EmployeeName
	}
	if s.EmployeeCode != nil {
		code = *s.EmployeeCode
	}
	return name, code
}

// DecodeSubmittable unmarshals the payload into dest.
func (s FormSubmission) DecodeSubmittable(dest interface{}) error {
	if len(s.Submittable) == 0 || string(s.Submittable) == "null" {
		return nil
	}
	return json.Unmarshal(s.Submittable, dest)
}

// SubmittableValues decodes the payload into a generic field map used by
// form sessions.
func (s FormSubmission) SubmittableValues() (map[string]interface{}, error) {
	values := map[string]interface{}{}
	if err := s.DecodeSubmittable(&values); err != nil {
		return nil, err
	}
	return values, nil
}
