package service

import (
	"strings"

	"github.com/noah-isme/movement-gateway/internal/models"
)

// Action names a user-triggerable operation on a submission.
type Action string

const (
	ActionView      Action = "view"
	ActionEdit      Action = "edit"
	ActionCancel    Action = "cancel"
	ActionResubmit  Action = "resubmit"
	ActionStart     Action = "start"
	ActionComplete  Action = "complete"
	ActionApprove   Action = "approve"
	ActionReject    Action = "reject"
	ActionPrint     Action = "print"
	ActionCreateMDA Action = "create-mda"
)

// ParseAction validates a route segment.
func ParseAction(raw string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case ActionView, ActionEdit, ActionCancel, ActionResubmit, ActionStart, ActionComplete,
		ActionApprove, ActionReject, ActionPrint, ActionCreateMDA:
		return a, true
	default:
		return "", false
	}
}

// Permission sources.
const (
	PermissionSourceServer = "server"
	PermissionSourceStatus = "status"
)

// PermissionSet is what a caller may do with one submission.
type PermissionSet struct {
	CanEdit     bool   `json:"can_edit"`
	CanCancel   bool   `json:"can_cancel"`
	CanResubmit bool   `json:"can_resubmit"`
	CanStart    bool   `json:"can_start"`
	CanComplete bool   `json:"can_complete"`
	CanApprove  bool   `json:"can_approve"`
	CanReject   bool   `json:"can_reject"`
	Source      string `json:"source"`
}

// Allows reports whether the action is permitted. View and print are always
// allowed.
func (p PermissionSet) Allows(a Action) bool {
	switch a {
	case ActionView, ActionPrint:
		return true
	case ActionEdit:
		return p.CanEdit
	case ActionCancel:
		return p.CanCancel
	case ActionResubmit:
		return p.CanResubmit
	case ActionStart:
		return p.CanStart
	case ActionComplete:
		return p.CanComplete
	case ActionApprove:
		return p.CanApprove
	case ActionReject:
		return p.CanReject
	default:
		return false
	}
}

// statusPermissions is the one fallback table used when the backend did not
// send actions.
var statusPermissions = map[models.ApprovalStatus]PermissionSet{
	models.StatusPending:              {CanEdit: true, CanCancel: true, CanApprove: true, CanReject: true},
	models.StatusReturned:             {CanEdit: true, CanResubmit: true, CanCancel: true},
	models.StatusAwaitingResubmission: {CanEdit: true, CanResubmit: true, CanCancel: true},
	models.StatusRejected:             {CanResubmit: true},
	models.StatusApproved:             {CanStart: true},
	models.StatusInProgress:           {CanComplete: true},
}

// Permissions derives the permission set of a submission. Backend-supplied
// actions always win over the status table.
func Permissions(s models.FormSubmission) PermissionSet {
	if a := s.Actions; a != nil {
		return PermissionSet{
			CanEdit:     a.CanEdit,
			CanCancel:   a.CanCancel,
			CanResubmit: a.CanResubmit,
			CanStart:    a.CanStart,
			CanComplete: a.CanComplete,
			CanApprove:  a.CanApprove,
			CanReject:   a.CanReject,
			Source:      PermissionSourceServer,
		}
	}
	p := statusPermissions[s.EffectiveStatus()]
	p.Source = PermissionSourceStatus
	return p
}

// StatusChip is the colour-coded label shown for a status.
type StatusChip struct {
	Label   string `json:"label"`
	Color   string `json:"color"`
	BgColor string `json:"bg_color"`
}

type chipColors struct{ color, bg string }

var statusChipColors = map[models.ApprovalStatus]chipColors{
	models.StatusPending:              {"#B54708", "#FFFAEB"},
	models.StatusApproved:             {"#027A48", "#ECFDF3"},
	models.StatusRejected:             {"#B42318", "#FEF3F2"},
	models.StatusReturned:             {"#C4320A", "#FFF6ED"},
	models.StatusAwaitingResubmission: {"#6941C6", "#F4F3FF"},
	models.StatusCancelled:            {"#344054", "#F2F4F7"},
	models.StatusCompleted:            {"#026AA2", "#F0F9FF"},
	models.StatusInProgress:           {"#175CD3", "#EFF8FF"},
	models.StatusPendingMDACreation:   {"#C11574", "#FDF2FA"},
}

var defaultChip = chipColors{"#344054", "#F2F4F7"}

// ChipFor builds the chip for a raw status string.
func ChipFor(raw string) StatusChip {
	status := models.NormalizeStatus(raw)
	colors, ok := statusChipColors[status]
	if !ok {
		colors = defaultChip
	}
	return StatusChip{Label: statusLabel(status), Color: colors.color, BgColor: colors.bg}
}

// statusLabel turns AWAITING_RESUBMISSION into "Awaiting Resubmission".
func statusLabel(status models.ApprovalStatus) string {
	if status == "" {
		return "Unknown"
	}
	words := strings.FieldsFunc(string(status), func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		w = strings.ToLower(w)
		if w == "mda" {
			words[i] = "MDA"
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
