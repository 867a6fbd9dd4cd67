package printing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/movement-gateway/internal/models"
)

// Row is one label/value line of the personal data table.
type Row struct {
	Label string
	Value string
}

// OrgRow compares one organisational attribute before and after the movement.
type OrgRow struct {
	Label string
	From  string
	To    string
}

// SignatureBlock is a signature line on the printed form.
type SignatureBlock struct {
	Role  string
	Name  string
	Title string
	Date  string
}

// Layout is the fixed paper layout of an MDA form.
type Layout struct {
	Title         string
	Reference     string
	Status        string
	EmployeeName  string
	EmployeeCode  string
	PersonalData  []Row
	ActionTypes   []models.ActionFlag
	OtherMovement string
	OrgData       []OrgRow
	EffectiveDate string
	Remarks       string
	Signatories   []SignatureBlock
	PrintedAt     string
}

var signatoryRoles = []struct{ key, label string }{
	{"prepared_by", "Prepared by"},
	{"reviewed_by", "Reviewed by"},
	{"approved_by", "Approved by"},
	{"conforme", "Conforme"},
}

// DecodeRecord reads the MDA payload of a submission. Blank salary strings
// are treated as absent.
func DecodeRecord(sub models.FormSubmission) (models.MDARecord, error) {
	var rec models.MDARecord
	values, err := sub.SubmittableValues()
	if err != nil {
		return rec, fmt.Errorf("decode mda payload: %w", err)
	}
	for _, key := range []string{"from_basic_salary", "to_basic_salary"} {
		if s, ok := values[key].(string); ok && strings.TrimSpace(s) == "" {
			delete(values, key)
		}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return rec, fmt.Errorf("decode mda payload: %w", err)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("decode mda payload: %w", err)
	}
	return rec, nil
}

// BuildLayout maps a submission and its MDA record onto the paper form.
func BuildLayout(sub models.FormSubmission, rec models.MDARecord, printedAt time.Time) Layout {
	name, code := sub.Employee()
	if name == "" {
		name = rec.FullName()
	}
	if code == "" {
		code = rec.EmployeeCode
	}
	from, to := rec.From(), rec.To()
	actions := ActionTypeFromMovement(rec.MovementType)

	layout := Layout{
		Title:        "Master Data Authority",
		Reference:    sub.Reference(),
		Status:       string(sub.EffectiveStatus()),
		EmployeeName: name,
		EmployeeCode: code,
		PersonalData: []Row{
			{"Employee No.", code},
			{"Name", name},
			{"Birth Date", rec.BirthDate},
			{"Birth Place", rec.BirthPlace},
			{"Gender", rec.Gender},
			{"Civil Status", rec.CivilStatus},
			{"Address", rec.Address},
			{"Date Hired", rec.DateHired},
			{"SSS No.", rec.SSSNumber},
			{"TIN", rec.TINNumber},
			{"PhilHealth No.", rec.PhilHealthNumber},
			{"Pag-IBIG No.", rec.PagIBIGNumber},
		},
		ActionTypes: actions.Flags(),
		OrgData: []OrgRow{
			{"Position", from.Position, to.Position},
			{"Department", from.Department, to.Department},
			{"Section", from.Section, to.Section},
			{"Job Level", from.JobLevel, to.JobLevel},
			{"Employment Type", from.EmploymentType, to.EmploymentType},
			{"Basic Salary", formatAmount(from.BasicSalary), formatAmount(to.BasicSalary)},
			{"Allowances", formatAmount(from.TotalAllowance()), formatAmount(to.TotalAllowance())},
		},
		EffectiveDate: rec.EffectiveDate,
		Remarks:       rec.Remarks,
		PrintedAt:     printedAt.Format("Jan 2, 2006 3:04 PM"),
	}
	switch {
	case actions.Others:
		layout.OtherMovement = rec.OtherMovement
	case actions.Count() == 0:
		layout.OtherMovement = strings.TrimSpace(rec.MovementType)
	}
	for _, role := range signatoryRoles {
		s := rec.Signatories[role.key]
		layout.Signatories = append(layout.Signatories, SignatureBlock{Role: role.label, Name: s.Name, Title: s.Title, Date: s.Date})
	}
	return layout
}

// formatAmount renders 1234567.5 as "1,234,567.50"; zero renders blank.
func formatAmount(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	fixed := d.Abs().StringFixed(2)
	whole, frac := fixed[:len(fixed)-3], fixed[len(fixed)-2:]
	var b strings.Builder
	if d.IsNegative() {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
