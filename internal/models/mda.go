package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Allowance is one recurring allowance line.
type Allowance struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// OrgAssignment is one side of a movement (the "from" or the "to").
type OrgAssignment struct {
	Position       string
	Department     string
	Section        string
	JobLevel       string
	EmploymentType string
	BasicSalary    decimal.Decimal
	Allowances     []Allowance
}

// TotalAllowance sums the allowance lines.
func (o OrgAssignment) TotalAllowance() decimal.Decimal {
	total := decimal.Zero
	for _, a := range o.Allowances {
		total = total.Add(a.Amount)
	}
	return total
}

// Signatory is a named signature block on the printed form.
type Signatory struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Date  string `json:"date,omitempty"`
}

// MDARecord is the payload of an MDA submission. Field names follow the
// backend's flat from_/to_ convention.
type MDARecord struct {
	SourceSubmissionID string `json:"source_submission_id,omitempty"`
	EmployeeID         string `json:"employee_id"`
	EmployeeCode       string `json:"employee_code"`
	LastName           string `json:"last_name"`
	FirstName          string `json:"first_name"`
	MiddleName         string `json:"middle_name"`
	BirthDate          string `json:"birth_date"`
	BirthPlace         string `json:"birth_place"`
	Gender             string `json:"gender"`
	CivilStatus        string `json:"civil_status"`
	Address            string `json:"address"`
	DateHired          string `json:"date_hired"`
	SSSNumber          string `json:"sss_number"`
	TINNumber          string `json:"tin_number"`
	PhilHealthNumber   string `json:"philhealth_number"`
	PagIBIGNumber      string `json:"pagibig_number"`

	FromPosition       string          `json:"from_position"`
	FromDepartment     string          `json:"from_department"`
	FromSection        string          `json:"from_section"`
	FromJobLevel       string          `json:"from_job_level"`
	FromEmploymentType string          `json:"from_employment_type"`
	FromBasicSalary    decimal.Decimal `json:"from_basic_salary"`
	FromAllowances     []Allowance     `json:"from_allowances,omitempty"`

	ToPosition       string          `json:"to_position"`
	ToDepartment     string          `json:"to_department"`
	ToSection        string          `json:"to_section"`
	ToJobLevel       string          `json:"to_job_level"`
	ToEmploymentType string          `json:"to_employment_type"`
	ToBasicSalary    decimal.Decimal `json:"to_basic_salary"`
	ToAllowances     []Allowance     `json:"to_allowances,omitempty"`

	MovementType  string               `json:"movement_type"`
	OtherMovement string               `json:"other_movement,omitempty"`
	EffectiveDate string               `json:"effective_date"`
	Remarks       string               `json:"remarks,omitempty"`
	Signatories   map[string]Signatory `json:"signatories,omitempty"`
}

// FullName renders "LAST, First Middle".
func (r MDARecord) FullName() string {
	given := strings.TrimSpace(strings.Join([]string{r.FirstName, r.MiddleName}, " "))
	switch {
	case r.LastName == "":
		return given
	case given == "":
		return r.LastName
	default:
		return r.LastName + ", " + given
	}
}

// From returns the current assignment.
func (r MDARecord) From() OrgAssignment {
	return OrgAssignment{
		Position:       r.FromPosition,
		Department:     r.FromDepartment,
		Section:        r.FromSection,
		JobLevel:       r.FromJobLevel,
		EmploymentType: r.FromEmploymentType,
		BasicSalary:    r.FromBasicSalary,
		Allowances:     r.FromAllowances,
	}
}

// To returns the proposed assignment.
func (r MDARecord) To() OrgAssignment {
	return OrgAssignment{
		Position:       r.ToPosition,
		Department:     r.ToDepartment,
		Section:        r.ToSection,
		JobLevel:       r.ToJobLevel,
		EmploymentType: r.ToEmploymentType,
		BasicSalary:    r.ToBasicSalary,
		Allowances:     r.ToAllowances,
	}
}

// ActionType is the checkbox grid printed on the MDA form.
type ActionType struct {
	Probationary              bool `json:"probationary"`
	Transfer                  bool `json:"transfer"`
	MeritIncrease             bool `json:"merit_increase"`
	Regularization            bool `json:"regularization"`
	SpecialAssignment         bool `json:"special_assignment"`
	SeparationWithBenefits    bool `json:"separation_with_benefits"`
	SeparationWithoutBenefits bool `json:"separation_without_benefits"`
	Promotion                 bool `json:"promotion"`
	Upgrading                 bool `json:"upgrading"`
	DevelopmentalAssignment   bool `json:"developmental_assignment"`
	Downgrading               bool `json:"downgrading"`
	Others                    bool `json:"others"`
}

// Count returns how many flags are set.
func (a ActionType) Count() int {
	n := 0
	for _, f := range a.Flags() {
		if f.Checked {
			n++
		}
	}
	return n
}

// ActionFlag is one labelled checkbox.
type ActionFlag struct {
	Key     string
	Label   string
	Checked bool
}

// Flags lists the checkboxes in printed order.
func (a ActionType) Flags() []ActionFlag {
	return []ActionFlag{
		{"probationary", "Probationary", a.Probationary},
		{"transfer", "Transfer", a.Transfer},
		{"merit_increase", "Merit Increase", a.MeritIncrease},
		{"regularization", "Regularization", a.Regularization},
		{"special_assignment", "Special Assignment", a.SpecialAssignment},
		{"separation_with_benefits", "Separation (with benefits)", a.SeparationWithBenefits},
		{"separation_without_benefits", "Separation (without benefits)", a.SeparationWithoutBenefits},
		{"promotion", "Promotion", a.Promotion},
		{"upgrading", "Upgrading", a.Upgrading},
		{"developmental_assignment", "Developmental Assignment", a.DevelopmentalAssignment},
		{"downgrading", "Downgrading", a.Downgrading},
		{"others", "Others", a.Others},
	}
}

// PendingMDA is a movement awaiting MDA creation.
type PendingMDA struct {
	SubmissionID    ID      `json:"submission_id"`
	ReferenceNumber string  `json:"reference_number"`
	EmployeeName    *string `json:"employee_name"`
	EmployeeCode    *string `json:"employee_code"`
	MovementType    string  `json:"movement_type"`
	FromPosition    string  `json:"from_position"`
	ToPosition      string  `json:"to_position"`
	ApprovalStatus  string  `json:"approval_status"`
	ApprovedAt      string  `json:"approved_at,omitempty"`
}
