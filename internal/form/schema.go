package form

import (
	"github.com/noah-isme/movement-gateway/internal/models"
)

// FieldSpec declares one form field and its validator rules. Items applies
// to every element of a list-of-objects field.
type FieldSpec struct {
	Name  string
	Label string
	Rules string
	Items []FieldSpec
}

// Schema is the field set of one form type. Check, when set, runs after the
// per-field rules for constraints spanning several fields.
type Schema struct {
	Form     models.FormCode
	Fields   []FieldSpec
	Defaults map[string]interface{}
	Check    func(values map[string]interface{}) map[string][]string
}

// Field looks up a top-level field by name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

var allowanceItems = []FieldSpec{
	{Name: "name", Label: "Allowance", Rules: "required"},
	{Name: "amount", Label: "Amount", Rules: "required,amount"},
}

var mdaSchema = &Schema{
	Form: models.FormMDA,
	Fields: []FieldSpec{
		{Name: "source_submission_id", Label: "Source submission"},
		{Name: "employee_id", Label: "Employee", Rules: "required"},
		{Name: "employee_code", Label: "Employee code", Rules: "required"},
		{Name: "last_name", Label: "Last name", Rules: "required"},
		{Name: "first_name", Label: "First name", Rules: "required"},
		{Name: "middle_name", Label: "Middle name"},
		{Name: "birth_date", Label: "Birth date", Rules: "omitempty,date"},
		{Name: "birth_place", Label: "Birth place"},
		{Name: "gender", Label: "Gender"},
		{Name: "civil_status", Label: "Civil status"},
		{Name: "address", Label: "Address"},
		{Name: "date_hired", Label: "Date hired", Rules: "omitempty,date"},
		{Name: "sss_number", Label: "SSS number"},
		{Name: "tin_number", Label: "TIN"},
		{Name: "philhealth_number", Label: "PhilHealth number"},
		{Name: "pagibig_number", Label: "Pag-IBIG number"},
		{Name: "from_position", Label: "Current position", Rules: "required"},
		{Name: "from_department", Label: "Current department"},
		{Name: "from_section", Label: "Current section"},
		{Name: "from_job_level", Label: "Current job level"},
		{Name: "from_employment_type", Label: "Current employment type"},
		{Name: "from_basic_salary", Label: "Current basic salary", Rules: "omitempty,amount"},
		{Name: "from_allowances", Label: "Current allowances", Items: allowanceItems},
		{Name: "to_position", Label: "New position", Rules: "required"},
		{Name: "to_department", Label: "New department", Rules: "required"},
		{Name: "to_section", Label: "New section"},
		{Name: "to_job_level", Label: "New job level"},
		{Name: "to_employment_type", Label: "New employment type"},
		{Name: "to_basic_salary", Label: "New basic salary", Rules: "required,amount"},
		{Name: "to_allowances", Label: "New allowances", Items: allowanceItems},
		{Name: "movement_type", Label: "Movement type", Rules: "required"},
		{Name: "other_movement", Label: "Other movement"},
		{Name: "effective_date", Label: "Effective date", Rules: "required,date"},
		{Name: "remarks", Label: "Remarks", Rules: "omitempty,max=1000"},
		{Name: "signatories", Label: "Signatories"},
	},
}

var dataChangeSchema = &Schema{
	Form: models.FormDataChange,
	Fields: []FieldSpec{
		{Name: "employee_id", Label: "Employee", Rules: "required"},
		{Name: "employee_name", Label: "Employee name"},
		{Name: "employee_code", Label: "Employee code"},
		{Name: "from_position", Label: "Current position", Rules: "required"},
		{Name: "to_position", Label: "New position", Rules: "required"},
		{Name: "movement_type", Label: "Movement type", Rules: "required"},
		{Name: "effective_date", Label: "Effective date", Rules: "required,date"},
		{Name: "reason", Label: "Reason", Rules: "omitempty,max=1000"},
		{Name: "attachments", Label: "Attachments", Items: []FieldSpec{
			{Name: "id", Label: "Attachment"},
			{Name: "file_name", Label: "File name"},
			{Name: "existing_file_id", Label: "Existing file"},
			{Name: "is_new_file", Label: "New file"},
			{Name: "keep_existing", Label: "Keep existing"},
		}},
	},
	Defaults: map[string]interface{}{"attachments": []interface{}{}},
	Check:    checkAttachments,
}

var mrfSchema = &Schema{
	Form: models.FormMRF,
	Fields: []FieldSpec{
		{Name: "position_title", Label: "Position title", Rules: "required"},
		{Name: "department", Label: "Department", Rules: "required"},
		{Name: "section", Label: "Section"},
		{Name: "job_level", Label: "Job level"},
		{Name: "employment_type", Label: "Employment type", Rules: "required"},
		{Name: "headcount", Label: "Headcount", Rules: "required,count"},
		{Name: "salary_min", Label: "Minimum salary", Rules: "omitempty,amount"},
		{Name: "salary_max", Label: "Maximum salary", Rules: "omitempty,amount"},
		{Name: "date_needed", Label: "Date needed", Rules: "required,date"},
		{Name: "justification", Label: "Justification", Rules: "required,max=2000"},
		{Name: "replacement_for", Label: "Replacement for"},
	},
}

// SchemaFor returns the schema of a form type.
func SchemaFor(code models.FormCode) (*Schema, bool) {
	switch code {
	case models.FormMDA:
		return mdaSchema, true
	case models.FormDataChange:
		return dataChangeSchema, true
	case models.FormMRF:
		return mrfSchema, true
	default:
		return nil, false
	}
}
