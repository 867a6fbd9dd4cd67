package models

import "encoding/json"

// Attachment is a supporting document on a 201 data change. Existing files
// are referenced by id/path; new files arrive as multipart parts.
type Attachment struct {
	ID               ID     `json:"id,omitempty"`
	FileName         string `json:"file_name,omitempty"`
	ExistingFileName string `json:"existing_file_name,omitempty"`
	ExistingFilePath string `json:"existing_file_path,omitempty"`
	ExistingFileID   ID     `json:"existing_file_id,omitempty"`
	IsNewFile        bool   `json:"is_new_file"`
	KeepExisting     bool   `json:"keep_existing"`
}

// DisplayName returns the name to show in attachment lists.
func (a Attachment) DisplayName() string {
	if a.IsNewFile || a.ExistingFileName == "" {
		return a.FileName
	}
	return a.ExistingFileName
}

// DecodeAttachments reads the attachment list of a data change out of
// generic form values.
func DecodeAttachments(raw interface{}) ([]Attachment, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var out []Attachment
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DataChangeSubmission is the payload of a 201 data change request.
type DataChangeSubmission struct {
	EmployeeID    ID           `json:"employee_id"`
	EmployeeName  string       `json:"employee_name,omitempty"`
	EmployeeCode  string       `json:"employee_code,omitempty"`
	FromPosition  string       `json:"from_position"`
	ToPosition    string       `json:"to_position"`
	MovementType  string       `json:"movement_type"`
	EffectiveDate string       `json:"effective_date"`
	Reason        string       `json:"reason,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
}

// DecodeDataChange reads a data change out of generic form values.
func DecodeDataChange(values map[string]interface{}) (DataChangeSubmission, error) {
	var d DataChangeSubmission
	raw, err := json.Marshal(values)
	if err != nil {
		return d, err
	}
	err = json.Unmarshal(raw, &d)
	return d, err
}
