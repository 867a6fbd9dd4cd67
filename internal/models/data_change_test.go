package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeDataChange(t *testing.T) {
	d, err := DecodeDataChange(map[string]interface{}{
		"employee_id":   json.Number("901"),
		"from_position": "Clerk",
		"to_position":   "Analyst",
		"attachments": []interface{}{
			map[string]interface{}{"is_new_file": true, "file_name": "memo.pdf"},
			map[string]interface{}{"id": json.Number("3"), "existing_file_name": "contract.pdf", "file_name": "upload.pdf", "keep_existing": true},
		},
	})
	require.NoError(t, err)
	require.Equal(t, ID("901"), d.EmployeeID)
	require.Len(t, d.Attachments, 2)
	require.Equal(t, "memo.pdf", d.Attachments[0].DisplayName())
	require.Equal(t, "contract.pdf", d.Attachments[1].DisplayName())
	require.Equal(t, ID("3"), d.Attachments[1].ID)

	_, err = DecodeDataChange(map[string]interface{}{"attachments": "memo.pdf"})
	require.Error(t, err)
}

func TestDecodeAttachmentsNil(t *testing.T) {
	attachments, err := DecodeAttachments(nil)
	require.NoError(t, err)
	require.Empty(t, attachments)
}
