package printing

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/movement-gateway/internal/models"
)

func TestActionTypeFromMovement(t *testing.T) {
	merit := ActionTypeFromMovement("Merit Increase")
	require.True(t, merit.MeritIncrease)
	require.Equal(t, 1, merit.Count())

	require.Equal(t, models.ActionType{}, ActionTypeFromMovement(""))
	require.Equal(t, models.ActionType{}, ActionTypeFromMovement("unknown type"))

	require.True(t, ActionTypeFromMovement("Separation (without benefits)").SeparationWithoutBenefits)
	require.True(t, ActionTypeFromMovement("developmental_assignment").DevelopmentalAssignment)
	require.Equal(t, 1, ActionTypeFromMovement("  PROMOTION ").Count())
}

func TestEveryMappedMovementTicksOneBox(t *testing.T) {
	for movement := range movementFlags {
		require.Equal(t, 1, ActionTypeFromMovement(movement).Count(), movement)
	}
}

func TestBuildLayoutPrintsUnknownMovementAsOther(t *testing.T) {
	rec := models.MDARecord{MovementType: " Secondment ", OtherMovement: "ignored"}
	layout := BuildLayout(models.FormSubmission{ID: "1"}, rec, time.Now())
	require.Equal(t, "Secondment", layout.OtherMovement)
	for _, flag := range layout.ActionTypes {
		require.False(t, flag.Checked, flag.Key)
	}

	layout = BuildLayout(models.FormSubmission{ID: "1"}, models.MDARecord{MovementType: "Promotion", OtherMovement: "ignored"}, time.Now())
	require.Empty(t, layout.OtherMovement)
}

func sampleSubmission(t *testing.T) models.FormSubmission {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"employee_code":     "0042",
		"last_name":         "Reyes",
		"first_name":        "Ana",
		"middle_name":       "Lopez",
		"sss_number":        "34-1234567-8",
		"from_position":     "Clerk",
		"to_position":       "Analyst",
		"from_basic_salary": "",
		"to_basic_salary":   "1234567.5",
		"to_allowances":     []map[string]interface{}{{"name": "Rice", "amount": "1500"}, {"name": "Transport", "amount": 500}},
		"movement_type":     "Others",
		"other_movement":    "Lateral <move>",
		"effective_date":    "2024-09-01",
		"signatories":       map[string]interface{}{"approved_by": map[string]string{"name": "J. Cruz", "title": "HR Head"}},
	})
	require.NoError(t, err)
	return models.FormSubmission{ID: "77", ReferenceNumber: "MDA-2024-0077", ApprovalStatus: "APPROVED", Submittable: payload}
}

func TestBuildLayout(t *testing.T) {
	sub := sampleSubmission(t)
	rec, err := DecodeRecord(sub)
	require.NoError(t, err)

	layout := BuildLayout(sub, rec, time.Date(2024, 9, 2, 9, 30, 0, 0, time.UTC))
	require.Equal(t, "MDA-2024-0077", layout.Reference)
	require.Equal(t, "Reyes, Ana Lopez", layout.EmployeeName)
	require.Equal(t, "0042", layout.EmployeeCode)
	require.Equal(t, Row{"SSS No.", "34-1234567-8"}, layout.PersonalData[8])
	require.Equal(t, OrgRow{"Basic Salary", "", "1,234,567.50"}, layout.OrgData[5])
	require.Equal(t, OrgRow{"Allowances", "", "2,000.00"}, layout.OrgData[6])
	require.Equal(t, "Lateral <move>", layout.OtherMovement)
	require.Len(t, layout.ActionTypes, 12)
	require.Len(t, layout.Signatories, 4)
	require.Equal(t, "J. Cruz", layout.Signatories[2].Name)
	require.Empty(t, layout.Signatories[0].Name)
}

func TestRenderTriggersPrintAndEscapes(t *testing.T) {
	sub := sampleSubmission(t)
	rec, err := DecodeRecord(sub)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, BuildLayout(sub, rec, time.Now())))
	html := buf.String()
	require.Contains(t, html, "window.print()")
	require.Contains(t, html, "MDA-2024-0077")
	require.Contains(t, html, "Lateral &lt;move&gt;")
	require.NotContains(t, html, "Lateral <move>")
}

func TestFormatAmount(t *testing.T) {
	rec := models.MDARecord{}
	require.NoError(t, json.Unmarshal([]byte(`{"to_basic_salary":"999.999"}`), &rec))
	require.Equal(t, "1,000.00", formatAmount(rec.ToBasicSalary))
	require.Equal(t, "", formatAmount(rec.FromBasicSalary))
}
