package upstream

import (
	"mime"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFlattenShapes(t *testing.T) {
	pairs, err := Flatten(map[string]interface{}{
		"employee_id":     "E-1",
		"to_basic_salary": decimal.RequireFromString("25000.00"),
		"keep":            true,
		"remarks":         nil,
		"attachments": []interface{}{
			map[string]interface{}{"id": 3, "keep_existing": true, "meta": map[string]interface{}{"k": "v"}},
		},
		"tags":    []string{"a", "b"},
		"details": map[string]interface{}{"x": 1},
	})
	require.NoError(t, err)

	got := map[string]string{}
	for _, p := range pairs {
		got[p.Key] = p.Value
	}
	require.Equal(t, map[string]string{
		"attachments[0][id]":            "3",
		"attachments[0][keep_existing]": "true",
		"attachments[0][meta]":          `{"k":"v"}`,
		"details":                       `{"x":1}`,
		"employee_id":                   "E-1",
		"keep":                          "true",
		"tags[0]":                       "a",
		"tags[1]":                       "b",
		"to_basic_salary":               "25000",
	}, got)
	require.Equal(t, "attachments[0][id]", pairs[0].Key)
}

func TestEncodeMultipartRoundTrip(t *testing.T) {
	body, contentType, err := EncodeMultipart(Payload{
		Fields: map[string]interface{}{"name": "Juan"},
		Files:  []File{{Field: "file", Name: `a"b.txt`, Content: strings.NewReader("hello")}},
	}, "patch")
	require.NoError(t, err)

	_, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	form, err := multipart.NewReader(body, params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)
	require.Equal(t, []string{"PATCH"}, form.Value[MethodOverrideField])
	require.Equal(t, []string{"Juan"}, form.Value["name"])
	require.Len(t, form.File["file"], 1)
}
