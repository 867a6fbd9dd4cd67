package form

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/movement-gateway/internal/models"
)

// Validation messages rendered inline under the offending field.
const (
	MsgRequired = "This field is required"
	MsgAmount   = "Please enter a valid amount"
	MsgDate     = "Please enter a valid date (YYYY-MM-DD)"
	MsgCount    = "Please enter a whole number greater than zero"
	MsgTooLong  = "Value is too long"
	MsgInvalid  = "Invalid value"
	MsgFile     = "Attach a new file or keep the existing one"
	MsgUpload   = "Please upload this file"
)

var (
	amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	countPattern  = regexp.MustCompile(`^[1-9]\d*$`)
)

// Validator checks field maps against a Schema.
type Validator struct {
	validate *validator.Validate
}

// NewValidator registers the custom rules used by the schemas.
func NewValidator() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		s, ok := scalarText(fl.Field())
		return ok && amountPattern.MatchString(s)
	})
	_ = v.RegisterValidation("count", func(fl validator.FieldLevel) bool {
		s, ok := scalarText(fl.Field())
		return ok && countPattern.MatchString(s)
	})
	_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		s, ok := scalarText(fl.Field())
		if !ok {
			return false
		}
		_, err := time.Parse("2006-01-02", s)
		return err == nil
	})
	return &Validator{validate: v}
}

// scalarText renders strings and numbers (json.Number included) the way a
// user typed them.
func scalarText(field reflect.Value) (string, bool) {
	if field.Kind() == reflect.Interface && !field.IsNil() {
		field = field.Elem()
	}
	switch field.Kind() {
	case reflect.String:
		return field.String(), true
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(field.Float(), 'f', -1, 64), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(field.Uint(), 10), true
	default:
		return "", false
	}
}

// Validate returns per-field messages; an empty map means the values pass.
func (v *Validator) Validate(schema *Schema, values map[string]interface{}) map[string][]string {
	problems := map[string][]string{}
	for _, spec := range schema.Fields {
		value := values[spec.Name]
		if spec.Rules != "" {
			if msg := v.check(value, spec.Rules); msg != "" {
				problems[spec.Name] = append(problems[spec.Name], msg)
			}
		}
		if len(spec.Items) == 0 {
			continue
		}
		items, _ := value.([]interface{})
		for i, raw := range items {
			item, _ := raw.(map[string]interface{})
			for _, sub := range spec.Items {
				if sub.Rules == "" {
					continue
				}
				if msg := v.check(item[sub.Name], sub.Rules); msg != "" {
					key := ItemKey(spec.Name, i, sub.Name)
					problems[key] = append(problems[key], msg)
				}
			}
		}
	}
	if schema.Check != nil {
		for key, msgs := range schema.Check(values) {
			problems[key] = append(problems[key], msgs...)
		}
	}
	return problems
}

// ItemKey names one field of a list item in validation results.
func ItemKey(list string, i int, field string) string {
	return fmt.Sprintf("%s[%d][%s]", list, i, field)
}

// checkAttachments requires every data change attachment to be either a new
// upload with a file name or a kept existing file.
func checkAttachments(values map[string]interface{}) map[string][]string {
	problems := map[string][]string{}
	attachments, err := models.DecodeAttachments(values["attachments"])
	if err != nil {
		problems["attachments"] = []string{MsgInvalid}
		return problems
	}
	for i, a := range attachments {
		switch {
		case a.IsNewFile && a.KeepExisting:
			problems[ItemKey("attachments", i, "keep_existing")] = []string{MsgFile}
		case a.IsNewFile && strings.TrimSpace(a.FileName) == "":
			problems[ItemKey("attachments", i, "file_name")] = []string{MsgRequired}
		case !a.IsNewFile && (!a.KeepExisting || (a.ExistingFileID == "" && a.ID == "")):
			problems[ItemKey("attachments", i, "existing_file_id")] = []string{MsgFile}
		}
	}
	return problems
}

func (v *Validator) check(value interface{}, rules string) string {
	if s, ok := value.(string); ok {
		value = strings.TrimSpace(s)
	}
	err := v.validate.Var(value, rules)
	if err == nil {
		return ""
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return message(fieldErrs[0].Tag())
	}
	return MsgInvalid
}

func message(tag string) string {
	switch tag {
	case "required":
		return MsgRequired
	case "amount":
		return MsgAmount
	case "date":
		return MsgDate
	case "count":
		return MsgCount
	case "max":
		return MsgTooLong
	default:
		return MsgInvalid
	}
}
