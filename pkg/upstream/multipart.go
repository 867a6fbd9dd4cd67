package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
)

// MethodOverrideField tunnels PATCH/PUT through POST for the backend.
const MethodOverrideField = "_method"

// File is one uploaded file part.
type File struct {
	Field       string
	Name        string
	ContentType string
	Content     io.Reader
}

// Payload is a multipart submission body.
type Payload struct {
	Fields map[string]interface{}
	Files  []File
}

// EncodeMultipart writes payload as multipart/form-data. Scalars are written
// as-is, slices of objects become key[i][sub], other nested values are
// JSON-encoded. A non-empty method adds the _method override field.
func EncodeMultipart(payload Payload, method string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	if method != "" {
		if err := w.WriteField(MethodOverrideField, strings.ToUpper(method)); err != nil {
			return nil, "", err
		}
	}

	pairs, err := Flatten(payload.Fields)
	if err != nil {
		return nil, "", err
	}
	for _, p := range pairs {
		if err := w.WriteField(p.Key, p.Value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", p.Key, err)
		}
	}

	for _, f := range payload.Files {
		if f.Content == nil {
			continue
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(f.Field), escapeQuotes(f.Name)))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("create file part %s: %w", f.Field, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, "", fmt.Errorf("copy file part %s: %w", f.Field, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

// FieldPair is one flattened form field.
type FieldPair struct {
	Key   string
	Value string
}

// Flatten converts a field map into ordered form pairs. Keys are sorted so
// the encoding is deterministic.
func Flatten(fields map[string]interface{}) ([]FieldPair, error) {
	normalized, err := normalize(fields)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []FieldPair
	for _, key := range keys {
		value := normalized[key]
		switch v := value.(type) {
		case nil:
			continue
		case []interface{}:
			for i, item := range v {
				prefix := key + "[" + strconv.Itoa(i) + "]"
				obj, isObj := item.(map[string]interface{})
				if !isObj {
					s, err := scalarString(item)
					if err != nil {
						return nil, err
					}
					pairs = append(pairs, FieldPair{Key: prefix, Value: s})
					continue
				}
				subKeys := make([]string, 0, len(obj))
				for sk := range obj {
					subKeys = append(subKeys, sk)
				}
				sort.Strings(subKeys)
				for _, sk := range subKeys {
					if obj[sk] == nil {
						continue
					}
					s, err := scalarString(obj[sk])
					if err != nil {
						return nil, err
					}
					pairs = append(pairs, FieldPair{Key: prefix + "[" + sk + "]", Value: s})
				}
			}
		default:
			s, err := scalarString(v)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, FieldPair{Key: key, Value: s})
		}
	}
	return pairs, nil
}

// normalize round-trips the map through JSON so that structs, decimals and
// typed slices all reduce to the generic JSON value shapes.
func normalize(fields map[string]interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := map[string]interface{}{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return out, nil
}

func scalarString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", nil
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("encode nested field: %w", err)
		}
		return string(raw), nil
	}
}
