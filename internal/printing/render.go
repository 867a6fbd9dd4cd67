package printing

import (
	"fmt"
	"html/template"
	"io"
)

var pageTemplate = template.Must(template.New("mda").Funcs(template.FuncMap{
	"mod": func(a, b int) int { return a % b },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} {{.Reference}}</title>
<style>
  @page { size: A4; margin: 12mm; }
  body { font-family: Arial, Helvetica, sans-serif; font-size: 11px; color: #101828; }
  h1 { font-size: 16px; text-align: center; margin: 0 0 4px; }
  .ref { text-align: center; margin-bottom: 12px; }
  table { width: 100%; border-collapse: collapse; margin-bottom: 10px; }
  th, td { border: 1px solid #344054; padding: 4px 6px; text-align: left; }
  th { background: #F2F4F7; }
  .grid { display: grid; grid-template-columns: repeat(3, 1fr); gap: 4px 12px; margin-bottom: 10px; }
  .box { display: inline-block; width: 10px; height: 10px; border: 1px solid #101828; margin-right: 4px; text-align: center; line-height: 10px; }
  .signatories { display: grid; grid-template-columns: repeat(4, 1fr); gap: 16px; margin-top: 28px; }
  .line { border-top: 1px solid #101828; padding-top: 2px; margin-top: 28px; }
  .muted { color: #667085; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<div class="ref">Reference: <strong>{{.Reference}}</strong> <span class="muted">({{.Status}})</span></div>

<table>
  <tr><th colspan="4">Personal Data</th></tr>
  {{- range $i, $row := .PersonalData}}{{if eq (mod $i 2) 0}}
  <tr>{{end}}<td>{{$row.Label}}</td><td>{{$row.Value}}</td>{{if eq (mod $i 2) 1}}</tr>{{end}}{{end}}
</table>

<div><strong>Action Type</strong></div>
<div class="grid">
  {{- range .ActionTypes}}
  <div><span class="box">{{if .Checked}}&#10003;{{end}}</span>{{.Label}}</div>
  {{- end}}
</div>
{{- if .OtherMovement}}
<div>Others: {{.OtherMovement}}</div>
{{- end}}

<table>
  <tr><th>Organizational Data</th><th>From</th><th>To</th></tr>
  {{- range .OrgData}}
  <tr><td>{{.Label}}</td><td>{{.From}}</td><td>{{.To}}</td></tr>
  {{- end}}
</table>

<div>Effective Date: <strong>{{.EffectiveDate}}</strong></div>
{{- if .Remarks}}
<div>Remarks: {{.Remarks}}</div>
{{- end}}

<div class="signatories">
  {{- range .Signatories}}
  <div>
    <div>{{.Role}}:</div>
    <div class="line">{{.Name}}</div>
    <div class="muted">{{.Title}}{{if .Date}} &middot; {{.Date}}{{end}}</div>
  </div>
  {{- end}}
</div>
<p class="muted">Printed {{.PrintedAt}}</p>
<script>window.addEventListener("load", function () { window.print(); });</script>
</body>
</html>
`))

// Render writes the printable page. The page opens the browser print dialog
// once loaded.
func Render(w io.Writer, layout Layout) error {
	if err := pageTemplate.Execute(w, layout); err != nil {
		return fmt.Errorf("render mda print: %w", err)
	}
	return nil
}
