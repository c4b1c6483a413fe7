package templates

import (
	"bytes"
	"html/template"
	"log"
	"strings"
)

// DetailRow is one label/value line of a notification
type DetailRow struct {
	Label string
	Value string
}

var (
	paragraphTemplate = template.Must(template.New("emailParagraph").Parse(
		`<p style="font-family: Helvetica, sans-serif; font-size: 16px; font-weight: normal; margin: 0; margin-bottom: 16px;">{{.}}</p>`))

	detailsTemplate = template.Must(template.New("emailDetails").Parse(`<table role="presentation" border="0" cellpadding="0" cellspacing="0" style="width: 100%; margin-bottom: 16px;" width="100%">
{{- range .}}
  <tr>
    <td style="font-size: 14px; color: #6b7280; padding: 4px 12px 4px 0; white-space: nowrap;" valign="top">{{.Label}}</td>
    <td style="font-size: 16px; padding: 4px 0;" valign="top">{{.Value}}</td>
  </tr>
{{- end}}
</table>`))
)

// GetParagraph renders escaped paragraph text.
func GetParagraph(text string) string {
	var buf bytes.Buffer
	if err := paragraphTemplate.Execute(&buf, text); err != nil {
		log.Printf("Error executing email paragraph template: %v", err)
		return `<div style="color: red;">Paragraph template error</div>`
	}
	return buf.String()
}

// GetDetails renders rows with a non-empty value as a two-column table.
func GetDetails(rows []DetailRow) string {
	visible := make([]DetailRow, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.Value) != "" {
			visible = append(visible, row)
		}
	}
	if len(visible) == 0 {
		return ""
	}

	var buf bytes.Buffer
	if err := detailsTemplate.Execute(&buf, visible); err != nil {
		log.Printf("Error executing email details template: %v", err)
		return `<div style="color: red;">Details template error</div>`
	}
	return buf.String()
}
