package templates

import (
	"fmt"
	"strconv"
	"strings"
)

// LeadEmailProps is the content of one lead notification
type LeadEmailProps struct {
	FormName      string
	Name          string
	Email         string
	Phone         string
	Nationality   string
	Destination   string
	TravelDate    string
	Travelers     int
	Message       string
	PageURL       string
	DeclaredValue float64
	Currency      string
	Reference     string
}

// GetLeadSubject returns the notification subject line.
func GetLeadSubject(props LeadEmailProps) string {
	who := props.Name
	if who == "" {
		who = "a visitor"
	}
	if props.Destination != "" {
		return fmt.Sprintf("New lead from %s: %s", who, props.Destination)
	}
	return fmt.Sprintf("New lead from %s", who)
}

// GetLeadNotificationContent renders the body shown inside the layout.
func GetLeadNotificationContent(props LeadEmailProps) string {
	var travelers, value string
	if props.Travelers > 0 {
		travelers = strconv.Itoa(props.Travelers)
	}
	if props.DeclaredValue > 0 {
		value = strings.TrimSpace(fmt.Sprintf("%.2f %s", props.DeclaredValue, props.Currency))
	}

	var b strings.Builder
	b.WriteString(GetParagraph(fmt.Sprintf("A new lead was submitted through the %s form.", formLabel(props.FormName))))
	b.WriteString(GetDetails([]DetailRow{
		{Label: "Name", Value: props.Name},
		{Label: "Email", Value: props.Email},
		{Label: "Phone", Value: props.Phone},
		{Label: "Nationality", Value: props.Nationality},
		{Label: "Destination", Value: props.Destination},
		{Label: "Travel date", Value: props.TravelDate},
		{Label: "Travelers", Value: travelers},
		{Label: "Estimated value", Value: value},
		{Label: "Page", Value: props.PageURL},
	}))
	if props.Message != "" {
		b.WriteString(GetParagraph(props.Message))
	}
	b.WriteString(GetParagraph("Reference: " + props.Reference))
	return b.String()
}

// GetLeadNotificationText is the plain-text alternative.
func GetLeadNotificationText(props LeadEmailProps) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New lead via the %s form\n\n", formLabel(props.FormName))
	for _, row := range []DetailRow{
		{Label: "Name", Value: props.Name},
		{Label: "Email", Value: props.Email},
		{Label: "Phone", Value: props.Phone},
		{Label: "Nationality", Value: props.Nationality},
		{Label: "Destination", Value: props.Destination},
		{Label: "Travel date", Value: props.TravelDate},
		{Label: "Page", Value: props.PageURL},
	} {
		if row.Value != "" {
			fmt.Fprintf(&b, "%s: %s\n", row.Label, row.Value)
		}
	}
	if props.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", props.Message)
	}
	fmt.Fprintf(&b, "\nReference: %s\n", props.Reference)
	return b.String()
}

func formLabel(name string) string {
	if name == "" {
		return "lead"
	}
	return name
}
