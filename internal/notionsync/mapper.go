package notionsync

import (
	"fmt"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// Property names of the anomaly board database.
const (
	propAnomalyID     = "Anomaly ID"
	propBank          = "Bank"
	propDate          = "Date"
	propType          = "Type"
	propSeverity      = "Severity"
	propStatus        = "Status"
	propRule          = "Rule"
	propObserved      = "Observed"
	propZScore        = "Z-Score"
	propExpected      = "Expected Range"
	propTransactionID = "Transaction ID"
	propDescription   = "Description"
)

// AnomalyToNotionProperties converts an anomaly into board properties.
// The anomaly id is the page title and the sync key.
func AnomalyToNotionProperties(a domain.Anomaly) notionapi.Properties {
	date := notionapi.Date(a.Date.In(time.UTC))
	props := notionapi.Properties{
		propAnomalyID: notionapi.TitleProperty{Title: richText(a.AnomalyID)},
		propBank:      notionapi.SelectProperty{Select: notionapi.Option{Name: a.BankID}},
		propDate:      notionapi.DateProperty{Date: &notionapi.DateObject{Start: &date}},
		propType:      notionapi.SelectProperty{Select: notionapi.Option{Name: string(a.Class)}},
		propSeverity:  notionapi.SelectProperty{Select: notionapi.Option{Name: string(a.Severity)}},
		propStatus:    notionapi.SelectProperty{Select: notionapi.Option{Name: string(a.Status)}},
		propObserved:  notionapi.NumberProperty{Number: a.ObservedValue},
	}

	if a.Rule != "" {
		props[propRule] = notionapi.RichTextProperty{RichText: richText(a.Rule)}
	}
	if a.ZScore != nil {
		props[propZScore] = notionapi.NumberProperty{Number: *a.ZScore}
	}
	if a.ExpectedLow != nil && a.ExpectedHigh != nil {
		props[propExpected] = notionapi.RichTextProperty{
			RichText: richText(fmt.Sprintf("%.2f to %.2f", *a.ExpectedLow, *a.ExpectedHigh)),
		}
	}
	if a.TransactionID != "" {
		props[propTransactionID] = notionapi.RichTextProperty{RichText: richText(a.TransactionID)}
	}
	if a.Description != "" {
		props[propDescription] = notionapi.RichTextProperty{RichText: richText(truncate(a.Description, maxRichTextLen))}
	}
	return props
}

// maxRichTextLen is the Notion limit for one rich text object.
const maxRichTextLen = 2000

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}}
}

// extractAnomalyID returns the page title, or "" for pages this sync did
// not create.
func extractAnomalyID(page notionapi.Page) string {
	if prop, ok := page.Properties[propAnomalyID]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok && len(title.Title) > 0 {
			return title.Title[0].PlainText
		}
	}
	return ""
}

// extractSelect returns the selected option name of a select property.
func extractSelect(page notionapi.Page, name string) string {
	if prop, ok := page.Properties[name]; ok {
		if sel, ok := prop.(*notionapi.SelectProperty); ok {
			return sel.Select.Name
		}
	}
	return ""
}
