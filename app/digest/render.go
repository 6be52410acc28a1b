package digest

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
)

const unknownSource = "Unknown source"

//go:embed templates/digest.html
var templateFS embed.FS

var digestTemplate = template.Must(template.ParseFS(templateFS, "templates/digest.html"))

type Page struct {
	TaskName string
	TaskID   string
	Date     string
	// Mailbox that receives unsubscribe requests. Empty disables the link.
	UnsubscribeAddress string
	Items              []Item
}

type group struct {
	Source string
	Items  []Item
}

type view struct {
	TaskName        string
	Date            string
	Count           int
	Groups          []group
	UnsubscribeLink template.URL
}

// Render builds the HTML body of a digest. Items are grouped by source in
// order of first appearance, keeping their ranked order within a group.
func Render(page Page) (string, error) {
	v := view{
		TaskName: page.TaskName,
		Date:     page.Date,
		Count:    len(page.Items),
		Groups:   groupBySource(page.Items),
	}
	if page.UnsubscribeAddress != "" && page.TaskID != "" {
		v.UnsubscribeLink = template.URL(UnsubscribeLink(page.UnsubscribeAddress, page.TaskID))
	}

	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("failed to render digest: %w", err)
	}
	return buf.String(), nil
}

// UnsubscribeLink is a mailto link whose subject carries the task id.
func UnsubscribeLink(address, taskID string) string {
	return "mailto:" + address + "?subject=" + url.PathEscape("Unsubscribe: "+taskID)
}

func groupBySource(items []Item) []group {
	var groups []group
	index := make(map[string]int)

	for _, item := range items {
		source := item.Source
		if source == "" {
			source = unknownSource
		}
		i, ok := index[source]
		if !ok {
			i = len(groups)
			index[source] = i
			groups = append(groups, group{Source: source})
		}
		groups[i].Items = append(groups[i].Items, item)
	}

	return groups
}
