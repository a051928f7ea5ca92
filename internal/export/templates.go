package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

//go:embed templates/*.html
var templateFS embed.FS

var planTemplate = template.Must(template.New("plan.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"indent": func(depth int) template.CSS {
		return template.CSS(fmt.Sprintf("%.1fem", float64(depth)*1.5))
	},
}).ParseFS(templateFS, "templates/plan.html"))

type TemplateData struct {
	Title     string
	Generated time.Time
	Done      int
	Total     int
	Panels    []TemplatePanel
}

// TemplatePanel is one top-level row with its subtree flattened.
type TemplatePanel struct {
	Name    string
	Tooltip string
	Done    int
	Total   int
	Percent int
	Rows    []TemplateRow
}

type TemplateRow struct {
	Depth   int
	Type    plan.RowType
	State   string
	Marker  string
	Name    string
	Tooltip string
	Link    string
	Date    string
}

// BuildTemplateData lays out a snapshot for printing. Hidden rows and
// their subtrees are left out; progress counts visible checkboxes.
func BuildTemplateData(snap plan.Snapshot, generated time.Time) TemplateData {
	rows := plan.CloneFamily(snap.Root.Children)
	plan.SortTree(rows)
	plan.Recount(rows)

	data := TemplateData{Title: snap.Name, Generated: generated}
	if data.Title == "" {
		data.Title = "Plan"
	}
	for _, top := range rows {
		if !top.Visible {
			continue
		}
		panel := TemplatePanel{
			Name:    top.Name,
			Tooltip: top.Tooltip,
			Done:    top.DoneTasks,
			Total:   top.TotalTasks,
		}
		if top.Type == plan.TypeCheckbox {
			panel.Total++
			if top.Checked == plan.CheckedDone {
				panel.Done++
			}
		}
		if panel.Total > 0 {
			panel.Percent = panel.Done * 100 / panel.Total
		}
		panel.Rows = flattenVisible(top.Children, 0, nil)
		data.Done += panel.Done
		data.Total += panel.Total
		data.Panels = append(data.Panels, panel)
	}
	return data
}

func flattenVisible(family []*plan.Row, depth int, out []TemplateRow) []TemplateRow {
	for _, r := range family {
		if r == nil || !r.Visible {
			continue
		}
		state, marker := rowState(r)
		row := TemplateRow{
			Depth:   depth,
			Type:    r.Type,
			State:   state,
			Marker:  marker,
			Name:    r.Name,
			Tooltip: r.Tooltip,
			Link:    r.Link,
		}
		if r.Date != nil {
			row.Date = *r.Date
		}
		out = append(out, row)
		out = flattenVisible(r.Children, depth+1, out)
	}
	return out
}

func rowState(r *plan.Row) (state, marker string) {
	switch r.Type {
	case plan.TypeCheckbox:
		switch r.Checked {
		case plan.CheckedDone:
			return "done", "✓"
		case plan.CheckedNext:
			return "next", "→"
		default:
			return "new", "☐"
		}
	case plan.TypeComment:
		return "", "“"
	case plan.TypeLink:
		return "", "↗"
	case plan.TypePanel:
		return "", "▸"
	}
	return "", "•"
}

func RenderPlanHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := planTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render plan template: %w", err)
	}
	return buf.String(), nil
}
