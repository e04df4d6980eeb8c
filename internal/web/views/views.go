// Package views renders the wizard pages as templ components.
//
// The pages are plain server-rendered snapshots. Each session page opens an
// EventSource on /api/sessions/{id}/events and reloads when a newer view
// arrives, so no client framework is involved.
package views

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/selection"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

// Locator turns a backend download locator into a link target.
type Locator func(string) string

// Preset is a preset as listed on the transform page.
type Preset struct {
	Key   string
	Label string
}

var flowTitles = map[wizard.Flow]string{
	wizard.FlowTransform: "Transform CSV",
	wizard.FlowExport:    "Multi-export",
	wizard.FlowDedup:     "Deduplicate emails",
}

// Title returns the heading for a flow.
func Title(f wizard.Flow) string {
	if t, ok := flowTitles[f]; ok {
		return t
	}
	return string(f)
}

// Page wraps body in the document shell.
func Page(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		p.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		p.raw(`<title>`).text(title).raw(`</title></head><body><main>`)
		if p.err != nil {
			return p.err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		p.raw(`</main></body></html>`)
		return p.err
	})
}

// Index lists the wizards a user can start.
func Index(count int) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<h1>CSV wizard</h1><p>`).text(strconv.Itoa(count)).raw(` open session(s)</p><ul class="flows">`)
		for _, f := range []wizard.Flow{wizard.FlowTransform, wizard.FlowExport, wizard.FlowDedup} {
			p.raw(`<li><form method="post" action="/sessions"><input type="hidden" name="flow" value="`).
				text(string(f)).raw(`"><button type="submit">`).text(Title(f)).raw(`</button></form></li>`)
		}
		p.raw(`</ul>`)
		return p.err
	})
}

// Session renders one wizard at its current step.
func Session(v wizard.View, presets []Preset, locate Locator) templ.Component {
	if locate == nil {
		locate = func(s string) string { return s }
	}
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<section id="wizard" data-session="`).text(v.ID).raw(`" data-seq="`).text(strconv.FormatUint(v.Seq, 10)).raw(`">`)
		p.raw(`<h1>`).text(Title(v.Flow)).raw(`</h1>`)
		p.raw(`<p class="state">Step: <strong>`).text(string(v.State)).raw(`</strong>`)
		if v.Busy {
			p.raw(` <span class="busy">working…</span>`)
		}
		p.raw(`</p>`)
		if v.FileName != "" {
			p.raw(`<p class="file">File: `).text(v.FileName).raw(`</p>`)
		}

		notifications(p, v.Notifications)
		if v.Error != "" {
			alert(p, v.Error, "", "")
		}

		switch v.State {
		case wizard.StateUploading:
			progress(p, "Uploading", v.UploadPercent)
		case wizard.StateAnalyzing, wizard.StateProcessing:
			progress(p, "Processing", v.TaskPercent)
		}

		switch v.Flow {
		case wizard.FlowTransform:
			transform(p, v, presets)
		case wizard.FlowExport:
			export(p, v)
		case wizard.FlowDedup:
			dedup(p, v)
		}

		if v.State == wizard.StateDownloadable {
			p.raw(`<div class="result">`)
			link(p, locate(v.Result), "Download result")
			if v.InvalidResult != "" {
				p.raw(` `)
				link(p, locate(v.InvalidResult), "Download invalid rows")
			}
			if v.ProcessedRows != nil {
				p.raw(`<p>`).text(strconv.Itoa(*v.ProcessedRows)).raw(` rows processed</p>`)
			}
			stats(p, v.FinalStats)
			p.raw(`</div>`)
		}

		p.raw(`</section>`)
		p.raw(`<script>new EventSource("/api/sessions/`).text(v.ID).
			raw(`/events").addEventListener("view", function (e) { if (+e.lastEventId > `).
			text(strconv.FormatUint(v.Seq, 10)).raw(`) location.reload(); });</script>`)
		return p.err
	})
}

// ErrorAlert renders a user-facing error box.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &printer{w: w}
		alert(p, message, action, code)
		return p.err
	})
}

func transform(p *printer, v wizard.View, presets []Preset) {
	if v.NeedsDocnumGeneration {
		p.raw(`<p class="warning">No docnum column: one will be generated.</p>`)
	}
	switch v.State {
	case wizard.StateAwaitingFieldSelection:
		if len(presets) > 0 {
			p.raw(`<p class="presets">Presets:`)
			for _, pr := range presets {
				p.raw(` <button data-preset="`).text(pr.Key).raw(`">`).text(pr.Label).raw(`</button>`)
			}
			p.raw(`</p>`)
		}
		p.raw(`<input type="search" name="filter" value="`).text(v.Filter).raw(`">`)
		p.raw(`<ul class="fields">`)
		for _, f := range v.Fields {
			if !f.Visible {
				continue
			}
			field(p, f)
		}
		p.raw(`</ul>`)
	case wizard.StateReordering:
		p.raw(`<ol class="reorder">`)
		for _, it := range v.Reorder {
			p.raw(`<li data-name="`).text(it.Name).raw(`"`)
			if it.Fixed {
				p.raw(` class="fixed"`)
			} else if it.Moving {
				p.raw(` class="moving"`)
			}
			p.raw(`>`).text(it.Name).raw(`</li>`)
		}
		p.raw(`</ol>`)
	}
	if len(v.Preview) > 0 {
		table(p, v.Columns, v.Preview)
	}
}

func field(p *printer, f selection.FieldState) {
	p.raw(`<li><label><input type="checkbox" name="field" value="`).text(f.Name).raw(`"`)
	if f.Selected {
		p.raw(` checked`)
	}
	if f.Fixed() {
		p.raw(` disabled`)
	}
	p.raw(`> `).text(f.Name).raw(`</label></li>`)
}

func export(p *printer, v wizard.View) {
	if v.State != wizard.StateSelecting && v.State != wizard.StateProcessing {
		return
	}
	for _, c := range v.Categories {
		p.raw(`<fieldset data-category="`).text(c.Key).raw(`" data-state="`).text(c.State.String()).raw(`"><legend>`).text(c.Label).raw(`</legend>`)
		for _, it := range c.Items {
			p.raw(`<label><input type="checkbox" value="`).text(it.Value).raw(`"`)
			if it.Selected {
				p.raw(` checked`)
			}
			p.raw(`> `).text(it.Value).raw(`</label>`)
		}
		p.raw(`</fieldset>`)
	}
	if !v.CanStartExport {
		p.raw(`<p class="hint">Select at least one item to export.</p>`)
	}
}

func dedup(p *printer, v wizard.View) {
	if v.State == wizard.StateAwaitingFieldSelection {
		p.raw(`<ul class="columns">`)
		for _, c := range v.DedupColumns {
			p.raw(`<li><label><input type="checkbox" value="`).text(c.Name).raw(`"`)
			if c.Selected {
				p.raw(` checked`)
			}
			p.raw(`> `).text(c.Name)
			if c.Suggested {
				p.raw(` <em>suggested</em>`)
			}
			p.raw(`</label></li>`)
		}
		p.raw(`</ul>`)
	}
	if v.State == wizard.StatePreviewing {
		p.raw(`<ul class="preview">`)
		for _, e := range v.DedupPreview {
			p.raw(`<li>`).text(e).raw(`</li>`)
		}
		p.raw(`</ul>`)
		stats(p, v.Stats)
	}
}

func table(p *printer, cols []string, rows []map[string]any) {
	p.raw(`<table class="preview"><thead><tr>`)
	for _, c := range cols {
		p.raw(`<th>`).text(c).raw(`</th>`)
	}
	p.raw(`</tr></thead><tbody>`)
	for _, row := range rows {
		p.raw(`<tr>`)
		for _, c := range cols {
			p.raw(`<td>`)
			if val, ok := row[c]; ok && val != nil {
				p.text(fmt.Sprint(val))
			}
			p.raw(`</td>`)
		}
		p.raw(`</tr>`)
	}
	p.raw(`</tbody></table>`)
}

func stats(p *printer, s *backend.Stats) {
	if s == nil {
		return
	}
	p.raw(`<dl class="stats">`)
	for _, kv := range []struct {
		k string
		v int
	}{
		{"Total", s.TotalRaw},
		{"Unique", s.TotalUnique},
		{"Duplicates", s.Duplicates},
		{"Invalid", s.Invalid},
	} {
		p.raw(`<dt>`).text(kv.k).raw(`</dt><dd>`).text(strconv.Itoa(kv.v)).raw(`</dd>`)
	}
	p.raw(`</dl>`)
}

// link writes an anchor. Locators come from the backend, so unsafe schemes
// are replaced by templ's sanitizer.
func link(p *printer, href, label string) {
	p.raw(`<a href="`).text(string(templ.URL(href))).raw(`">`).text(label).raw(`</a>`)
}

func progress(p *printer, label string, pct int) {
	p.raw(`<label class="progress">`).text(label).raw(` <progress max="100" value="`).
		text(strconv.Itoa(pct)).raw(`"></progress> `).text(strconv.Itoa(pct)).raw(`%</label>`)
}

func notifications(p *printer, notes []wizard.Notification) {
	if len(notes) == 0 {
		return
	}
	p.raw(`<ul class="notifications">`)
	for _, n := range notes {
		p.raw(`<li class="`).text(string(n.Level)).raw(`">`).text(n.Message).raw(`</li>`)
	}
	p.raw(`</ul>`)
}

func alert(p *printer, message, action, code string) {
	p.raw(`<div class="alert error" role="alert"><p>`).text(message).raw(`</p>`)
	if action != "" {
		p.raw(`<p class="action">`).text(action).raw(`</p>`)
	}
	if code != "" {
		p.raw(`<p class="code">Code: `).text(code).raw(`</p>`)
	}
	p.raw(`</div>`)
}

// printer writes markup and remembers the first error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) raw(s string) *printer {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
	return p
}

func (p *printer) text(s string) *printer {
	return p.raw(templ.EscapeString(s))
}
