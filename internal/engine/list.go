package engine

import (
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/keltia/fetiche/internal/formats"
)

func newTable(headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(headers))
	return t
}

// ListSources renders the configured sites.
func (e *Engine) ListSources() string {
	t := newTable("Name", "Type", "Format", "URL", "Auth", "Capabilities")
	for _, site := range e.sources.List() {
		caps := make([]string, 0, len(site.Features))
		for _, c := range site.Features {
			caps = append(caps, string(c))
		}
		t.AppendRow(table.Row{
			site.Name, site.DType, site.Format, site.BaseURL,
			site.Auth.String(), strings.Join(caps, ","),
		})
	}
	return t.Render()
}

// ListFormats renders the format registry.
func (e *Engine) ListFormats() string {
	t := newTable("Name", "Type", "Description", "Source")
	for _, d := range formats.List() {
		t.AppendRow(table.Row{string(d.Name), string(d.DType), d.Description, d.Source})
	}
	return t.Render()
}

// ListContainers renders the supported output containers.
func (e *Engine) ListContainers() string {
	t := newTable("Name", "Description")
	t.AppendRow(table.Row{"csv", "plain CSV rows, one record per line"})
	t.AppendRow(table.Row{"parquet", "columnar files, row groups of 500000 records"})
	return t.Render()
}

// ListTokens renders the token cache with secrets obfuscated.
func (e *Engine) ListTokens() string {
	t := newTable("Source", "Key", "Expires")
	summaries, err := e.tokens.List()
	if err != nil {
		e.logger.Warn().Err(err).Msg("Cannot list tokens")
		return t.Render()
	}
	for _, s := range summaries {
		t.AppendRow(table.Row{s.Name, s.Key, time.Unix(s.Expires, 0).UTC().Format(time.RFC3339)})
	}
	return t.Render()
}

// ListStorage renders the storage areas.
func (e *Engine) ListStorage() string {
	t := newTable("Name", "Destination")
	for _, area := range e.storage.List() {
		t.AppendRow(table.Row{area.Name, area.String()})
	}
	return t.Render()
}

// ListJobs renders the queue contents.
func (e *Engine) ListJobs() string {
	t := newTable("ID", "Name", "Kind", "State")
	snap := e.queue.List()
	for _, job := range snap.Waiting {
		t.AppendRow(table.Row{job.ID, job.Name, string(job.Kind), string(job.State)})
	}
	for _, job := range snap.Running {
		t.AppendRow(table.Row{job.ID, job.Name, string(job.Kind), string(job.State)})
	}
	for _, job := range snap.Finished {
		t.AppendRow(table.Row{job.ID, job.Name, string(job.Kind), string(job.State)})
	}
	return t.Render()
}

// ListCommands renders the task vocabulary accepted in job files.
func (e *Engine) ListCommands() string {
	t := newTable("Tag", "Role", "Description")
	rows := []table.Row{
		{"Fetch", "producer", "one-shot acquisition from a source"},
		{"Read", "producer", "read a local file"},
		{"Stream", "producer", "long-running acquisition from a source"},
		{"Tee", "middle", "copy frames to a file while forwarding"},
		{"Convert", "middle", "reformat records between two formats"},
		{"Copy", "middle", "pass frames through"},
		{"Nothing", "middle", "do nothing"},
		{"Message", "middle", "replace frames with a literal"},
		{"Save", "consumer", "write to a file or - for stdout"},
		{"Store", "consumer", "write into a named storage area"},
		{"Record", "consumer", "append rows to a cache-area table"},
	}
	for _, r := range rows {
		t.AppendRow(r)
	}
	return t.Render()
}
