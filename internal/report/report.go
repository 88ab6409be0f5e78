// Package report renders stored cursors and findings for the CLI.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/devblac/slot-scout/internal/storage"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Formats accepted by the export writers.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// CursorTable prints one row per cursor. heads holds the latest known chain
// height per source; sources missing from it show no lag.
func CursorTable(w io.Writer, cursors []storage.Cursor, heads map[string]uint64) {
	if len(cursors) == 0 {
		fmt.Fprintln(w, "No cursors recorded yet.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Source", "Height", "Hash", "Head", "Lag", "Updated"})
	for _, c := range cursors {
		head, lag := "-", "-"
		if h, ok := heads[c.SourceID]; ok {
			head = strconv.FormatUint(h, 10)
			if h >= c.Height {
				lag = strconv.FormatUint(h-c.Height, 10)
			} else {
				lag = "0"
			}
		}
		t.AppendRow(table.Row{c.SourceID, c.Height, shortHash(c.Hash), head, lag, c.UpdatedAt.UTC().Format(time.RFC3339)})
	}
	t.Render()
}

// FindingsTable prints recorded findings.
func FindingsTable(w io.Writer, findings []storage.Finding) {
	if len(findings) == 0 {
		fmt.Fprintln(w, "No findings recorded yet.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Rule", "Source", "Subject", "Height", "Name", "Symbol", "Verified"})
	for _, f := range findings {
		t.AppendRow(table.Row{f.RuleID, f.SourceID, f.Subject, f.Height, f.Name, f.Symbol, f.Verified})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(findings)})
	t.Render()
}

type cursorRecord struct {
	SourceID  string    `json:"source_id"`
	Height    uint64    `json:"height"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

type findingRecord struct {
	ID        string    `json:"id"`
	RuleID    string    `json:"rule_id"`
	SourceID  string    `json:"source_id"`
	Subject   string    `json:"subject"`
	Height    uint64    `json:"height"`
	TxHash    string    `json:"txhash,omitempty"`
	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// WriteCursors exports cursors as csv or json.
func WriteCursors(w io.Writer, format string, cursors []storage.Cursor) error {
	recs := make([]cursorRecord, 0, len(cursors))
	rows := make([][]string, 0, len(cursors))
	for _, c := range cursors {
		recs = append(recs, cursorRecord{SourceID: c.SourceID, Height: c.Height, Hash: c.Hash, UpdatedAt: c.UpdatedAt.UTC()})
		rows = append(rows, []string{c.SourceID, strconv.FormatUint(c.Height, 10), c.Hash, c.UpdatedAt.UTC().Format(time.RFC3339)})
	}
	return write(w, format, []string{"source_id", "height", "hash", "updated_at"}, rows, recs)
}

// WriteFindings exports findings as csv or json.
func WriteFindings(w io.Writer, format string, findings []storage.Finding) error {
	recs := make([]findingRecord, 0, len(findings))
	rows := make([][]string, 0, len(findings))
	for _, f := range findings {
		recs = append(recs, findingRecord{
			ID:        f.ID,
			RuleID:    f.RuleID,
			SourceID:  f.SourceID,
			Subject:   f.Subject,
			Height:    f.Height,
			TxHash:    f.TxHash,
			Name:      f.Name,
			Symbol:    f.Symbol,
			Verified:  f.Verified,
			CreatedAt: f.CreatedAt.UTC(),
		})
		rows = append(rows, []string{
			f.ID, f.RuleID, f.SourceID, f.Subject, strconv.FormatUint(f.Height, 10), f.TxHash,
			f.Name, f.Symbol, strconv.FormatBool(f.Verified), f.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	header := []string{"id", "rule_id", "source_id", "subject", "height", "txhash", "name", "symbol", "verified", "created_at"}
	return write(w, format, header, rows, recs)
}

func write(w io.Writer, format string, header []string, rows [][]string, recs any) error {
	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(recs); err != nil {
			return fmt.Errorf("write json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format %q (want csv or json)", format)
	}
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:8] + "..." + h[len(h)-4:]
}
