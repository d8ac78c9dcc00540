// Package export writes scraped records as CSV, JSON or TSV.
package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Sternrassler/atlas-scraper/pkg/record"
)

// ErrUnknownFormat is returned for a format name Write does not support.
var ErrUnknownFormat = errors.New("unknown export format")

// Format is an output format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatTSV  Format = "tsv"
)

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatCSV, FormatJSON, FormatTSV}
}

// ParseFormat resolves a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Write encodes records to w in format f.
func Write(w io.Writer, f Format, records []record.ListRecord) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatJSON:
		return WriteJSON(w, records)
	case FormatTSV:
		return WriteTSV(w, records)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

var csvHeader = []string{"id", "name", "created_at", "permissions"}

// WriteCSV writes a header line and one line per record. Every value is
// double-quoted with embedded quotes doubled; lines end with "\n".
func WriteCSV(w io.Writer, records []record.ListRecord) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(csvHeader, ","))
	bw.WriteByte('\n')

	for _, r := range records {
		fields := []string{string(r.ID), r.Name, r.CreatedAt, r.Permissions}
		for i, v := range fields {
			if i > 0 {
				bw.WriteByte(',')
			}
			bw.WriteByte('"')
			bw.WriteString(strings.ReplaceAll(v, `"`, `""`))
			bw.WriteByte('"')
		}
		bw.WriteByte('\n')
	}

	return bw.Flush()
}

// WriteJSON writes the records as a JSON array indented by two spaces.
func WriteJSON(w io.Writer, records []record.ListRecord) error {
	if records == nil {
		records = []record.ListRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(records)
}

// WriteTSV writes the clipboard layout: a fixed header and tab-separated
// values as they are, one record per line.
func WriteTSV(w io.Writer, records []record.ListRecord) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("ID\tName\tCreated\tPermissions\n")

	for _, r := range records {
		fmt.Fprintf(bw, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.CreatedAt, r.Permissions)
	}

	return bw.Flush()
}
