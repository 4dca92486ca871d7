package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// Formats.
const (
	FormatCSV    = "csv"
	FormatNDJSON = "ndjson"
)

// ContentType returns the MIME type used when uploading a batch file.
func ContentType(format string) string {
	if format == FormatNDJSON {
		return "application/x-ndjson"
	}
	return "text/csv"
}

// Decode parses a batch file in the given format. Fields lists the
// columns the file declares.
func Decode(format string, r io.Reader) (fields []string, records []domain.RawRecord, err error) {
	switch format {
	case FormatCSV, "":
		return DecodeCSV(r)
	case FormatNDJSON:
		return DecodeNDJSON(r)
	default:
		return nil, nil, fmt.Errorf("unsupported format %q", format)
	}
}

// DecodeCSV reads a headered CSV file. Every cell stays a string; empty
// cells are left for the cleaner to treat as null.
func DecodeCSV(r io.Reader) ([]string, []domain.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	fields := make([]string, len(header))
	for i, h := range header {
		fields[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var records []domain.RawRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row %d: %w", len(records)+1, err)
		}
		rec := make(domain.RawRecord, len(fields))
		for i, f := range fields {
			if i < len(row) {
				rec[f] = row[i]
			} else {
				rec[f] = nil
			}
		}
		records = append(records, rec)
	}
	return fields, records, nil
}

// DecodeNDJSON reads one JSON object per line. Numbers are kept as
// json.Number so amounts are not rounded through float64. The field list
// is the sorted union of all keys.
func DecodeNDJSON(r io.Reader) ([]string, []domain.RawRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	seen := make(map[string]struct{})
	var records []domain.RawRecord
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		var rec domain.RawRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, nil, fmt.Errorf("decode ndjson line %d: %w", line, err)
		}
		for k := range rec {
			seen[k] = struct{}{}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan ndjson: %w", err)
	}

	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields, records, nil
}

// EncodeCSV writes records under the given header. Nil values become
// empty cells.
func EncodeCSV(w io.Writer, fields []string, records []domain.RawRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(fields); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(fields))
	for _, rec := range records {
		for i, f := range fields {
			v := rec[f]
			if v == nil {
				row[i] = ""
				continue
			}
			row[i] = fmt.Sprint(v)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeNDJSON writes one JSON object per record.
func EncodeNDJSON(w io.Writer, records []domain.RawRecord) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode ndjson: %w", err)
		}
	}
	return nil
}

// Encode writes records in the given format.
func Encode(format string, w io.Writer, fields []string, records []domain.RawRecord) error {
	switch format {
	case FormatCSV, "":
		return EncodeCSV(w, fields, records)
	case FormatNDJSON:
		return EncodeNDJSON(w, records)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}
