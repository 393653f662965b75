package booking

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptySheet is returned when a CSV source has no header line.
var ErrEmptySheet = errors.New("booking: empty sheet")

var utf8BOM = []byte("\xef\xbb\xbf")

// Sheet is a parsed booking table. Headers keep the source column order and
// are present even when the sheet has no data lines.
type Sheet struct {
	Headers []string
	Rows    []Row
}

// ReadCSV parses a booking sheet and returns its data rows only.
func ReadCSV(r io.Reader) ([]Row, error) {
	sheet, err := ReadSheet(r)
	if err != nil {
		return nil, err
	}
	return sheet.Rows, nil
}

// ReadSheet parses a booking sheet exported as delimited text. The separator
// (comma, semicolon or tab) is sniffed from the header line and a UTF-8 BOM
// is dropped. Every cell is kept as a string; blank lines are skipped.
func ReadSheet(r io.Reader) (Sheet, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Sheet{}, err
	}
	if bytes.HasPrefix(head, utf8BOM) {
		head = head[len(utf8BOM):]
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return Sheet{}, err
		}
	}
	if len(bytes.TrimSpace(head)) == 0 {
		return Sheet{}, ErrEmptySheet
	}
	sep := sniffSeparator(head)

	reader := csv.NewReader(br)
	reader.Comma = sep
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Sheet{}, ErrEmptySheet
		}
		return Sheet{}, fmt.Errorf("booking: read header: %w", err)
	}
	sheet := Sheet{Headers: make([]string, 0, len(headers))}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
		if headers[i] != "" {
			sheet.Headers = append(sheet.Headers, headers[i])
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Sheet{}, fmt.Errorf("booking: read line: %w", err)
		}
		if blankLine(record) {
			continue
		}
		row := make(Row, len(headers))
		for i, h := range headers {
			if h == "" || i >= len(record) {
				continue
			}
			row[h] = strings.TrimSpace(record[i])
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

func sniffSeparator(head []byte) rune {
	line := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		line = head[:i]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, sep := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(sep))); n > bestCount {
			best, bestCount = sep, n
		}
	}
	return best
}

func blankLine(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
