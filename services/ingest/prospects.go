// Package ingest turns raw CSV uploads into normalized prospect records.
package ingest

import (
	"strings"

	"github.com/upb/audit-quota/services"
)

const (
	// MaxBatchRows caps the data rows read from one upload; later rows are dropped
	MaxBatchRows = 50

	// MinCSVLength is the shortest payload accepted
	MinCSVLength = 10

	urlColumn   = "url"
	emailColumn = "email"
)

// Prospect is one normalized (url, email) pair derived from a CSV row
type Prospect struct {
	URL   string `json:"url"`
	Email string `json:"email"`
}

// ParseProspects parses csv keeping at most MaxBatchRows data rows
func ParseProspects(csv string) ([]Prospect, error) {
	return ParseProspectsCapped(csv, MaxBatchRows)
}

// ParseProspectsCapped parses header + comma separated rows, reading at most
// maxRows data rows. Quoting is not supported: every comma splits a cell.
func ParseProspectsCapped(csv string, maxRows int) ([]Prospect, error) {
	if len(csv) < MinCSVLength {
		return nil, services.NewValidationError("CSV too short",
			map[string]string{"csvData": "must be at least 10 characters"})
	}

	lines := strings.Split(strings.TrimSpace(csv), "\n")
	headers := splitRow(lines[0])
	if !contains(headers, urlColumn) {
		return nil, services.NewValidationError(`missing "url" column`,
			map[string]string{"csvData": `missing "url" column`})
	}

	if maxRows <= 0 {
		maxRows = MaxBatchRows
	}

	prospects := make([]Prospect, 0, min(len(lines)-1, maxRows))
	for i := 1; i < len(lines) && i <= maxRows; i++ {
		row := toRecord(headers, splitRow(lines[i]))

		raw := row[urlColumn]
		if raw == "" {
			continue
		}
		prospects = append(prospects, Prospect{
			URL:   NormalizeURL(raw),
			Email: defaultEmail(row[emailColumn], raw),
		})
	}

	return prospects, nil
}

// NormalizeURL prefixes https:// unless the value already starts with http
func NormalizeURL(raw string) string {
	if strings.HasPrefix(raw, "http") {
		return raw
	}
	return "https://" + raw
}

func defaultEmail(email, rawURL string) string {
	if email != "" {
		return email
	}
	return "contact@" + rawURL
}

func splitRow(line string) []string {
	cells := strings.Split(strings.TrimSuffix(line, "\r"), ",")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

// toRecord maps header names to cell values; missing cells are empty
func toRecord(headers, values []string) map[string]string {
	record := make(map[string]string, len(headers))
	for i, h := range headers {
		if i < len(values) {
			record[h] = values[i]
		} else {
			record[h] = ""
		}
	}
	return record
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
