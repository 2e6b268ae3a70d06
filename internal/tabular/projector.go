package tabular

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/scope"
)

// OverviewSection is the reserved section name projecting the document
// overview as a two-column table.
const OverviewSection = "overview"

// ResourcingPlanSection is the reserved section that gets a synthetic,
// non-editable Total row appended.
const ResourcingPlanSection = "resourcing_plan"

// TotalLabel is the first-column label of the synthetic Total row.
const TotalLabel = "Total"

// monthHeader matches two-token "<Month> <Year>" effort columns such as
// "Jan 2025" or "January 2025".
var monthHeader = regexp.MustCompile(`^[A-Za-z]{3,9} \d{4}$`)

// Table is a flat editable projection of one document section. Rows hold
// canonical unformatted values; Display holds the same grid with locale
// currency formatting applied to rate/cost columns. Formatted display values
// are never the stored representation.
type Table struct {
	Section  string     `json:"section"`
	Headers  []string   `json:"headers"`
	Rows     [][]string `json:"rows"`
	Display  [][]string `json:"display"`
	HasTotal bool       `json:"has_total"`
}

// Project derives the table view of the named section. The overview section
// projects as Field/Value rows; a record-array section projects one row per
// record under the headers of its first record.
func Project(doc *scope.Document, section string) (*Table, error) {
	if section == OverviewSection {
		return projectOverview(doc), nil
	}
	s := doc.Section(section)
	if s == nil {
		return nil, fmt.Errorf("section %q not found in scope document", section)
	}

	table := &Table{Section: section, Headers: append([]string(nil), s.Columns...)}
	for _, rec := range s.Records {
		row := make([]string, len(table.Headers))
		for i, h := range table.Headers {
			row[i] = cellString(rec[h])
		}
		table.Rows = append(table.Rows, row)
	}
	if section == ResourcingPlanSection {
		table.appendTotalRow()
	}
	table.buildDisplay(currencyCode(doc))
	return table, nil
}

func projectOverview(doc *scope.Document) *Table {
	table := &Table{Section: OverviewSection, Headers: []string{"Field", "Value"}}
	for _, f := range doc.Overview {
		table.Rows = append(table.Rows, []string{f.Key, cellString(f.Value)})
	}
	table.buildDisplay(currencyCode(doc))
	return table
}

// appendTotalRow sums month-pattern effort columns and effort-named columns
// across rows, and totals the cost column from each row's already-computed
// cost field so per-row discounts are respected. All other cells stay blank
// except the first, labelled Total.
func (t *Table) appendTotalRow() {
	if len(t.Rows) == 0 {
		return
	}
	total := make([]string, len(t.Headers))
	if len(total) > 0 {
		total[0] = TotalLabel
	}
	for col, h := range t.Headers {
		if col == 0 {
			continue
		}
		if !isSummedHeader(h) {
			continue
		}
		sum := 0.0
		for _, row := range t.Rows {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
			if err != nil {
				continue
			}
			sum += v
		}
		total[col] = formatNumber(sum)
	}
	t.Rows = append(t.Rows, total)
	t.HasTotal = true
}

func isSummedHeader(h string) bool {
	if monthHeader.MatchString(h) {
		return true
	}
	lower := strings.ToLower(h)
	// "Rate/month" must not be summed even though it names a rate.
	if strings.Contains(lower, "rate") {
		return false
	}
	return strings.Contains(lower, "effort") || strings.Contains(lower, "cost")
}

// IsCurrencyHeader reports whether values under this header are rendered
// through currency formatting for display.
func IsCurrencyHeader(h string) bool {
	lower := strings.ToLower(h)
	return strings.Contains(lower, "rate") || strings.Contains(lower, "cost")
}

func (t *Table) buildDisplay(currency string) {
	t.Display = make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		display := make([]string, len(row))
		for j, cell := range row {
			if j < len(t.Headers) && IsCurrencyHeader(t.Headers[j]) {
				if v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
					display[j] = FormatCurrency(currency, v)
					continue
				}
			}
			display[j] = cell
		}
		t.Display[i] = display
	}
}

func currencyCode(doc *scope.Document) string {
	if code, ok := doc.OverviewValue("Currency").(string); ok && code != "" {
		return strings.ToUpper(code)
	}
	return "USD"
}

// ApplyOverview rebuilds the document overview from Field/Value rows,
// dropping rows with empty keys.
func ApplyOverview(doc *scope.Document, rows [][]string) (*scope.Document, error) {
	out := doc.Clone()
	out.Overview = nil
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("overview rows need a Field and a Value cell, got %d cells", len(row))
		}
		key := strings.TrimSpace(row[0])
		if key == "" {
			continue
		}
		out.Overview = append(out.Overview, scope.OverviewField{Key: key, Value: cellValue(row[1], false)})
	}
	return out, nil
}

// ApplyCell rewrites one field of one record. For currency-rendered columns
// any display formatting is stripped before storing, so formatted values are
// never written back as canonical data.
func ApplyCell(doc *scope.Document, section string, row, col int, value string) (*scope.Document, error) {
	if section == OverviewSection {
		return applyOverviewCell(doc, row, col, value)
	}
	out := doc.Clone()
	s := out.Section(section)
	if s == nil {
		return nil, fmt.Errorf("section %q not found in scope document", section)
	}
	if row < 0 || row >= len(s.Records) {
		return nil, fmt.Errorf("row %d out of range for section %q", row, section)
	}
	if col < 0 || col >= len(s.Columns) {
		return nil, fmt.Errorf("column %d out of range for section %q", col, section)
	}
	header := s.Columns[col]
	s.Records[row][header] = cellValue(value, IsCurrencyHeader(header))
	return out, nil
}

func applyOverviewCell(doc *scope.Document, row, col int, value string) (*scope.Document, error) {
	out := doc.Clone()
	if row < 0 || row >= len(out.Overview) {
		return nil, fmt.Errorf("row %d out of range for overview", row)
	}
	switch col {
	case 0:
		key := strings.TrimSpace(value)
		if key == "" {
			// Empty keys are dropped on write-back.
			out.Overview = append(out.Overview[:row], out.Overview[row+1:]...)
			return out, nil
		}
		out.Overview[row].Key = key
	case 1:
		out.Overview[row].Value = cellValue(value, false)
	default:
		return nil, fmt.Errorf("column %d out of range for overview", col)
	}
	return out, nil
}

// AppendRow inserts a record with every field blank.
func AppendRow(doc *scope.Document, section string) (*scope.Document, error) {
	if section == OverviewSection {
		out := doc.Clone()
		out.Overview = append(out.Overview, scope.OverviewField{})
		return out, nil
	}
	out := doc.Clone()
	s := out.Section(section)
	if s == nil {
		return nil, fmt.Errorf("section %q not found in scope document", section)
	}
	rec := scope.Record{}
	for _, c := range s.Columns {
		rec[c] = ""
	}
	s.Records = append(s.Records, rec)
	return out, nil
}

// RemoveRow deletes the record backing the given table row.
func RemoveRow(doc *scope.Document, section string, row int) (*scope.Document, error) {
	out := doc.Clone()
	if section == OverviewSection {
		if row < 0 || row >= len(out.Overview) {
			return nil, fmt.Errorf("row %d out of range for overview", row)
		}
		out.Overview = append(out.Overview[:row], out.Overview[row+1:]...)
		return out, nil
	}
	s := out.Section(section)
	if s == nil {
		return nil, fmt.Errorf("section %q not found in scope document", section)
	}
	if row < 0 || row >= len(s.Records) {
		return nil, fmt.Errorf("row %d out of range for section %q", row, section)
	}
	s.Records = append(s.Records[:row], s.Records[row+1:]...)
	return out, nil
}

// cellString renders a canonical value for table editing.
func cellString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}

// cellValue converts an edited cell back to a canonical value. Numeric text
// is stored as a number; currency columns are unformatted first.
func cellValue(text string, currency bool) interface{} {
	trimmed := strings.TrimSpace(text)
	if currency {
		trimmed = StripCurrency(trimmed)
	}
	if trimmed == "" {
		return ""
	}
	if _, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return json.Number(trimmed)
	}
	return text
}
