// Package tabular converts loosely typed upstream records into models.Table
// values, inferring one type per column.
package tabular

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/finlake/pkg/models"
	json "github.com/goccy/go-json"
)

// Date layouts accepted when inferring date columns.
var dateLayouts = []string{"2006-01-02", "02/01/2006"}

// FromRecords flattens JSON objects into a table. Nested objects become
// dotted column names, arrays are kept as JSON text. Columns appear in
// first-seen order, with keys of each record visited alphabetically.
// JSON numbers are float columns; strings that all parse as dates are date
// columns.
func FromRecords(records []map[string]interface{}) *models.Table {
	var order []string
	seen := map[string]bool{}
	flat := make([]map[string]interface{}, len(records))

	for i, rec := range records {
		row := map[string]interface{}{}
		flatten("", rec, row)
		flat[i] = row

		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
			}
		}
	}

	table := &models.Table{}
	cols := make([][]interface{}, len(order))
	for c, name := range order {
		values := make([]interface{}, len(flat))
		for r, row := range flat {
			values[r] = row[name]
		}
		ft, converted := inferJSONColumn(values)
		table.Columns = append(table.Columns, models.Column{Name: name, Type: ft})
		cols[c] = converted
	}
	table.Rows = transpose(cols, len(flat))
	return table
}

// FromStrings builds a table from CSV-style text. Empty cells are nil; a
// column is int, float or date when every non-empty cell parses as one,
// otherwise string.
func FromStrings(header []string, rows [][]string) (*models.Table, error) {
	table := &models.Table{}
	cols := make([][]interface{}, len(header))
	for c, name := range header {
		cells := make([]string, len(rows))
		for r, row := range rows {
			if len(row) != len(header) {
				return nil, fmt.Errorf("row %d has %d fields, header has %d", r+1, len(row), len(header))
			}
			cells[r] = strings.TrimSpace(row[c])
		}
		ft, values := inferTextColumn(cells)
		table.Columns = append(table.Columns, models.Column{Name: strings.TrimSpace(name), Type: ft})
		cols[c] = values
	}
	table.Rows = transpose(cols, len(rows))
	return table, nil
}

// ParseDate parses the date layouts used by upstream APIs.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func flatten(prefix string, in map[string]interface{}, out map[string]interface{}) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]interface{}:
			flatten(key, t, out)
		case []interface{}:
			b, _ := json.Marshal(t)
			out[key] = string(b)
		default:
			out[key] = v
		}
	}
}

func inferJSONColumn(values []interface{}) (models.FieldType, []interface{}) {
	allFloat, allBool, allDate, any := true, true, true, false
	for _, v := range values {
		if v == nil {
			continue
		}
		any = true
		switch t := v.(type) {
		case float64:
			allBool, allDate = false, false
		case bool:
			allFloat, allDate = false, false
		case string:
			allFloat, allBool = false, false
			if _, ok := ParseDate(t); !ok {
				allDate = false
			}
		default:
			allFloat, allBool, allDate = false, false, false
		}
	}

	out := make([]interface{}, len(values))
	switch {
	case !any:
		return models.FieldTypeString, out
	case allFloat:
		copy(out, values)
		return models.FieldTypeFloat, out
	case allBool:
		copy(out, values)
		return models.FieldTypeBool, out
	case allDate:
		for i, v := range values {
			if s, ok := v.(string); ok {
				out[i], _ = ParseDate(s)
			}
		}
		return models.FieldTypeDate, out
	default:
		for i, v := range values {
			if v != nil {
				out[i] = stringify(v)
			}
		}
		return models.FieldTypeString, out
	}
}

func inferTextColumn(cells []string) (models.FieldType, []interface{}) {
	allInt, allFloat, allDate, any := true, true, true, false
	for _, s := range cells {
		if s == "" {
			continue
		}
		any = true
		if allInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				allFloat = false
			}
		}
		if allDate {
			if _, ok := ParseDate(s); !ok {
				allDate = false
			}
		}
	}

	out := make([]interface{}, len(cells))
	ft := models.FieldTypeString
	switch {
	case !any:
	case allInt:
		ft = models.FieldTypeInt
	case allFloat:
		ft = models.FieldTypeFloat
	case allDate:
		ft = models.FieldTypeDate
	}

	for i, s := range cells {
		if s == "" {
			continue
		}
		switch ft {
		case models.FieldTypeInt:
			out[i], _ = strconv.ParseInt(s, 10, 64)
		case models.FieldTypeFloat:
			out[i], _ = strconv.ParseFloat(s, 64)
		case models.FieldTypeDate:
			out[i], _ = ParseDate(s)
		default:
			out[i] = s
		}
	}
	return ft, out
}

func transpose(cols [][]interface{}, n int) [][]interface{} {
	rows := make([][]interface{}, n)
	for r := 0; r < n; r++ {
		row := make([]interface{}, len(cols))
		for c := range cols {
			row[c] = cols[c][r]
		}
		rows[r] = row
	}
	return rows
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
