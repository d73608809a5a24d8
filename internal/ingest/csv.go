package ingest

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadtrace/internal/model"
)

var (
	// ErrNoValidLeads is returned when a CSV parses but yields zero
	// accepted rows. The upload boundary maps it to HTTP 400.
	ErrNoValidLeads = eris.New("no valid leads found in csv")

	// ErrInvalidCSV is returned when the file cannot be parsed as CSV
	// at all.
	ErrInvalidCSV = eris.New("csv could not be parsed")
)

// requiredColumns lists each lead field with its header aliases in
// priority order. Matching is case-sensitive; the canonical spreadsheet
// header wins over snake_case which wins over camelCase.
var requiredColumns = []struct {
	field   string
	aliases []string
}{
	{"firstName", []string{"First Name", "first_name", "firstName"}},
	{"lastName", []string{"Last Name", "last_name", "lastName"}},
	{"streetAddress", []string{"Street Address", "street_address", "streetAddress"}},
	{"city", []string{"City", "city"}},
	{"state", []string{"State", "state"}},
	{"postalCode", []string{"Postal Code", "postal_code", "postalCode"}},
}

// ParseLeads reads a headered CSV and returns the accepted rows as leads
// plus the count of dropped rows. A row is accepted only when all six
// required fields are non-empty after trimming; anything else is dropped,
// not an error. The returned leads carry only the parsed fields — id,
// owner, status and timestamps are assigned at ingest time.
func ParseLeads(r io.Reader) ([]model.Lead, int, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, 0, eris.Wrap(ErrInvalidCSV, err.Error())
	}
	if len(records) < 2 {
		return nil, 0, nil
	}

	header := records[0]
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		name := strings.TrimSpace(col)
		if _, seen := colIdx[name]; !seen {
			colIdx[name] = i
		}
	}

	// Resolve each field to a column index via alias priority.
	fieldIdx := make(map[string]int, len(requiredColumns))
	for _, rc := range requiredColumns {
		for _, alias := range rc.aliases {
			if idx, ok := colIdx[alias]; ok {
				fieldIdx[rc.field] = idx
				break
			}
		}
	}

	var leads []model.Lead
	dropped := 0

	for _, row := range records[1:] {
		if isEmptyRow(row) {
			continue
		}

		values := make(map[string]string, len(requiredColumns))
		complete := true
		for _, rc := range requiredColumns {
			idx, ok := fieldIdx[rc.field]
			v := ""
			if ok && idx < len(row) {
				v = strings.TrimSpace(row[idx])
			}
			if v == "" {
				complete = false
				break
			}
			values[rc.field] = v
		}

		if !complete {
			dropped++
			continue
		}

		leads = append(leads, model.Lead{
			FirstName:     values["firstName"],
			LastName:      values["lastName"],
			StreetAddress: values["streetAddress"],
			City:          values["city"],
			State:         values["state"],
			PostalCode:    values["postalCode"],
			Status:        model.StatusProcessing,
		})
	}

	return leads, dropped, nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
