// Package roster reads the agent roster used to seed an empty database.
package roster

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"emergency-call-backend/pkg"
)

// Default is the agent seeded when no roster file is configured.
func Default() pkg.Agent {
	return pkg.Agent{
		FullName:         "Dr. Mathias Brunel",
		Sex:              "male",
		HospitalLocation: "Paris",
		Language:         "french",
		Status:           pkg.AgentAvailable,
	}
}

// Load reads agents from the first sheet of an xlsx workbook.  Columns are
// found by header name; rows without a name are skipped and a missing or
// unknown status is treated as available.
func Load(path string) ([]pkg.Agent, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	nameIdx, sexIdx, locIdx, langIdx, statusIdx := -1, -1, -1, -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "name"):
			if nameIdx == -1 {
				nameIdx = i
			}
		case l == "sex" || l == "gender":
			sexIdx = i
		case strings.Contains(l, "hospital") || strings.Contains(l, "location"):
			if locIdx == -1 {
				locIdx = i
			}
		case strings.Contains(l, "lang"):
			langIdx = i
		case strings.Contains(l, "status"):
			statusIdx = i
		}
	}
	if nameIdx == -1 {
		return nil, fmt.Errorf("no name column in header %v", rows[0])
	}

	cell := func(r []string, idx int) string {
		if idx >= 0 && idx < len(r) {
			return strings.TrimSpace(r[idx])
		}
		return ""
	}

	var out []pkg.Agent
	for _, r := range rows[1:] {
		a := pkg.Agent{
			FullName:         cell(r, nameIdx),
			Sex:              cell(r, sexIdx),
			HospitalLocation: cell(r, locIdx),
			Language:         strings.ToLower(cell(r, langIdx)),
			Status:           pkg.AgentAvailable,
		}
		if a.FullName == "" {
			continue
		}
		if pkg.AgentStatus(strings.ToLower(cell(r, statusIdx))) == pkg.AgentOccupied {
			a.Status = pkg.AgentOccupied
		}
		out = append(out, a)
	}
	return out, nil
}
