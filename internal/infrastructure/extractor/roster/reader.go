package roster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

// Column headers recognised in the first row of the first sheet, case-insensitively.
const (
	colName         = "name"
	colEmail        = "email"
	colSeniority    = "seniority"
	colTitle        = "title"
	colSkills       = "skills"
	colTechnologies = "technologies"
	colDomains      = "domains"
	colProjects     = "projects"
)

// Reader parses an .xlsx roster. List cells are split on commas, semicolons or newlines.
// The projects cell holds one project per line as "name | customer | domain | tech, tech".
type Reader struct{}

func NewReader() *Reader {
	return &Reader{}
}

func (r *Reader) ReadProfiles(ctx context.Context, body io.Reader) ([]domain.ExpertProfile, error) {
	f, err := excelize.OpenReader(body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open roster", err)
	}
	defer func() {
		_ = f.Close()
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read roster", errors.New("workbook has no sheets"))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read roster", err)
	}
	if len(rows) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read roster", errors.New("sheet is empty"))
	}

	columns := headerIndex(rows[0])
	for _, required := range []string{colName, colEmail} {
		if _, ok := columns[required]; !ok {
			return nil, domain.WrapError(domain.ErrInvalidInput, "read roster", fmt.Errorf("missing %q column", required))
		}
	}

	profiles := make([]domain.ExpertProfile, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isBlankRow(row) {
			continue
		}
		cell := func(name string) string {
			idx, ok := columns[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		profiles = append(profiles, domain.ExpertProfile{
			Name:         cell(colName),
			Email:        cell(colEmail),
			Seniority:    cell(colSeniority),
			Title:        cell(colTitle),
			Skills:       splitList(cell(colSkills)),
			Technologies: splitList(cell(colTechnologies)),
			Domains:      splitList(cell(colDomains)),
			Projects:     parseProjects(cell(colProjects)),
		})
	}
	return profiles, nil
}

func headerIndex(header []string) map[string]int {
	out := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, dup := out[key]; !dup {
			out[key] = i
		}
	}
	return out
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func splitList(cell string) []string {
	return domain.NormalizeTerms(strings.FieldsFunc(cell, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	}))
}

func parseProjects(cell string) []domain.ProjectRef {
	if strings.TrimSpace(cell) == "" {
		return nil
	}
	out := make([]domain.ProjectRef, 0)
	for _, line := range strings.Split(cell, "\n") {
		parts := strings.Split(line, "|")
		name := strings.TrimSpace(parts[0])
		if name == "" {
			continue
		}
		project := domain.ProjectRef{Name: name}
		if len(parts) > 1 {
			project.Customer = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			project.Domain = strings.TrimSpace(parts[2])
		}
		if len(parts) > 3 {
			project.Technologies = domain.NormalizeTerms(strings.Split(parts[3], ","))
		}
		out = append(out, project)
	}
	return out
}
