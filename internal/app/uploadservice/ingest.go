package uploadservice

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/eveqx/corpstat/internal/app"
)

// Sheet and column names as they appear in the monthly workbook.
const (
	sheetActivity = "PAP"
	sheetBounty   = "赏金"
	sheetMining   = "挖矿"

	colName      = "名字"
	colTitle     = "Title"
	colPoints    = "PAP"
	colStrategic = "战略PAP"
	colTax       = "纳税(isk)"
	colMain      = "主人物"
	colVolume    = "体积(m3)"
)

type activityRow struct {
	Name            string
	Title           string
	Points          float64
	StrategicPoints float64
}

type bountyRow struct {
	Name   string
	TaxISK float64
}

type miningRow struct {
	Name     string
	MainName string
	VolumeM3 float64
}

// workbook is the parsed content of one monthly upload file.
type workbook struct {
	Activity []activityRow
	Bounty   []bountyRow
	Mining   []miningRow
}

// parseWorkbook reads and validates a monthly workbook.
// Missing sheets or columns yield [app.ErrValidation] naming everything
// that is missing. Rows lacking a required cell are skipped, optional
// numeric cells default to zero and all text is trimmed.
func parseWorkbook(path string) (*workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()
	var missing []string
	sheets := f.GetSheetList()
	for _, name := range []string{sheetActivity, sheetBounty, sheetMining} {
		if !slices.Contains(sheets, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required sheets %s: %w", strings.Join(missing, ", "), app.ErrValidation)
	}
	var wb workbook
	if err := parseSheet(f, sheetActivity, []string{colName, colTitle, colPoints, colStrategic}, func(c cells) {
		name := c.text(colName)
		title := c.text(colTitle)
		if name == "" || title == "" {
			return
		}
		wb.Activity = append(wb.Activity, activityRow{
			Name:            name,
			Title:           title,
			Points:          c.number(colPoints),
			StrategicPoints: c.number(colStrategic),
		})
	}); err != nil {
		return nil, err
	}
	if err := parseSheet(f, sheetBounty, []string{colName, colTax}, func(c cells) {
		name := c.text(colName)
		if name == "" || c.text(colTax) == "" {
			return
		}
		wb.Bounty = append(wb.Bounty, bountyRow{
			Name:   name,
			TaxISK: c.number(colTax),
		})
	}); err != nil {
		return nil, err
	}
	if err := parseSheet(f, sheetMining, []string{colName, colMain, colVolume}, func(c cells) {
		name := c.text(colName)
		if name == "" || c.text(colVolume) == "" {
			return
		}
		wb.Mining = append(wb.Mining, miningRow{
			Name:     name,
			MainName: c.text(colMain),
			VolumeM3: c.number(colVolume),
		})
	}); err != nil {
		return nil, err
	}
	return &wb, nil
}

// cells is one data row with access to its values by column name.
type cells struct {
	columns map[string]int
	row     []string
}

func (c cells) text(column string) string {
	i, ok := c.columns[column]
	if !ok || i >= len(c.row) {
		return ""
	}
	return strings.TrimSpace(c.row[i])
}

func (c cells) number(column string) float64 {
	v, err := strconv.ParseFloat(c.text(column), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseSheet maps the header row of a sheet and feeds every data row to fn.
func parseSheet(f *excelize.File, sheet string, required []string, fn func(cells)) error {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil
	}
	columns := make(map[string]int)
	for i, h := range rows[0] {
		columns[strings.TrimSpace(h)] = i
	}
	var missing []string
	for _, col := range required {
		if _, ok := columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("sheet %s missing columns %s: %w", sheet, strings.Join(missing, ", "), app.ErrValidation)
	}
	for _, row := range rows[1:] {
		fn(cells{columns: columns, row: row})
	}
	return nil
}
