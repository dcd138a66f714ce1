package bulletin

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/spimexlab/spimex-api/internal/domain"
)

// metricTonMarker is the section heading that precedes the table we
// ingest. The bulletin carries several unit sections; only the
// metric-ton one is of interest.
const metricTonMarker = "Единица измерения: Метрическая тонна"

// Header cell fragments used to locate columns. The bulletin wraps
// header text over multiple lines, so matching is done on substrings
// of the flattened cell value.
const (
	headerProductID   = "Код"
	headerProductName = "Наименование"
	headerBasis       = "Базис"
	headerVolume      = "Объем Договоров в единицах"
	headerTotal       = "Обьем Договоров, руб"
	headerCount       = "Количество Договоров"
)

// totalsRowPrefix ends the data section.
const totalsRowPrefix = "Итого"

type columnLayout struct {
	productID   int
	productName int
	basis       int
	volume      int
	total       int
	count       int
}

// Parse reads a bulletin spreadsheet and returns the trading results of
// its metric-ton section with at least one contract. Rows that fail
// domain validation (summary lines, malformed product codes) are
// skipped rather than failing the whole bulletin.
func Parse(r io.Reader, tradeDate time.Time) ([]*domain.TradingResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	start := findMarkerRow(rows)
	if start < 0 {
		return nil, fmt.Errorf("metric-ton section not found")
	}

	layout, dataStart, err := resolveColumns(rows, start+1)
	if err != nil {
		return nil, err
	}

	var results []*domain.TradingResult
	for _, row := range rows[dataStart:] {
		id := cell(row, layout.productID)
		if id == "" {
			continue
		}
		if strings.HasPrefix(id, totalsRowPrefix) {
			break
		}

		count, err := parseCount(cell(row, layout.count))
		if err != nil || count <= 0 {
			continue
		}

		result, err := domain.NewTradingResult(
			id,
			cell(row, layout.productName),
			cell(row, layout.basis),
			cell(row, layout.volume),
			cell(row, layout.total),
			count,
			tradeDate,
		)
		if err != nil {
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

func findMarkerRow(rows [][]string) int {
	for i, row := range rows {
		for _, c := range row {
			if strings.Contains(c, metricTonMarker) {
				return i
			}
		}
	}
	return -1
}

// resolveColumns locates the header row following the section marker and
// maps header names to column indices. Returns the layout and the index
// of the first data row.
func resolveColumns(rows [][]string, from int) (columnLayout, int, error) {
	for i := from; i < len(rows) && i < from+5; i++ {
		layout := columnLayout{productID: -1, productName: -1, basis: -1, volume: -1, total: -1, count: -1}
		for col, c := range rows[i] {
			flat := strings.Join(strings.Fields(c), " ")
			switch {
			case strings.Contains(flat, headerVolume):
				layout.volume = col
			case strings.Contains(flat, headerTotal):
				layout.total = col
			case strings.Contains(flat, headerCount):
				layout.count = col
			case strings.Contains(flat, headerBasis):
				layout.basis = col
			case strings.Contains(flat, headerProductName):
				layout.productName = col
			case strings.Contains(flat, headerProductID):
				layout.productID = col
			}
		}
		if layout.complete() {
			// Skip the sub-header row of column numbers when present.
			dataStart := i + 1
			if dataStart < len(rows) && isNumericRow(rows[dataStart]) {
				dataStart++
			}
			return layout, dataStart, nil
		}
	}
	return columnLayout{}, 0, fmt.Errorf("bulletin header row not found after section marker")
}

func (l columnLayout) complete() bool {
	return l.productID >= 0 && l.productName >= 0 && l.basis >= 0 &&
		l.volume >= 0 && l.total >= 0 && l.count >= 0
}

// isNumericRow reports whether every non-empty cell is an integer, which
// identifies the "1 2 3 ..." column-numbering row some bulletins carry.
func isNumericRow(row []string) bool {
	seen := false
	for _, c := range row {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, err := strconv.Atoi(c); err != nil {
			return false
		}
		seen = true
	}
	return seen
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// parseCount handles thousand separators and stray whitespace the
// bulletin uses in numeric cells.
func parseCount(s string) (int, error) {
	s = strings.NewReplacer(" ", "", " ", "", ",", "").Replace(s)
	if s == "" || s == "-" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
