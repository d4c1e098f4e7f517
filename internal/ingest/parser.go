// Package ingest reads tabular input files into sheets of headers and sample
// rows for prompt construction.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"dbtforge/internal/logging"
)

// ErrUnsupportedFormat is returned for file types the parser cannot read.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrEmptyFile is returned when a file has no header row.
var ErrEmptyFile = errors.New("file has no header row")

// Sheet is one table of input.
type Sheet struct {
	Name    string     `json:"name"`
	Source  string     `json:"source"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
	// TotalRows counts every data row in the file, not only the sampled ones.
	TotalRows int `json:"totalRows"`
}

// Result is the parsed input attached to a workbench.
type Result struct {
	Sheets []Sheet `json:"sheets"`
}

// Sheet returns the sheet named name, or nil.
func (r *Result) Sheet(name string) *Sheet {
	for i := range r.Sheets {
		if r.Sheets[i].Name == name {
			return &r.Sheets[i]
		}
	}
	return nil
}

// Options bound how much of each file is kept.
type Options struct {
	SampleRows  int
	MaxColumns  int
	Parallelism int
}

// DefaultOptions matches the default ingest configuration.
func DefaultOptions() Options {
	return Options{SampleRows: 20, MaxColumns: 200, Parallelism: 4}
}

// Supported reports whether path has an extension ParseFile can read.
func Supported(path string) bool {
	_, err := formatFor(path)
	return err == nil
}

type format int

const (
	formatCSV format = iota
	formatTSV
	formatWorkbook
)

func formatFor(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return formatCSV, nil
	case ".tsv", ".tab":
		return formatTSV, nil
	case ".xlsx", ".xlsm":
		return formatWorkbook, nil
	case ".xls":
		return 0, fmt.Errorf("%w: %s (legacy .xls, save the workbook as .xlsx or CSV)", ErrUnsupportedFormat, filepath.Base(path))
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// ParseFile reads one input file. Delimited files give one sheet; a workbook
// gives one sheet per non-empty worksheet, in workbook order.
func ParseFile(path string, opts Options) ([]Sheet, error) {
	f, err := formatFor(path)
	if err != nil {
		return nil, err
	}
	if f == formatWorkbook {
		return parseWorkbook(path, withDefaults(opts))
	}

	delim := ','
	if f == formatTSV {
		delim = '\t'
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	sheet, err := Parse(file, delim, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	sheet.Name = SheetName(path)
	sheet.Source = path
	return []Sheet{sheet}, nil
}

// Parse reads delimited text. The first non-blank record is the header row.
func Parse(r io.Reader, delim rune, opts Options) (Sheet, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	b := newSheetBuilder(withDefaults(opts))
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Sheet{}, fmt.Errorf("failed to read row %d: %w", b.line+1, err)
		}
		b.add(rec)
	}
	return b.result()
}

// parseWorkbook reads every worksheet of an .xlsx file. A single-sheet
// workbook is named after the file, otherwise each sheet after its tab.
func parseWorkbook(path string, opts Options) ([]Sheet, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer wb.Close()

	tabs := wb.GetSheetList()
	var sheets []Sheet
	for _, tab := range tabs {
		sheet, err := readWorksheet(wb, tab, opts)
		if errors.Is(err, ErrEmptyFile) {
			logging.IngestDebug("%s: worksheet %q is empty, skipped", filepath.Base(path), tab)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s[%s]: %w", filepath.Base(path), tab, err)
		}
		if len(tabs) == 1 {
			sheet.Name = SheetName(path)
		} else {
			sheet.Name = Identifier(tab)
		}
		sheet.Source = path + "#" + tab
		sheets = append(sheets, sheet)
	}
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrEmptyFile)
	}
	return sheets, nil
}

func readWorksheet(wb *excelize.File, tab string, opts Options) (Sheet, error) {
	rows, err := wb.Rows(tab)
	if err != nil {
		return Sheet{}, fmt.Errorf("failed to read worksheet: %w", err)
	}
	defer rows.Close()

	b := newSheetBuilder(opts)
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return Sheet{}, fmt.Errorf("failed to read row %d: %w", b.line+1, err)
		}
		b.add(cols)
	}
	if err := rows.Error(); err != nil {
		return Sheet{}, fmt.Errorf("failed to read worksheet: %w", err)
	}
	return b.result()
}

// sheetBuilder turns records into headers, a row sample and a row count.
type sheetBuilder struct {
	opts   Options
	sheet  Sheet
	header bool
	line   int
}

func newSheetBuilder(opts Options) *sheetBuilder {
	return &sheetBuilder{opts: opts, sheet: Sheet{Rows: make([][]string, 0, opts.SampleRows)}}
}

func (b *sheetBuilder) add(rec []string) {
	b.line++
	if blank(rec) {
		return
	}
	if !b.header {
		headers := cleanHeaders(rec)
		if len(headers) > b.opts.MaxColumns {
			headers = headers[:b.opts.MaxColumns]
		}
		b.sheet.Headers = headers
		b.header = true
		return
	}
	b.sheet.TotalRows++
	if len(b.sheet.Rows) < b.opts.SampleRows {
		b.sheet.Rows = append(b.sheet.Rows, fitRow(rec, len(b.sheet.Headers)))
	}
}

func (b *sheetBuilder) result() (Sheet, error) {
	if !b.header {
		return Sheet{}, ErrEmptyFile
	}
	return b.sheet, nil
}

// ParseFiles parses paths concurrently. Sheets keep the order of paths; the
// first failure cancels the rest.
func ParseFiles(ctx context.Context, paths []string, opts Options) (*Result, error) {
	opts = withDefaults(opts)
	timer := logging.StartTimer(logging.CategoryIngest, "parse files")
	defer timer.Stop()

	perFile := make([][]Sheet, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)

	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sheets, err := ParseFile(p, opts)
			if err != nil {
				return err
			}
			for _, s := range sheets {
				logging.IngestDebug("parsed %s: %d columns, %d rows (%d sampled)", s.Source, len(s.Headers), s.TotalRows, len(s.Rows))
			}
			perFile[i] = sheets
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var sheets []Sheet
	for _, fs := range perFile {
		sheets = append(sheets, fs...)
	}
	dedupeNames(sheets)
	logging.Ingest("parsed %d files into %d sheets", len(paths), len(sheets))
	return &Result{Sheets: sheets}, nil
}

// SheetName derives a model-safe identifier from a file name.
func SheetName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Identifier(base)
}

// Identifier lowercases s and replaces runs of other characters with "_".
func Identifier(s string) string {
	var sb strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			sb.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			sb.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.TrimSuffix(sb.String(), "_")
	if out == "" {
		return "sheet"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "t_" + out
	}
	return out
}

func withDefaults(o Options) Options {
	d := DefaultOptions()
	if o.SampleRows <= 0 {
		o.SampleRows = d.SampleRows
	}
	if o.MaxColumns <= 0 {
		o.MaxColumns = d.MaxColumns
	}
	if o.Parallelism <= 0 {
		o.Parallelism = d.Parallelism
	}
	return o
}

func cleanHeaders(h []string) []string {
	out := make([]string, len(h))
	for i, v := range h {
		v = strings.TrimSpace(strings.TrimPrefix(v, "\ufeff"))
		if v == "" {
			v = fmt.Sprintf("column_%d", i+1)
		}
		out[i] = v
	}
	return out
}

func fitRow(rec []string, width int) []string {
	row := make([]string, width)
	copy(row, rec)
	return row
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func dedupeNames(sheets []Sheet) {
	names := make([]string, len(sheets))
	for i := range sheets {
		names[i] = sheets[i].Name
	}
	for i, name := range UniqueNames(names) {
		sheets[i].Name = name
	}
}

// UniqueNames returns names with repeats suffixed _2, _3, ... The first
// occurrence keeps its name, and a suffixed name never takes one that
// appears anywhere in names.
func UniqueNames(names []string) []string {
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		taken[n] = false
	}
	next := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, name := range names {
		if !taken[name] {
			taken[name] = true
			out[i] = name
			continue
		}
		n := max(next[name], 2)
		candidate := fmt.Sprintf("%s_%d", name, n)
		for {
			if _, used := taken[candidate]; !used {
				break
			}
			n++
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		next[name] = n + 1
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}
