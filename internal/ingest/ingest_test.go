package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestParse_HeadersAndSample(t *testing.T) {
	in := "id,email,,amount\n1,a@x.io,foo,10.5\n\n2,b@x.io\n3,c@x.io,bar,7,extra\n"
	sheet, err := Parse(strings.NewReader(in), ',', Options{SampleRows: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "email", "column_3", "amount"}, sheet.Headers)
	assert.Equal(t, 3, sheet.TotalRows)
	assert.Equal(t, [][]string{
		{"1", "a@x.io", "foo", "10.5"},
		{"2", "b@x.io", "", ""},
	}, sheet.Rows)
}

func TestParse_TSVAndBOM(t *testing.T) {
	in := "\ufeffName\tCity\nAda\tLondon\n"
	sheet, err := Parse(strings.NewReader(in), '\t', Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "City"}, sheet.Headers)
	assert.Equal(t, [][]string{{"Ada", "London"}}, sheet.Rows)
}

func TestParse_MaxColumns(t *testing.T) {
	sheet, err := Parse(strings.NewReader("a,b,c\n1,2,3\n"), ',', Options{MaxColumns: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, sheet.Headers)
	assert.Equal(t, [][]string{{"1", "2"}}, sheet.Rows)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(strings.NewReader(""), ',', Options{})
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestParseFile_Formats(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "Customer Orders.csv", "id\n1\n")
	tsvPath := writeFile(t, dir, "2024-products.tsv", "sku\tname\nA1\tWidget\n")
	corruptPath := writeFile(t, dir, "book.xlsx", "PK")
	xlsPath := writeFile(t, dir, "legacy.xls", "x")

	sheets, err := ParseFile(csvPath, Options{})
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	assert.Equal(t, "customer_orders", sheets[0].Name)
	assert.Equal(t, csvPath, sheets[0].Source)

	sheets, err = ParseFile(tsvPath, Options{})
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	assert.Equal(t, "t_2024_products", sheets[0].Name)
	assert.Equal(t, []string{"sku", "name"}, sheets[0].Headers)

	_, err = ParseFile(corruptPath, Options{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedFormat)

	_, err = ParseFile(xlsPath, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = ParseFile(filepath.Join(dir, "missing.csv"), Options{})
	assert.Error(t, err)

	assert.True(t, Supported("a.XLSX"))
	assert.False(t, Supported("a.xls"))
}

// writeWorkbook saves a workbook with an orders tab, a customers tab and an
// empty tab.
func writeWorkbook(t *testing.T, dir, name string) string {
	t.Helper()
	wb := excelize.NewFile()
	defer wb.Close()

	require.NoError(t, wb.SetSheetName("Sheet1", "Orders"))
	require.NoError(t, wb.SetSheetRow("Orders", "A1", &[]any{"id", "", "amount"}))
	require.NoError(t, wb.SetSheetRow("Orders", "A2", &[]any{1, "web", 10.5}))
	require.NoError(t, wb.SetSheetRow("Orders", "A4", &[]any{2}))
	require.NoError(t, wb.SetSheetRow("Orders", "A5", &[]any{3, "store", 7}))

	_, err := wb.NewSheet("Customer List")
	require.NoError(t, err)
	require.NoError(t, wb.SetSheetRow("Customer List", "A1", &[]any{"id", "email"}))
	require.NoError(t, wb.SetSheetRow("Customer List", "A2", &[]any{1, "a@x.io"}))

	_, err = wb.NewSheet("Empty")
	require.NoError(t, err)

	p := filepath.Join(dir, name)
	require.NoError(t, wb.SaveAs(p))
	return p
}

func TestParseFile_Workbook(t *testing.T) {
	p := writeWorkbook(t, t.TempDir(), "shop.xlsx")

	sheets, err := ParseFile(p, Options{SampleRows: 2})
	require.NoError(t, err)
	require.Len(t, sheets, 2)

	orders := sheets[0]
	assert.Equal(t, "orders", orders.Name)
	assert.Equal(t, p+"#Orders", orders.Source)
	assert.Equal(t, []string{"id", "column_2", "amount"}, orders.Headers)
	assert.Equal(t, 3, orders.TotalRows)
	assert.Equal(t, [][]string{
		{"1", "web", "10.5"},
		{"2", "", ""},
	}, orders.Rows)

	customers := sheets[1]
	assert.Equal(t, "customer_list", customers.Name)
	assert.Equal(t, []string{"id", "email"}, customers.Headers)
	assert.Equal(t, [][]string{{"1", "a@x.io"}}, customers.Rows)
}

func TestParseFile_WorkbookAllEmpty(t *testing.T) {
	wb := excelize.NewFile()
	p := filepath.Join(t.TempDir(), "blank.xlsx")
	require.NoError(t, wb.SaveAs(p))
	require.NoError(t, wb.Close())

	_, err := ParseFile(p, Options{})
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestParseFiles_KeepsOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, n := range []string{"c.csv", "a.csv", "b.csv", "a.tsv"} {
		paths = append(paths, writeFile(t, dir, n, "x\n1\n"))
	}

	res, err := ParseFiles(context.Background(), paths, Options{Parallelism: 2})
	require.NoError(t, err)
	require.Len(t, res.Sheets, 4)
	assert.Equal(t, []string{"c", "a", "b", "a_2"}, sheetNames(res))
	assert.NotNil(t, res.Sheet("b"))
	assert.Nil(t, res.Sheet("zzz"))
}

func TestParseFiles_FlattensWorkbooks(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "orders.csv", "x\n1\n"),
		writeWorkbook(t, dir, "shop.xlsx"),
		writeFile(t, dir, "z.csv", "x\n1\n"),
	}

	res, err := ParseFiles(context.Background(), paths, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "orders_2", "customer_list", "z"}, sheetNames(res))
}

func TestParseFiles_SuffixedNamesStayUnique(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "a.csv", "x\n1\n"),
		writeFile(t, dir, "a.tsv", "x\n1\n"),
		writeFile(t, dir, "a_2.csv", "x\n1\n"),
		writeFile(t, dir, "a.tab", "x\n1\n"),
	}

	res, err := ParseFiles(context.Background(), paths, Options{})
	require.NoError(t, err)
	names := sheetNames(res)
	assert.Equal(t, []string{"a", "a_3", "a_2", "a_4"}, names)

	seen := make(map[string]bool)
	for _, n := range names {
		assert.False(t, seen[n], "duplicate sheet name %q", n)
		seen[n] = true
	}
}

func TestUniqueNames(t *testing.T) {
	assert.Equal(t, []string{"a", "a_3", "a_2"}, UniqueNames([]string{"a", "a", "a_2"}))
	assert.Equal(t, []string{"b", "b_2", "b_3"}, UniqueNames([]string{"b", "b", "b"}))
	assert.Empty(t, UniqueNames(nil))
}

func TestParseFiles_FailsOnBadFile(t *testing.T) {
	dir := t.TempDir()
	paths := []string{writeFile(t, dir, "ok.csv", "x\n1\n"), writeFile(t, dir, "bad.json", "{}")}
	_, err := ParseFiles(context.Background(), paths, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func sheetNames(res *Result) []string {
	names := make([]string, len(res.Sheets))
	for i, s := range res.Sheets {
		names[i] = s.Name
	}
	return names
}

func TestIdentifier(t *testing.T) {
	cases := map[string]string{
		"Orders":          "orders",
		"order items (1)": "order_items_1",
		"__x__":           "x",
		"!!!":             "sheet",
		"9lives":          "t_9lives",
		"café":            "caf",
	}
	for in, want := range cases {
		assert.Equal(t, want, Identifier(in), in)
	}
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var got []string
	w, err := NewWatcher(dir, 50*time.Millisecond, func(_ context.Context, p string) {
		mu.Lock()
		got = append(got, filepath.Base(p))
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	p := filepath.Join(dir, "orders.csv")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(p, []byte("id\n1\n"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"orders.csv"}, got)
	mu.Unlock()
	assert.Equal(t, 1, w.Stats().Triggered)
}

func TestWatcher_RejectsMissingDir(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "nope"), 0, func(context.Context, string) {})
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
	w.Stop()
}
