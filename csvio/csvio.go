// Package csvio reads batch submissions from the product CSV format and
// renders the terminal export. The input format is
//
//	S. No.,Product Name,Input Image Urls
//	1,SKU1,https://cdn/a.jpg,https://cdn/b.jpg
//
// The URL column is unquoted and itself comma-separated, so rows are
// split on the first two commas only instead of going through a
// quoting-aware CSV reader.
package csvio

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Rohithcheryala/Image-Processing-API/batch"
)

// Header is the required first line of a submission file.
const Header = "S. No.,Product Name,Input Image Urls"

// ExportHeader is the first line of the terminal export.
const ExportHeader = "S. No.,Product Name,Input Image Urls,Output Image Urls"

// ItemSpec is one parsed submission row.
type ItemSpec struct {
	Sequence int
	Name     string
	Refs     []string
}

// ParseError reports where in the file a row was rejected.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("csvio: line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads a submission file into item specs. Rows keep their file
// order; blank lines are skipped.
func Parse(r io.Reader) ([]ItemSpec, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("csvio: read: %w", err)
		}
		return nil, fmt.Errorf("csvio: empty file")
	}
	line++
	if got := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff")); !strings.EqualFold(got, Header) {
		return nil, &ParseError{Line: line, Err: fmt.Errorf("bad header %q, want %q", got, Header)}
	}

	var specs []ItemSpec
	for sc.Scan() {
		line++
		row := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(row) == "" {
			continue
		}

		spec, err := parseRow(row)
		if err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}
		specs = append(specs, spec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("csvio: read: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("csvio: no data rows")
	}
	return specs, nil
}

// parseRow splits one data row on its first two commas.
func parseRow(row string) (ItemSpec, error) {
	parts := strings.SplitN(row, ",", 3)
	if len(parts) != 3 {
		return ItemSpec{}, fmt.Errorf("expected 3 columns, got %d", len(parts))
	}

	seq, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return ItemSpec{}, fmt.Errorf("serial number %q is not an integer", strings.TrimSpace(parts[0]))
	}

	name := strings.TrimSpace(parts[1])
	if name == "" {
		return ItemSpec{}, fmt.Errorf("empty product name")
	}

	var refs []string
	for _, raw := range strings.Split(parts[2], ",") {
		ref := strings.TrimSpace(raw)
		if ref == "" {
			continue
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return ItemSpec{}, fmt.Errorf("no input urls")
	}

	return ItemSpec{Sequence: seq, Name: name, Refs: refs}, nil
}

// Render writes the terminal export, one row per item in the given
// order. outputURL maps a stored output key to the URL published to the
// caller; nil writes keys as-is. Rows are written raw, matching the
// unquoted input format.
func Render(w io.Writer, items []*batch.Item, outputURL func(key string) string) error {
	if outputURL == nil {
		outputURL = func(key string) string { return key }
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(ExportHeader + "\n"); err != nil {
		return fmt.Errorf("csvio: write: %w", err)
	}

	for _, it := range items {
		outputs := make([]string, len(it.OutputRefs))
		for i, key := range it.OutputRefs {
			outputs[i] = outputURL(key)
		}
		row := fmt.Sprintf("%d,%s,%s,%s\n",
			it.Sequence,
			it.Name,
			strings.Join(it.InputRefs, ","),
			strings.Join(outputs, ","),
		)
		if _, err := bw.WriteString(row); err != nil {
			return fmt.Errorf("csvio: write: %w", err)
		}
	}
	return bw.Flush()
}
