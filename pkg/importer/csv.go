package importer

import (
	"encoding/csv"
	"io"

	"github.com/vertica-tools/vload/pkg/errors"
)

// CSVReader adapts a CSV stream with a header row to the Reader interface.
// Every data row becomes a Record keyed by the header fields.
type CSVReader struct {
	r      *csv.Reader
	header []string
}

// NewCSVReader reads the header row and returns a Reader over the remaining
// rows. comma is the field separator; 0 keeps the default comma.
func NewCSVReader(r io.Reader, comma rune) (*CSVReader, error) {
	cr := csv.NewReader(r)
	if comma != 0 {
		cr.Comma = comma
	}
	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New(errors.ErrorTypeData, "csv stream is empty")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "reading csv header")
	}
	return &CSVReader{r: cr, header: header}, nil
}

// Header returns the header fields.
func (c *CSVReader) Header() []string { return c.header }

func (c *CSVReader) Next() (Record, error) {
	row, err := c.r.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "reading csv row")
	}
	rec := make(Record, len(c.header))
	for i, field := range c.header {
		rec[field] = row[i]
	}
	return rec, nil
}
