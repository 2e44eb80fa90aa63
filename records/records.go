package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Column names of the price survey export.
const (
	FieldProductName  = "상품명"
	FieldSurveyDate   = "조사일"
	FieldPrice        = "판매가격"
	FieldSeller       = "판매업소"
	FieldManufacturer = "제조사"
	FieldOnSale       = "세일여부"
	FieldOnePlusOne   = "원플러스원"
)

// Fields lists the columns in the order they appear in a formatted record.
var Fields = []string{
	FieldProductName,
	FieldSurveyDate,
	FieldPrice,
	FieldSeller,
	FieldManufacturer,
	FieldOnSale,
	FieldOnePlusOne,
}

// SourceRecord is one row of the survey. Row is the 1-based data row number, the header not counted.
type SourceRecord struct {
	Row          int
	ProductName  string
	SurveyDate   string
	Price        string
	Seller       string
	Manufacturer string
	OnSale       string
	OnePlusOne   string
}

func (r SourceRecord) values() []string {
	return []string{r.ProductName, r.SurveyDate, r.Price, r.Seller, r.Manufacturer, r.OnSale, r.OnePlusOne}
}

// Content renders the record as one "field: value" line per column.
func (r SourceRecord) Content() string {
	var b strings.Builder
	for i, value := range r.values() {
		b.WriteString(Fields[i])
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\n")
	}
	return b.String()
}

// Metadata returns a fresh map of the seven columns.
func (r SourceRecord) Metadata() map[string]string {
	meta := make(map[string]string, len(Fields))
	for i, value := range r.values() {
		meta[Fields[i]] = value
	}
	return meta
}

// Load reads every row of the CSV at path. encoding is a WHATWG label such as "euc-kr" or "utf-8"; a UTF-8
// byte order mark overrides it.
func Load(path string, encoding string) ([]SourceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	records, err := Read(f, encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return records, nil
}

// Read parses CSV rows keyed by the header line. Columns missing from the header or from a short row are
// left empty.
func Read(r io.Reader, encoding string) ([]SourceRecord, error) {
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", encoding, err)
	}

	reader := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, seen := columns[name]; !seen {
			columns[name] = i
		}
	}

	var records []SourceRecord
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(records)+1, err)
		}

		get := func(field string) string {
			i, ok := columns[field]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}
		records = append(records, SourceRecord{
			Row:          len(records) + 1,
			ProductName:  get(FieldProductName),
			SurveyDate:   get(FieldSurveyDate),
			Price:        get(FieldPrice),
			Seller:       get(FieldSeller),
			Manufacturer: get(FieldManufacturer),
			OnSale:       get(FieldOnSale),
			OnePlusOne:   get(FieldOnePlusOne),
		})
	}
	return records, nil
}
