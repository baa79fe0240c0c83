// Package normalize turns a raw order export into UTF-8 lines with a
// verified header.
package normalize

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
)

type Encoding string

const (
	Auto     Encoding = "auto"
	ShiftJIS Encoding = "shift_jis"
	UTF8     Encoding = "utf-8"
	EUCJP    Encoding = "euc-jp"
)

// probeOrder is the fixed priority used when the encoding is auto-detected.
var probeOrder = []Encoding{ShiftJIS, UTF8, EUCJP}

var encodingAliases = map[string]Encoding{
	"":          Auto,
	"auto":      Auto,
	"shift_jis": ShiftJIS,
	"shift-jis": ShiftJIS,
	"sjis":      ShiftJIS,
	"cp932":     ShiftJIS,
	"utf-8":     UTF8,
	"utf8":      UTF8,
	"euc-jp":    EUCJP,
	"eucjp":     EUCJP,
}

// ParseEncoding maps a user supplied encoding name to an Encoding.
func ParseEncoding(name string) (Encoding, error) {
	enc, ok := encodingAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownEncoding, name)
	}
	return enc, nil
}

// Schema is the ordered header every order export must carry.
var Schema = []string{
	"法人CD", "法人名",
	"事業所CD", "事業所名",
	"給食業者CD", "給食業者名",
	"給食区分CD", "給食区分名",
	"配達日",
	"部門CD", "部門名",
	"社員CD", "社員名",
	"雇用形態CD", "雇用形態名",
	"給食メニューCD", "給食メニュー名",
	"数量", "単価", "金額",
	"備考", "受取時間", "連携CD",
}

// Column positions in Schema.
const (
	ColCompanyCode = iota
	ColCompanyName
	ColSiteCode
	ColSiteName
	ColSupplierCode
	ColSupplierName
	ColMealCategoryCode
	ColMealCategoryName
	ColDeliveryDate
	ColDepartmentCode
	ColDepartmentName
	ColUserCode
	ColUserName
	ColEmploymentTypeCode
	ColEmploymentTypeName
	ColProductCode
	ColProductName
	ColQuantity
	ColUnitPrice
	ColAmount
	ColNotes
	ColReceiptTime
	ColCoopCode
)

type Limits struct {
	// MaxRows caps the number of non-blank data lines. Zero disables the check.
	MaxRows int
}

// Line is a non-blank data line. Row counts from 1 at the line after the
// header, blank lines included, so it matches what a spreadsheet shows.
type Line struct {
	Row  int
	Text string
}

type Document struct {
	Encoding Encoding
	Header   []string
	Lines    []Line
}

// Normalize decodes payload, checks the header against Schema and returns
// the data lines. Any error aborts the whole file.
func Normalize(payload []byte, hint Encoding, limits Limits) (*Document, error) {
	enc, text, err := decode(payload, hint)
	if err != nil {
		return nil, err
	}

	text = strings.TrimPrefix(text, "\ufeff")
	physical := splitLines(text)
	if len(physical) == 0 || strings.TrimSpace(physical[0]) == "" {
		return nil, domain.ErrEmptyFile
	}

	header, err := ParseRecord(physical[0])
	if err != nil {
		return nil, &domain.SchemaMismatchError{Expected: Schema, Actual: []string{physical[0]}}
	}
	if !headerMatches(header) {
		return nil, &domain.SchemaMismatchError{Expected: Schema, Actual: header}
	}

	lines := make([]Line, 0, len(physical)-1)
	for i, raw := range physical[1:] {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		lines = append(lines, Line{Row: i + 1, Text: raw})
	}
	if limits.MaxRows > 0 && len(lines) > limits.MaxRows {
		return nil, fmt.Errorf("%w: %d rows, limit %d", domain.ErrTooManyRows, len(lines), limits.MaxRows)
	}

	return &Document{Encoding: enc, Header: header, Lines: lines}, nil
}

// ParseRecord tokenizes one CSV line honouring quotes and trims every cell.
func ParseRecord(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, nil
}

func headerMatches(header []string) bool {
	if len(header) != len(Schema) {
		return false
	}
	for i := range Schema {
		if header[i] != Schema[i] {
			return false
		}
	}
	return true
}

func decode(payload []byte, hint Encoding) (Encoding, string, error) {
	if hint == "" {
		hint = Auto
	}
	if hint != Auto {
		if _, ok := codecs[hint]; !ok {
			return "", "", fmt.Errorf("%w: %q", domain.ErrUnknownEncoding, hint)
		}
		text, ok := decodeStrict(hint, payload)
		if !ok {
			return "", "", fmt.Errorf("%w: payload is not valid %s", domain.ErrEncodingUnresolved, hint)
		}
		return hint, text, nil
	}

	// Several candidates can decode the same bytes; a candidate whose header
	// already matches the schema wins over one that merely decodes cleanly.
	var (
		firstEnc  Encoding
		firstText string
	)
	for _, enc := range probeOrder {
		text, ok := decodeStrict(enc, payload)
		if !ok {
			continue
		}
		if firstEnc == "" {
			firstEnc, firstText = enc, text
		}
		if header, err := ParseRecord(firstLine(text)); err == nil && headerMatches(header) {
			return enc, text, nil
		}
	}
	if firstEnc == "" {
		return "", "", domain.ErrEncodingUnresolved
	}
	return firstEnc, firstText, nil
}

var codecs = map[Encoding]encoding.Encoding{
	ShiftJIS: japanese.ShiftJIS,
	UTF8:     unicode.UTF8,
	EUCJP:    japanese.EUCJP,
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeStrict decodes payload and accepts the result only when it contains
// no replacement characters and encodes back to the identical bytes.
func decodeStrict(enc Encoding, payload []byte) (string, bool) {
	switch enc {
	case UTF8:
		if !utf8.Valid(payload) {
			return "", false
		}
		return string(payload), true
	case ShiftJIS:
		if bytes.HasPrefix(payload, utf8BOM) || isMultibyteUTF8(payload) {
			return "", false
		}
	}

	codec := codecs[enc]
	out, err := codec.NewDecoder().Bytes(payload)
	if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	back, err := codec.NewEncoder().Bytes(out)
	if err != nil || !bytes.Equal(back, payload) {
		return "", false
	}
	return string(out), true
}

// isMultibyteUTF8 reports whether payload is valid UTF-8 containing at least
// one non-ASCII rune.
func isMultibyteUTF8(payload []byte) bool {
	if !utf8.Valid(payload) {
		return false
	}
	for _, b := range payload {
		if b >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func firstLine(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		return text[:i]
	}
	return text
}
