package crime

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Communes resolves geographic codes to commune names. It is loaded once per
// run and passed explicitly to Normalize; nothing is cached globally.
type Communes struct {
	names   map[string]string
	primary map[string]bool // code already resolved from a TYPECOM=COM row
}

// LoadCommunes reads the commune reference CSV at path.
func LoadCommunes(path string) (*Communes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("crime: open communes: %w", err)
	}
	defer f.Close()
	return ReadCommunes(f)
}

// ReadCommunes parses a comma-separated reference table with at least the
// COM and NCCENR columns. When TYPECOM is present, the row typed "COM" wins
// over delegated or associated communes sharing the same code; otherwise the
// first row per code is kept.
func ReadCommunes(r io.Reader) (*Communes, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("crime: communes header: %w", err)
	}
	cols := indexHeader(header)
	codeIdx, ok := cols["COM"]
	if !ok {
		return nil, errors.New("crime: communes: missing COM column")
	}
	nameIdx, ok := cols["NCCENR"]
	if !ok {
		return nil, errors.New("crime: communes: missing NCCENR column")
	}
	typeIdx, hasType := cols["TYPECOM"]

	c := &Communes{names: make(map[string]string), primary: make(map[string]bool)}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("crime: communes: %w", err)
		}
		code := PadCode(field(rec, codeIdx))
		if code == "" {
			continue
		}
		isPrimary := hasType && field(rec, typeIdx) == "COM"
		if _, seen := c.names[code]; seen && (c.primary[code] || !isPrimary) {
			continue
		}
		c.names[code] = field(rec, nameIdx)
		c.primary[code] = isPrimary
	}
	return c, nil
}

// Name returns the commune name for a 5-character code.
func (c *Communes) Name(code string) (string, bool) {
	if c == nil {
		return "", false
	}
	n, ok := c.names[code]
	return n, ok
}

// Len returns the number of distinct codes.
func (c *Communes) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

func indexHeader(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = cleanHeader(h)
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	return cols
}

// cleanHeader strips a UTF-8 BOM and stray quotes left by LazyQuotes.
func cleanHeader(h string) string {
	h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
	return strings.Trim(h, `" `)
}

func field(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}
