// Package crime normalizes the communal crime-statistics table into the
// canonical schema City, Year, Cases, Population.
//
// The raw table uses the French locale: ';' separates fields and ',' is the
// decimal separator. Years are two digits, commune codes may have lost their
// leading zero, and rows whose published value is "ndiff" carry their figures
// in the supplementary columns.
package crime

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/vigie/acquire/internal/table"
)

// Header is the canonical column set, in order.
var Header = []string{"City", "Year", "Cases", "Population"}

// NotPublished marks rows whose figures live in the supplementary columns.
const NotPublished = "ndiff"

const (
	colYear       = "annee"
	colPublished  = "valeur.publiée"
	colFacts      = "faits"
	colFactsExtra = "complementinfoval"
	colPopulation = "POP"
	codePrefix    = "CODGEO"
)

// Record is one canonical row: one commune and one year.
type Record struct {
	City       *string // nil when the code is absent from the reference table
	Year       int
	Cases      float64
	Population int64
}

// Stats summarizes a normalization.
type Stats struct {
	RawRows     int `json:"raw_rows"`
	SkippedRows int `json:"skipped_rows"` // unparseable year or empty code
	Records     int `json:"records"`
	Unmatched   int `json:"unmatched"` // records without a commune name
}

// Normalize reads the raw table at rawPath, resolves codes through communes,
// and writes the canonical CSV to outPath.
func Normalize(rawPath string, communes *Communes, outPath string) (Stats, error) {
	f, err := os.Open(rawPath)
	if err != nil {
		return Stats{}, fmt.Errorf("crime: open raw: %w", err)
	}
	defer f.Close()

	recs, stats, err := NormalizeReader(f, communes)
	if err != nil {
		return stats, err
	}
	if err := Write(outPath, recs); err != nil {
		return stats, err
	}
	return stats, nil
}

type groupKey struct {
	code string
	year int
}

type group struct {
	cases      float64
	population float64
}

// NormalizeReader applies the normalization to a raw table and returns the
// canonical records sorted by commune code then year.
func NormalizeReader(r io.Reader, communes *Communes) ([]Record, Stats, error) {
	var stats Stats

	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, stats, fmt.Errorf("crime: read header: %w", err)
	}
	cols := indexHeader(header)

	codeIdx := -1
	for i, h := range header {
		if strings.HasPrefix(cleanHeader(h), codePrefix) {
			codeIdx = i
			break
		}
	}
	if codeIdx < 0 {
		return nil, stats, errors.New("crime: missing CODGEO column")
	}
	yearIdx, ok := cols[colYear]
	if !ok {
		return nil, stats, errors.New("crime: missing annee column")
	}
	factsIdx, ok := cols[colFacts]
	if !ok {
		return nil, stats, errors.New("crime: missing faits column")
	}
	publishedIdx := lookup(cols, colPublished)
	extraIdx := lookup(cols, colFactsExtra)
	popIdx := lookup(cols, colPopulation)

	groups := make(map[groupKey]*group)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("crime: csv parse: %w", err)
		}
		stats.RawRows++

		code := PadCode(field(rec, codeIdx))
		rawYear, err := strconv.Atoi(field(rec, yearIdx))
		year, valid := NormalizeYear(rawYear)
		if code == "" || err != nil || !valid {
			stats.SkippedRows++
			continue
		}

		factsCol := factsIdx
		if field(rec, publishedIdx) == NotPublished && extraIdx >= 0 {
			factsCol = extraIdx
		}

		k := groupKey{code: code, year: year}
		g := groups[k]
		if g == nil {
			g = &group{}
			groups[k] = g
		}
		if v, ok := ParseNumber(field(rec, factsCol)); ok {
			g.cases += v
		}
		if v, ok := ParseNumber(field(rec, popIdx)); ok {
			g.population += v
		}
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].code != keys[j].code {
			return keys[i].code < keys[j].code
		}
		return keys[i].year < keys[j].year
	})

	recs := make([]Record, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		rec := Record{Year: k.year, Cases: g.cases, Population: int64(math.Round(g.population))}
		if name, ok := communes.Name(k.code); ok {
			rec.City = &name
		} else {
			stats.Unmatched++
		}
		recs = append(recs, rec)
	}
	stats.Records = len(recs)
	return recs, stats, nil
}

// Write persists records as the canonical CSV, without an index column.
func Write(path string, recs []Record) error {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			table.Null(r.City),
			strconv.Itoa(r.Year),
			strconv.FormatFloat(r.Cases, 'f', -1, 64),
			strconv.FormatInt(r.Population, 10),
		})
	}
	if err := table.Write(path, Header, rows); err != nil {
		return fmt.Errorf("crime: %w", err)
	}
	return nil
}

// NormalizeYear turns a two-digit year into 2000+y. Four-digit years pass
// through unchanged; anything else is invalid.
func NormalizeYear(y int) (int, bool) {
	switch {
	case y >= 0 && y <= 99:
		return 20*100 + y, true
	case y >= 1000 && y <= 9999:
		return y, true
	}
	return 0, false
}

// PadCode left-pads a commune code with zeros to 5 characters.
// Longer codes are returned unchanged.
func PadCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" || len(code) >= 5 {
		return code
	}
	return strings.Repeat("0", 5-len(code)) + code
}

// ParseNumber parses a French-locale number. Invalid tokens yield ok=false
// rather than an error so a bad cell never rejects its row.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func lookup(cols map[string]int, name string) int {
	if i, ok := cols[name]; ok {
		return i
	}
	return -1
}
