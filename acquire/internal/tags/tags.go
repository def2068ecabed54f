// Package tags extracts a normalized date from free-form key/value metadata
// such as OpenStreetMap tags.
package tags

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}`)

// dateKeys are matched case-insensitively as substrings of tag keys.
var dateKeys = []string{"date", "start"}

// Pair is one tag.
type Pair struct {
	Key   string
	Value any
}

// Tags is an ordered tag list. Order matters: the first matching key wins.
type Tags []Pair

// UnmarshalJSON decodes a JSON object keeping key order. A JSON string is
// read as a serialized object through Parse. null, other value kinds and
// strings that do not parse decode to nil.
func (t *Tags) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if s, ok := tok.(string); ok {
		parsed, err := Parse(s)
		if err != nil {
			parsed = nil
		}
		*t = parsed
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		*t = nil
		return nil
	}

	var out Tags
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("tags: expected key, got %v", kt)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		out = append(out, Pair{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*t = out
	return nil
}

// MarshalJSON encodes the tags as a JSON object in their original order.
func (t Tags) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Parse decodes a tag object serialized with single quotes, as produced by
// tabular exports of tag dictionaries. Single quotes are turned into double
// quotes before decoding.
func Parse(s string) (Tags, error) {
	var t Tags
	if err := json.Unmarshal([]byte(strings.ReplaceAll(s, "'", `"`)), &t); err != nil {
		return nil, fmt.Errorf("tags: parse: %w", err)
	}
	return t, nil
}

// ExtractDate scans keys containing "date" or "start" and returns the
// YYYY-MM prefix of the first such value that starts with one.
func ExtractDate(t Tags) (string, bool) {
	for _, p := range t {
		if !isDateKey(p.Key) {
			continue
		}
		s, ok := p.Value.(string)
		if !ok {
			continue
		}
		if m := datePattern.FindString(s); m != "" {
			return m, true
		}
	}
	return "", false
}

// ExtractDateString is ExtractDate over a serialized tag object.
// Malformed input yields no date.
func ExtractDateString(s string) (string, bool) {
	t, err := Parse(s)
	if err != nil {
		return "", false
	}
	return ExtractDate(t)
}

// ExtractDateMap is ExtractDate over a plain map; keys are scanned in sorted
// order so the result does not depend on map iteration.
func ExtractDateMap(m map[string]string) (string, bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	t := make(Tags, 0, len(keys))
	for _, k := range keys {
		t = append(t, Pair{Key: k, Value: m[k]})
	}
	return ExtractDate(t)
}

func isDateKey(key string) bool {
	k := strings.ToLower(key)
	for _, dk := range dateKeys {
		if strings.Contains(k, dk) {
			return true
		}
	}
	return false
}
