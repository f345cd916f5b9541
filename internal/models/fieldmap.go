// Package models defines the data structures shared by the classifier,
// the currency normalizer and the batch driver.
//
// Raw bank-statement rows arrive as flat key/value records whose keys use
// whatever casing the row source produced (DocProdGroup, docprodgroup,
// DOCPRODGROUP). FieldMap lower-cases every key exactly once when it is
// built, so all later lookups are case-insensitive without scattering
// strings.ToLower calls through the code base.
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// FieldMap is a case-insensitive mapping from column name to a scalar value
// (string, number, bool or nil).
type FieldMap map[string]interface{}

// NewFieldMap copies raw into a FieldMap with normalized keys. Raw keys are
// visited in sorted order, so when two keys differ only by case the one that
// sorts last wins; an all-lower-case key beats its mixed-case variants.
func NewFieldMap(raw map[string]interface{}) FieldMap {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fm := make(FieldMap, len(raw))
	for _, k := range keys {
		fm[NormalizeKey(k)] = raw[k]
	}
	return fm
}

// NormalizeKey returns the canonical form of a column name.
func NormalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Set stores a value under the normalized key.
func (f FieldMap) Set(name string, value interface{}) {
	f[NormalizeKey(name)] = value
}

// Get returns the value stored under name. A present key holding nil is
// reported as missing.
func (f FieldMap) Get(name string) (interface{}, bool) {
	v, ok := f[NormalizeKey(name)]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns the trimmed string form of a field, or "" when the field
// is absent or null.
func (f FieldMap) String(name string) string {
	v, ok := f.Get(name)
	if !ok {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return strings.TrimSpace(s)
}

// IsBlank reports whether a field is absent, null, or whitespace only.
func (f FieldMap) IsBlank(name string) bool {
	return f.String(name) == ""
}

// Decimal parses a numeric field. The second result is false when the field
// is blank or not a number.
func (f FieldMap) Decimal(name string) (decimal.Decimal, bool) {
	v, ok := f.Get(name)
	if !ok {
		return decimal.Zero, false
	}
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int, int32, int64:
		return decimal.NewFromInt(cast.ToInt64(n)), true
	}
	s := f.String(name)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := ParseDecimalFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Bool interprets a field as a boolean flag. Absent and unparsable values are
// false.
func (f FieldMap) Bool(name string) bool {
	v, ok := f.Get(name)
	if !ok {
		return false
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false
	}
	return b
}

// Time parses a date/time field using the formats bank exports commonly use.
func (f FieldMap) Time(name string) (time.Time, bool) {
	v, ok := f.Get(name)
	if !ok {
		return time.Time{}, false
	}
	if t, ok := v.(time.Time); ok {
		return t, true
	}
	t, err := ParseTimeWithFormats(f.String(name))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Clone returns a shallow copy of the map.
func (f FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ParseDecimalFromString parses a decimal value from string with validation
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	// Thousand separators and spaces used by bank exports
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTimeWithFormats attempts to parse time from string using multiple common formats
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"02.01.2006",
		"02.01.2006 15:04:05",
		"2006/01/02",
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}
