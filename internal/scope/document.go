package scope

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// OverviewField is a single key/value pair in the document overview.
// Overview keys keep their insertion order so projections stay stable.
type OverviewField struct {
	Key   string
	Value interface{}
}

// Record is one row of a tabular section.
type Record map[string]interface{}

// Section is a named record-array section of the scope document, e.g.
// "activities" or "resourcing_plan". Columns carry the key order of the
// first record seen at parse time; sections are assumed header-homogeneous.
type Section struct {
	Name    string
	Columns []string
	Records []Record
}

// Document is the canonical structured scope document: an overview plus
// zero or more tabular sections. Unknown non-tabular fields (for example
// project_summary or discount_percentage) are preserved verbatim in Extra.
type Document struct {
	Overview []OverviewField
	Sections []Section
	Extra    map[string]json.RawMessage
}

// OverviewValue returns the overview value for key, or nil if absent.
func (d *Document) OverviewValue(key string) interface{} {
	for _, f := range d.Overview {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

// Section returns the named tabular section, or nil.
func (d *Document) Section(name string) *Section {
	for i := range d.Sections {
		if d.Sections[i].Name == name {
			return &d.Sections[i]
		}
	}
	return nil
}

// Empty reports whether the document carries no content at all.
func (d *Document) Empty() bool {
	if d == nil {
		return true
	}
	return len(d.Overview) == 0 && len(d.Sections) == 0 && len(d.Extra) == 0
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return &Document{}
	}
	raw, err := d.MarshalJSON()
	if err != nil {
		// Marshal of an in-memory document cannot fail with valid values.
		panic(fmt.Sprintf("scope: clone marshal: %v", err))
	}
	clone, err := Parse(string(raw))
	if err != nil {
		panic(fmt.Sprintf("scope: clone parse: %v", err))
	}
	return clone
}

// Parse parses raw JSON text into a Document. Top-level keys whose value is
// an array of objects become tabular sections in text order; "overview"
// becomes the ordered overview; everything else is kept in Extra untouched.
func Parse(raw string) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, &ParseError{Err: fmt.Errorf("scope document must be a JSON object")}
	}

	doc := &Document{Extra: map[string]json.RawMessage{}}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		key := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, &ParseError{Err: fmt.Errorf("field %q: %w", key, err)}
		}

		switch {
		case key == "overview":
			fields, err := parseOverview(value)
			if err != nil {
				return nil, &ParseError{Err: fmt.Errorf("overview: %w", err)}
			}
			doc.Overview = fields
		case isRecordArray(value):
			section, err := parseSection(key, value)
			if err != nil {
				return nil, &ParseError{Err: fmt.Errorf("section %q: %w", key, err)}
			}
			doc.Sections = append(doc.Sections, section)
		default:
			// Compact so Extra values compare equal across round trips
			// regardless of the indentation they arrived with.
			var compacted bytes.Buffer
			if err := json.Compact(&compacted, value); err != nil {
				return nil, &ParseError{Err: fmt.Errorf("field %q: %w", key, err)}
			}
			doc.Extra[key] = json.RawMessage(compacted.Bytes())
		}
	}

	// Consume the closing brace and reject trailing garbage.
	if _, err := dec.Token(); err != nil {
		return nil, &ParseError{Err: err}
	}
	if dec.More() {
		return nil, &ParseError{Err: fmt.Errorf("trailing data after document")}
	}
	return doc, nil
}

// parseOverview decodes an overview object preserving key order.
func parseOverview(raw json.RawMessage) ([]OverviewField, error) {
	keys, err := objectKeyOrder(raw)
	if err != nil {
		return nil, err
	}
	var values map[string]interface{}
	if err := unmarshalNumbers(raw, &values); err != nil {
		return nil, err
	}
	fields := make([]OverviewField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, OverviewField{Key: k, Value: values[k]})
	}
	return fields, nil
}

func parseSection(name string, raw json.RawMessage) (Section, error) {
	var rawRecords []json.RawMessage
	if err := json.Unmarshal(raw, &rawRecords); err != nil {
		return Section{}, err
	}
	section := Section{Name: name}
	for i, rr := range rawRecords {
		var rec Record
		if err := unmarshalNumbers(rr, &rec); err != nil {
			return Section{}, fmt.Errorf("record %d: %w", i, err)
		}
		if i == 0 {
			keys, err := objectKeyOrder(rr)
			if err != nil {
				return Section{}, err
			}
			section.Columns = keys
		}
		section.Records = append(section.Records, rec)
	}
	return section, nil
}

// isRecordArray reports whether raw is a JSON array whose elements are all
// objects. An empty array is not treated as a section; without a first
// record there are no headers to derive, so it stays in Extra as-is.
func isRecordArray(raw json.RawMessage) bool {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return false
	}
	if len(elems) == 0 {
		return false
	}
	for _, e := range elems {
		trimmed := bytes.TrimSpace(e)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return false
		}
	}
	return true
}

// objectKeyOrder returns the keys of a JSON object in text order.
func objectKeyOrder(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object")
	}
	var keys []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		keys = append(keys, keyTok.(string))
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// unmarshalNumbers decodes with json.Number so numeric values survive a
// parse/serialize round trip without float reformatting.
func unmarshalNumbers(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// MarshalJSON serializes the document deterministically: overview first in
// field order, then sections in order with record keys following the section
// columns, then extra fields sorted by key.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	writeKey := func(key string) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		kb, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		return nil
	}

	if len(d.Overview) > 0 {
		if err := writeKey("overview"); err != nil {
			return nil, err
		}
		if err := marshalOverview(&buf, d.Overview); err != nil {
			return nil, err
		}
	}
	for _, s := range d.Sections {
		if err := writeKey(s.Name); err != nil {
			return nil, err
		}
		if err := marshalSection(&buf, s); err != nil {
			return nil, err
		}
	}
	extraKeys := make([]string, 0, len(d.Extra))
	for k := range d.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		if err := writeKey(k); err != nil {
			return nil, err
		}
		buf.Write(d.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalOverview(buf *bytes.Buffer, fields []OverviewField) error {
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(f.Key)
		if err != nil {
			return err
		}
		vb, err := json.Marshal(f.Value)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return nil
}

func marshalSection(buf *bytes.Buffer, s Section) error {
	buf.WriteByte('[')
	for i, rec := range s.Records {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := marshalRecord(buf, s.Columns, rec); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// marshalRecord writes record keys in column order followed by any extra
// keys sorted, so serialized sections keep their header order.
func marshalRecord(buf *bytes.Buffer, columns []string, rec Record) error {
	ordered := make([]string, 0, len(rec))
	seen := make(map[string]bool, len(rec))
	for _, c := range columns {
		if _, ok := rec[c]; ok {
			ordered = append(ordered, c)
			seen[c] = true
		}
	}
	var extras []string
	for k := range rec {
		if !seen[k] {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	ordered = append(ordered, extras...)

	buf.WriteByte('{')
	for i, k := range ordered {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		vb, err := json.Marshal(rec[k])
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return nil
}

// Serialize returns the canonical pretty-printed text of the document.
func (d *Document) Serialize() (string, error) {
	raw, err := d.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to serialize scope document: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return "", fmt.Errorf("failed to indent scope document: %w", err)
	}
	return out.String(), nil
}

// Fingerprint derives a deterministic cache key from the serialized document
// content and the finalization state.
func Fingerprint(doc *Document, state State) string {
	h := sha256.New()
	if doc != nil {
		raw, err := doc.MarshalJSON()
		if err == nil {
			h.Write(raw)
		}
	}
	h.Write([]byte{0})
	h.Write([]byte(state.String()))
	return hex.EncodeToString(h.Sum(nil))
}
