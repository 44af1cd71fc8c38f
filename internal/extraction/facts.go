package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field is a name from the fixed fact vocabulary.
type Field string

const (
	FastingGlucose   Field = "fasting_glucose"
	HbA1c            Field = "hba1c"
	TotalCholesterol Field = "total_cholesterol"
	LDL              Field = "ldl"
	HDL              Field = "hdl"
	Triglycerides    Field = "triglycerides"
	SystolicBP       Field = "systolic_bp"
	DiastolicBP      Field = "diastolic_bp"
	BMI              Field = "bmi"
	Hemoglobin       Field = "hemoglobin"
	PatientName      Field = "patient_name"
)

// RequiredFields must all be present before a recommendation is generated.
var RequiredFields = []Field{
	FastingGlucose, HbA1c, TotalCholesterol, LDL, HDL, Triglycerides, SystolicBP, DiastolicBP,
}

// Label renders a field for matching against prose ("fasting_glucose" -> "fasting glucose").
func (f Field) Label() string {
	return strings.ReplaceAll(string(f), "_", " ")
}

type valueKind int

const (
	kindText valueKind = iota
	kindInt
	kindFloat
)

// Value is an extracted fact value. It keeps whether the source text was an
// integer, a decimal or free text, which fixes its canonical String form.
type Value struct {
	kind valueKind
	i    int64
	f    float64
	s    string
}

// ParseValue reads raw as an integer, then a decimal when it contains a dot,
// and falls back to trimmed text.
func ParseValue(raw string) Value {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, ".") {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return Value{kind: kindFloat, f: f}
		}
		return Value{kind: kindText, s: raw}
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Value{kind: kindInt, i: i}
	}
	return Value{kind: kindText, s: raw}
}

func IntValue(i int64) Value { return Value{kind: kindInt, i: i} }

func FloatValue(f float64) Value { return Value{kind: kindFloat, f: f} }

func TextValue(s string) Value { return Value{kind: kindText, s: s} }

func (v Value) IsNumeric() bool { return v.kind != kindText }

// Float returns the numeric value; ok is false for text values.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case kindInt:
		return float64(v.i), true
	case kindFloat:
		return v.f, true
	}
	return 0, false
}

// String is the canonical textual form: "165" for integers, "8.5" or "7.0"
// for decimals.
func (v Value) String() string {
	switch v.kind {
	case kindInt:
		return strconv.FormatInt(v.i, 10)
	case kindFloat:
		s := strconv.FormatFloat(v.f, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	}
	return v.s
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsNumeric() {
		return []byte(v.String()), nil
	}
	return json.Marshal(v.s)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
		return nil
	}
	*v = ParseValue(string(data))
	return nil
}

// Facts maps fields to values and remembers insertion order.
type Facts struct {
	order  []Field
	values map[Field]Value
}

func NewFacts() Facts {
	return Facts{values: make(map[Field]Value)}
}

// Set stores v unless field already has a value. It reports whether v was stored.
func (f *Facts) Set(field Field, v Value) bool {
	if f.values == nil {
		f.values = make(map[Field]Value)
	}
	if _, ok := f.values[field]; ok {
		return false
	}
	f.values[field] = v
	f.order = append(f.order, field)
	return true
}

func (f Facts) Get(field Field) (Value, bool) {
	v, ok := f.values[field]
	return v, ok
}

func (f Facts) Has(field Field) bool {
	_, ok := f.values[field]
	return ok
}

// Number returns the numeric value of field, if present and numeric.
func (f Facts) Number(field Field) (float64, bool) {
	v, ok := f.values[field]
	if !ok {
		return 0, false
	}
	return v.Float()
}

func (f Facts) Len() int { return len(f.order) }

func (f Facts) IsEmpty() bool { return len(f.order) == 0 }

// Fields returns the stored fields in insertion order.
func (f Facts) Fields() []Field {
	out := make([]Field, len(f.order))
	copy(out, f.order)
	return out
}

// ValueStrings returns the canonical string of every value.
func (f Facts) ValueStrings() map[string]struct{} {
	out := make(map[string]struct{}, len(f.order))
	for _, field := range f.order {
		out[f.values[field].String()] = struct{}{}
	}
	return out
}

// StringMap flattens facts for structured payloads.
func (f Facts) StringMap() map[string]string {
	out := make(map[string]string, len(f.order))
	for _, field := range f.order {
		out[string(field)] = f.values[field].String()
	}
	return out
}

// Missing lists the required fields that are absent.
func (f Facts) Missing() []Field {
	var missing []Field
	for _, field := range RequiredFields {
		if !f.Has(field) {
			missing = append(missing, field)
		}
	}
	return missing
}

// MarshalJSON writes an object with keys in insertion order.
func (f Facts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(string(field))
		buf.Write(key)
		buf.WriteByte(':')
		val, err := f.values[field].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps the key order of the encoded object.
func (f *Facts) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("facts: expected JSON object")
	}
	*f = NewFacts()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return err
		}
		f.Set(Field(key), v)
	}
	_, err = dec.Token()
	return err
}

// Evidence is a contiguous slice of the source document supporting a fact.
// Start and End are byte offsets; Text equals document[Start:End].
type Evidence struct {
	ID    string `json:"id"`
	Field Field  `json:"field"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}
