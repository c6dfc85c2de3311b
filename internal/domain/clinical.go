package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ClinicalFields is the structured extraction produced by the language model.
type ClinicalFields struct {
	PastMedicalHistory   FlexValue     `json:"past_medical_history"`
	CurrentSymptoms      FlexValue     `json:"current_symptoms"`
	PhysicalExamFindings FlexValue     `json:"physical_exam_findings"`
	Diagnosis            FlexValue     `json:"diagnosis"`
	TreatmentPlan        FlexValue     `json:"treatment_plan"`
	Prescriptions        Prescriptions `json:"prescriptions,omitempty"`
	Summary              string        `json:"summary,omitempty"`
}

// Prescription is one medication order extracted from the transcript.
type Prescription struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// String renders the prescription as "name dosage frequency for duration".
func (p Prescription) String() string {
	parts := make([]string, 0, 3)
	for _, v := range []string{p.Name, p.Dosage, p.Frequency} {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	line := strings.Join(parts, " ")
	if d := strings.TrimSpace(p.Duration); d != "" {
		line += " for " + d
	}
	return line
}

// UnmarshalJSON tolerates numeric fields, which models emit for dosage and
// duration, and a bare string, which is taken as the whole order.
func (p *Prescription) UnmarshalJSON(data []byte) error {
	var line string
	if err := json.Unmarshal(data, &line); err == nil {
		*p = Prescription{Name: strings.TrimSpace(line)}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Name = scalarString(raw["name"])
	p.Dosage = scalarString(raw["dosage"])
	p.Frequency = scalarString(raw["frequency"])
	p.Duration = scalarString(raw["duration"])
	return nil
}

// Prescriptions is the extracted medication list. Decoding accepts a list, a
// single order object or string, or null; list elements that cannot be read
// are dropped.
type Prescriptions []Prescription

// UnmarshalJSON implements json.Unmarshaler.
func (ps *Prescriptions) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*ps = nil
		return nil
	}

	if trimmed[0] != '[' {
		var rx Prescription
		if err := json.Unmarshal(trimmed, &rx); err != nil {
			*ps = nil
			return nil
		}
		*ps = Prescriptions{rx}
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return err
	}
	out := make(Prescriptions, 0, len(items))
	for _, item := range items {
		var rx Prescription
		if err := json.Unmarshal(item, &rx); err != nil {
			continue
		}
		out = append(out, rx)
	}
	*ps = out
	return nil
}

// HasDiagnosis reports whether an assessment can be derived.
func (c *ClinicalFields) HasDiagnosis() bool {
	return c != nil && len(c.Diagnosis.Lines()) > 0
}

// PlanLines returns the treatment plan followed by rendered prescriptions.
func (c *ClinicalFields) PlanLines() []string {
	if c == nil {
		return nil
	}
	lines := c.TreatmentPlan.Lines()
	for _, rx := range c.Prescriptions {
		if s := rx.String(); s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}

// FlexValue holds a JSON value whose shape varies between model responses:
// a string, a list, or an object. Lines renders any of them as readable text.
type FlexValue struct {
	raw json.RawMessage
}

// NewFlexValue wraps an arbitrary Go value.
func NewFlexValue(v any) FlexValue {
	b, err := json.Marshal(v)
	if err != nil {
		return FlexValue{}
	}
	return FlexValue{raw: b}
}

// UnmarshalJSON keeps the raw payload for later rendering.
func (f *FlexValue) UnmarshalJSON(data []byte) error {
	f.raw = append(f.raw[:0], data...)
	return nil
}

// MarshalJSON emits the payload unchanged.
func (f FlexValue) MarshalJSON() ([]byte, error) {
	if len(f.raw) == 0 {
		return []byte("null"), nil
	}
	return f.raw, nil
}

// IsZero reports whether the value is absent or null.
func (f FlexValue) IsZero() bool {
	t := bytes.TrimSpace(f.raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Lines renders the value: a string is one line, each list element is a line,
// and each object key becomes "key: value" in key order.
func (f FlexValue) Lines() []string {
	if f.IsZero() {
		return nil
	}
	var v any
	if err := json.Unmarshal(f.raw, &v); err != nil {
		return nil
	}
	switch val := v.(type) {
	case []any:
		lines := make([]string, 0, len(val))
		for _, item := range val {
			if s := renderValue(item); s != "" {
				lines = append(lines, s)
			}
		}
		return lines
	case map[string]any:
		keys := sortedKeys(val)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := renderValue(val[k]); s != "" {
				lines = append(lines, humanizeKey(k)+": "+s)
			}
		}
		return lines
	default:
		if s := renderValue(val); s != "" {
			return []string{s}
		}
		return nil
	}
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case bool:
		if val {
			return "yes"
		}
		return "no"
	case float64:
		return trimFloat(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := renderValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := sortedKeys(val)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := renderValue(val[k]); s != "" {
				parts = append(parts, humanizeKey(k)+": "+s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(val)
	}
}

func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return renderValue(v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func humanizeKey(k string) string {
	return strings.ReplaceAll(strings.TrimSpace(k), "_", " ")
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
