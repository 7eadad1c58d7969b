// Package validate evaluates session response data against the dynamic
// schema carried in a session's message data template. The engine is pure:
// no I/O, no shared mutable state, safe for concurrent use.
package validate

import (
	"fmt"
	"reflect"
	"regexp"
)

// FieldType enumerates the schema types a rule set may declare.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
	TypeAny     FieldType = "any"
)

// Result is the outcome of one validation pass. Errors maps field name to
// a human-readable violation; Warnings is reserved and currently unused.
type Result struct {
	IsValid     bool              `json:"is_valid"`
	Errors      map[string]string `json:"errors"`
	Warnings    map[string]string `json:"warnings"`
	ValidatedAt int64             `json:"validated_at"`
}

// StringConstraints holds the constraints applicable to string fields.
// Checks run in declaration order: pattern, minLength, maxLength.
type StringConstraints struct {
	Pattern   string
	re        *regexp.Regexp
	badRe     bool
	MinLength *int
	MaxLength *int
}

// NumberConstraints holds the constraints applicable to number fields.
// Checks run in declaration order: minimum, maximum, exclusiveMinimum,
// exclusiveMaximum. Minimum and maximum are inclusive.
type NumberConstraints struct {
	Minimum          *float64
	Maximum          *float64
	ExclusiveMinimum *float64
	ExclusiveMaximum *float64
}

// ItemConstraints constrains the elements of an array field.
type ItemConstraints struct {
	Type    FieldType
	Pattern string
	re      *regexp.Regexp
	badRe   bool
}

// ArrayConstraints holds the constraints applicable to array fields.
type ArrayConstraints struct {
	MinItems    *int
	MaxItems    *int
	UniqueItems bool
	Items       *ItemConstraints
}

// Rule is the parsed rule set for a single schema field. Exactly one of
// Str, Num, Arr is populated, matching Type; boolean, object and any carry
// no constraints.
type Rule struct {
	Type    FieldType
	typeSet bool   // the rule set declared a "type" key
	rawType string // declared type string, kept for error messages
	Enum    []interface{}
	Str     *StringConstraints
	Num     *NumberConstraints
	Arr     *ArrayConstraints
}

// Schema is a parsed field-name to rule-set mapping. Fields absent from
// the schema are never checked; every field the schema names is required.
type Schema struct {
	Fields map[string]Rule
}

// FromTemplate extracts and parses the rule map stored under the
// policy_input_schema key of a session's message data template. A template
// without that key yields an empty schema, which validates any data.
func FromTemplate(template map[string]interface{}) Schema {
	raw, _ := template["policy_input_schema"].(map[string]interface{})
	return Parse(raw)
}

// Parse converts a raw field-to-rules map (as decoded from JSON) into a
// typed Schema. Malformed rule sets parse to rules that fail their field
// at evaluation time rather than aborting the whole schema.
func Parse(raw map[string]interface{}) Schema {
	fields := make(map[string]Rule, len(raw))
	for name, rv := range raw {
		rules, _ := rv.(map[string]interface{})
		fields[name] = parseRule(rules)
	}
	return Schema{Fields: fields}
}

func parseRule(rules map[string]interface{}) Rule {
	var r Rule
	if rules == nil {
		return r
	}
	if tv, ok := rules["type"]; ok {
		r.typeSet = true
		r.rawType, _ = tv.(string)
		r.Type = FieldType(r.rawType)
	}
	if ev, ok := rules["enum"]; ok {
		if list, ok := ev.([]interface{}); ok {
			r.Enum = list
		}
	}
	switch r.Type {
	case TypeString:
		sc := &StringConstraints{}
		if p, ok := rules["pattern"].(string); ok {
			sc.Pattern = p
			re, err := regexp.Compile("^(?:" + p + ")")
			if err != nil {
				sc.badRe = true
			} else {
				sc.re = re
			}
		}
		sc.MinLength = intConstraint(rules, "minLength")
		sc.MaxLength = intConstraint(rules, "maxLength")
		r.Str = sc
	case TypeNumber:
		r.Num = &NumberConstraints{
			Minimum:          floatConstraint(rules, "minimum"),
			Maximum:          floatConstraint(rules, "maximum"),
			ExclusiveMinimum: floatConstraint(rules, "exclusiveMinimum"),
			ExclusiveMaximum: floatConstraint(rules, "exclusiveMaximum"),
		}
	case TypeArray:
		ac := &ArrayConstraints{
			MinItems: intConstraint(rules, "minItems"),
			MaxItems: intConstraint(rules, "maxItems"),
		}
		if u, ok := rules["uniqueItems"].(bool); ok {
			ac.UniqueItems = u
		}
		if iv, ok := rules["items"].(map[string]interface{}); ok {
			ic := &ItemConstraints{Type: TypeAny}
			if ts, ok := iv["type"].(string); ok {
				ic.Type = FieldType(ts)
			}
			if p, ok := iv["pattern"].(string); ok {
				ic.Pattern = p
				re, err := regexp.Compile("^(?:" + p + ")")
				if err != nil {
					ic.badRe = true
				} else {
					ic.re = re
				}
			}
			ac.Items = ic
		}
		r.Arr = ac
	}
	return r
}

// intConstraint reads an optional integer constraint from a raw rule map,
// accepting any numeric shape a JSON decoder or in-process caller produces.
func intConstraint(rules map[string]interface{}, key string) *int {
	v, ok := rules[key]
	if !ok {
		return nil
	}
	f, ok := asFloat(v)
	if !ok {
		return nil
	}
	n := int(f)
	return &n
}

// floatConstraint reads an optional float constraint from a raw rule map.
func floatConstraint(rules map[string]interface{}, key string) *float64 {
	v, ok := rules[key]
	if !ok {
		return nil
	}
	f, ok := asFloat(v)
	if !ok {
		return nil
	}
	return &f
}

// Evaluate checks data against the schema and returns the per-field error
// map. An empty map means the data is valid. Extra keys in data that the
// schema does not name are ignored.
func (s Schema) Evaluate(data map[string]interface{}) map[string]string {
	errors := make(map[string]string)
	for name, rule := range s.Fields {
		if msg, ok := evaluateField(rule, data, name); !ok {
			errors[name] = msg
		}
	}
	return errors
}

// evaluateField applies the rule to one field. It returns ok=false with
// the first violation encountered, honoring the per-field short-circuit
// order: presence, type, type-specific constraints, enum.
func evaluateField(rule Rule, data map[string]interface{}, name string) (string, bool) {
	value, present := data[name]
	if !present {
		return "Missing required field", false
	}
	if !rule.typeSet || rule.rawType == "" {
		return "Missing required field", false
	}
	if !knownType(rule.Type) {
		return fmt.Sprintf("Unsupported type '%s' in schema", rule.rawType), false
	}
	if !checkType(value, rule.Type) {
		return fmt.Sprintf("Expected type '%s', got '%s'", rule.rawType, typeName(value)), false
	}

	switch rule.Type {
	case TypeString:
		if msg, ok := checkString(value.(string), rule.Str); !ok {
			return msg, false
		}
	case TypeNumber:
		n, _ := asFloat(value)
		if msg, ok := checkNumber(value, n, rule.Num); !ok {
			return msg, false
		}
	case TypeArray:
		if msg, ok := checkArray(toSlice(value), rule.Arr); !ok {
			return msg, false
		}
	}

	// Enum runs after the constraint checks, but never when the type check
	// itself failed.
	if rule.Enum != nil && !enumContains(rule.Enum, value) {
		return fmt.Sprintf("Value '%v' not in allowed set %v", value, rule.Enum), false
	}
	return "", true
}

func checkString(value string, c *StringConstraints) (string, bool) {
	if c == nil {
		return "", true
	}
	if c.Pattern != "" {
		if c.badRe || !c.re.MatchString(value) {
			return fmt.Sprintf("Value '%s' does not match pattern '%s'", value, c.Pattern), false
		}
	}
	if c.MinLength != nil && len(value) < *c.MinLength {
		return fmt.Sprintf("Length %d is less than minimum length %d", len(value), *c.MinLength), false
	}
	if c.MaxLength != nil && len(value) > *c.MaxLength {
		return fmt.Sprintf("Length %d exceeds maximum length %d", len(value), *c.MaxLength), false
	}
	return "", true
}

func checkNumber(orig interface{}, n float64, c *NumberConstraints) (string, bool) {
	if c == nil {
		return "", true
	}
	if c.Minimum != nil && n < *c.Minimum {
		return fmt.Sprintf("Value %v is less than minimum %v", orig, *c.Minimum), false
	}
	if c.Maximum != nil && n > *c.Maximum {
		return fmt.Sprintf("Value %v exceeds maximum %v", orig, *c.Maximum), false
	}
	if c.ExclusiveMinimum != nil && n <= *c.ExclusiveMinimum {
		return fmt.Sprintf("Value %v must be greater than exclusive minimum %v", orig, *c.ExclusiveMinimum), false
	}
	if c.ExclusiveMaximum != nil && n >= *c.ExclusiveMaximum {
		return fmt.Sprintf("Value %v must be less than exclusive maximum %v", orig, *c.ExclusiveMaximum), false
	}
	return "", true
}

func checkArray(items []interface{}, c *ArrayConstraints) (string, bool) {
	if c == nil {
		return "", true
	}
	if c.MinItems != nil && len(items) < *c.MinItems {
		return fmt.Sprintf("Array length %d is less than minimum items %d", len(items), *c.MinItems), false
	}
	if c.MaxItems != nil && len(items) > *c.MaxItems {
		return fmt.Sprintf("Array length %d exceeds maximum items %d", len(items), *c.MaxItems), false
	}
	if c.UniqueItems {
		for i := 0; i < len(items); i++ {
			for j := i + 1; j < len(items); j++ {
				if equalValues(items[i], items[j]) {
					return "Array items are not unique", false
				}
			}
		}
	}
	if c.Items != nil {
		for i, item := range items {
			if !checkType(item, c.Items.Type) {
				return fmt.Sprintf("Item at index %d expected type '%s', got '%s'", i, c.Items.Type, typeName(item)), false
			}
			if c.Items.Type == TypeString && c.Items.Pattern != "" {
				s := item.(string)
				if c.Items.badRe || !c.Items.re.MatchString(s) {
					return fmt.Sprintf("Item at index %d with value '%s' does not match pattern '%s'", i, s, c.Items.Pattern), false
				}
			}
		}
	}
	return "", true
}

func knownType(t FieldType) bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeArray, TypeObject, TypeAny:
		return true
	}
	return false
}

// checkType reports whether value conforms to the declared type. Values
// come either from JSON decoding (float64, []interface{}, map) or from
// in-process callers (native ints, typed slices), so both shapes are
// accepted.
func checkType(value interface{}, t FieldType) bool {
	if t == TypeAny {
		return true
	}
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeNumber:
		_, ok := asFloat(value)
		return ok
	case TypeArray:
		if value == nil {
			return false
		}
		return reflect.TypeOf(value).Kind() == reflect.Slice
	case TypeObject:
		if value == nil {
			return false
		}
		return reflect.TypeOf(value).Kind() == reflect.Map
	}
	return false
}

// typeName names a value's type in schema vocabulary, for error messages.
func typeName(value interface{}) string {
	if value == nil {
		return "null"
	}
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if _, ok := asFloat(value); ok {
		return "number"
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Slice:
		return "array"
	case reflect.Map:
		return "object"
	}
	return reflect.TypeOf(value).String()
}

func asFloat(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// toSlice normalizes any slice value to []interface{}.
func toSlice(value interface{}) []interface{} {
	if items, ok := value.([]interface{}); ok {
		return items
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil
	}
	items := make([]interface{}, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items
}

func enumContains(enum []interface{}, value interface{}) bool {
	for _, e := range enum {
		if equalValues(e, value) {
			return true
		}
	}
	return false
}

// equalValues compares two values with numeric normalization, so an int 5
// merged in-process equals a float64 5 decoded from JSON.
func equalValues(a, b interface{}) bool {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}
