// Package hashing canonicalizes structured payloads into a stable JSON string
// and derives hex digests from it. The digests back job idempotency keys,
// ingestion payload fingerprints and audit report hashes.
package hashing

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
)

// ErrCycle is matched by every *CycleError.
var ErrCycle = errors.New("hashing: cyclic structure")

// CycleError reports the path at which a reference was revisited while
// descending into a value.
type CycleError struct {
	Path string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("hashing: cycle detected at %s", e.Path)
}

func (e *CycleError) Unwrap() error { return ErrCycle }

var (
	rawMessageType    = reflect.TypeOf(json.RawMessage(nil))
	numberType        = reflect.TypeOf(json.Number(""))
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// StableJSONStringify serializes v with object keys sorted at every level.
// Maps and structs become objects, slices and arrays keep their order.
// Values JSON cannot represent (funcs, channels, complex numbers) are written
// as strings instead of failing. A reference that contains itself yields a
// *CycleError.
func StableJSONStringify(v any) (string, error) {
	e := &encoder{active: map[visit]struct{}{}}
	if err := e.encode(reflect.ValueOf(v), "$"); err != nil {
		return "", err
	}
	return e.buf.String(), nil
}

type visit struct {
	ptr uintptr
	typ reflect.Type
	n   int
}

type encoder struct {
	buf    bytes.Buffer
	active map[visit]struct{} // references on the current descent path
}

func (e *encoder) enter(v reflect.Value, n int, path string) (func(), error) {
	key := visit{ptr: v.Pointer(), typ: v.Type(), n: n}
	if _, ok := e.active[key]; ok {
		return nil, &CycleError{Path: path}
	}
	e.active[key] = struct{}{}
	return func() { delete(e.active, key) }, nil
}

func (e *encoder) encode(v reflect.Value, path string) error {
	if !v.IsValid() {
		e.buf.WriteString("null")
		return nil
	}

	switch v.Type() {
	case rawMessageType:
		return e.encodeJSONBytes(v.Bytes(), path)
	case numberType:
		e.writeNumber(json.Number(v.String()))
		return nil
	}

	if v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface && v.CanInterface() &&
		v.Type().Implements(jsonMarshalerType) {
		b, err := v.Interface().(json.Marshaler).MarshalJSON()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return e.encodeJSONBytes(b, path)
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.encode(v.Elem(), path)

	case reflect.Pointer:
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		leave, err := e.enter(v, 0, path)
		if err != nil {
			return err
		}
		defer leave()
		if v.CanInterface() && v.Type().Implements(jsonMarshalerType) {
			b, err := v.Interface().(json.Marshaler).MarshalJSON()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			return e.encodeJSONBytes(b, path)
		}
		return e.encode(v.Elem(), path)

	case reflect.Map:
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		leave, err := e.enter(v, 0, path)
		if err != nil {
			return err
		}
		defer leave()
		fields := make([]field, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			fields = append(fields, field{name: mapKey(iter.Key()), value: iter.Value()})
		}
		return e.encodeObject(fields, path)

	case reflect.Struct:
		return e.encodeObject(structFields(v), path)

	case reflect.Slice:
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b, _ := json.Marshal(v.Bytes())
			e.buf.Write(b)
			return nil
		}
		if v.Len() > 0 {
			leave, err := e.enter(v, v.Len(), path)
			if err != nil {
				return err
			}
			defer leave()
		}
		return e.encodeArray(v, path)

	case reflect.Array:
		return e.encodeArray(v, path)

	case reflect.String:
		e.writeString(v.String())
	case reflect.Bool:
		e.buf.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.buf.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.buf.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		e.writeFloat(v.Float())

	default:
		// func, chan, complex, unsafe pointer
		e.writeString(coerce(v))
	}
	return nil
}

type field struct {
	name  string
	value reflect.Value
}

func (e *encoder) encodeObject(fields []field, path string) error {
	sort.Slice(fields, func(i, j int) bool { return lessUTF16(fields[i].name, fields[j].name) })
	e.buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		e.writeString(f.name)
		e.buf.WriteByte(':')
		if err := e.encode(f.value, path+"."+f.name); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) encodeArray(v reflect.Value, path string) error {
	e.buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.encode(v.Index(i), path+"["+strconv.Itoa(i)+"]"); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

// encodeJSONBytes re-canonicalizes already serialized JSON.
func (e *encoder) encodeJSONBytes(b []byte, path string) error {
	if len(bytes.TrimSpace(b)) == 0 {
		e.buf.WriteString("null")
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return e.encode(reflect.ValueOf(decoded), path)
}

func (e *encoder) writeString(s string) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	e.buf.Write(bytes.TrimSuffix(b.Bytes(), []byte("\n")))
}

// writeNumber prints integral numbers without a fraction so 1 and 1.0 agree.
func (e *encoder) writeNumber(n json.Number) {
	if i, err := n.Int64(); err == nil {
		e.buf.WriteString(strconv.FormatInt(i, 10))
		return
	}
	if f, err := n.Float64(); err == nil {
		e.writeFloat(f)
		return
	}
	e.writeString(n.String())
}

func (e *encoder) writeFloat(f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		e.buf.WriteString("null")
		return
	}
	b, _ := json.Marshal(f)
	e.buf.Write(b)
}

// candidate is a struct field seen while flattening embedded structs.
type candidate struct {
	field
	depth  int
	tagged bool
	omit   bool
}

// structFields lists the fields encoding/json would emit for v. When names
// collide across embedded structs the shallowest field wins, a single tagged
// field breaks a tie at equal depth and any other tie drops the name.
func structFields(v reflect.Value) []field {
	var cands []candidate
	collectFields(v, 0, &cands)

	byName := make(map[string][]int, len(cands))
	order := make([]string, 0, len(cands))
	for i, c := range cands {
		if _, seen := byName[c.name]; !seen {
			order = append(order, c.name)
		}
		byName[c.name] = append(byName[c.name], i)
	}

	out := make([]field, 0, len(order))
	for _, name := range order {
		c, ok := dominant(cands, byName[name])
		if !ok || c.omit {
			continue
		}
		out = append(out, c.field)
	}
	return out
}

func dominant(cands []candidate, idx []int) (candidate, bool) {
	minDepth := cands[idx[0]].depth
	for _, i := range idx[1:] {
		minDepth = min(minDepth, cands[i].depth)
	}
	var top []candidate
	for _, i := range idx {
		if cands[i].depth == minDepth {
			top = append(top, cands[i])
		}
	}
	if len(top) == 1 {
		return top[0], true
	}
	var winner candidate
	tagged := 0
	for _, c := range top {
		if c.tagged {
			winner = c
			tagged++
		}
	}
	return winner, tagged == 1
}

func collectFields(v reflect.Value, depth int, out *[]candidate) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() && !sf.Anonymous {
			continue
		}
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := v.Field(i)

		if sf.Anonymous && name == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				collectFields(inner, depth+1, out)
				continue
			}
			if !sf.IsExported() {
				continue
			}
		}
		tagged := name != ""
		if !tagged {
			name = sf.Name
		}
		*out = append(*out, candidate{
			field:  field{name: name, value: fv},
			depth:  depth,
			tagged: tagged,
			omit:   strings.Contains(opts, "omitempty") && fv.IsZero(),
		})
	}
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.CanInterface() && k.Type().Implements(textMarshalerType) {
		if b, err := k.Interface().(encoding.TextMarshaler).MarshalText(); err == nil {
			return string(b)
		}
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10)
	}
	if k.CanInterface() {
		return fmt.Sprint(k.Interface())
	}
	return k.Type().String()
}

// coerce renders a value JSON has no encoding for. Funcs and channels render
// as their type so the output does not depend on memory addresses.
func coerce(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v.Complex())
	default:
		return v.Type().String()
	}
}

// lessUTF16 orders keys by UTF-16 code units, matching how JSON tooling in
// other runtimes sorts object keys.
func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}
