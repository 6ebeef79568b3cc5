// Package fingerprint implements stable structural hashing for the values
// that flow through rule executions.
//
// Every parameter type admitted into the engine must either be structurally
// hashable (primitives, structs, slices, arrays, maps and pointers of
// hashable types, cty.Value) or implement Fingerprinter. The contract is
// enforced at rule registration via CheckHashable, never at execution time.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"reflect"
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/forgectl/internal/digest"
)

// Fingerprint is a SHA-256 identity for a rule application or a value.
type Fingerprint [sha256.Size]byte

// String returns the full hex form.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns an abbreviated hex form for log lines.
func (f Fingerprint) Short() string {
	return hex.EncodeToString(f[:6])
}

// Fingerprinter lets a type supply its own stable identity bytes instead of
// being walked structurally.
type Fingerprinter interface {
	Fingerprint() []byte
}

var (
	fingerprinterType = reflect.TypeOf((*Fingerprinter)(nil)).Elem()
	ctyValueType      = reflect.TypeOf(cty.Value{})
	digestType        = reflect.TypeOf(digest.Digest{})
)

// CheckHashable reports whether values of type t satisfy the structural
// hashing contract. The returned error names the offending type.
func CheckHashable(t reflect.Type) error {
	return checkHashable(t, make(map[reflect.Type]bool))
}

func checkHashable(t reflect.Type, seen map[reflect.Type]bool) error {
	if t == nil {
		return fmt.Errorf("nil type is not hashable")
	}
	if seen[t] {
		return nil
	}
	seen[t] = true

	if t.Implements(fingerprinterType) || t == ctyValueType {
		return nil
	}

	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Slice, reflect.Array, reflect.Pointer:
		return checkHashable(t.Elem(), seen)
	case reflect.Map:
		if err := checkHashable(t.Key(), seen); err != nil {
			return err
		}
		return checkHashable(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				return fmt.Errorf("type %s has unexported field %q and does not implement Fingerprinter", t, field.Name)
			}
			if err := checkHashable(field.Type, seen); err != nil {
				return err
			}
		}
		return nil
	case reflect.Interface:
		return fmt.Errorf("interface type %s cannot be structurally hashed; implement Fingerprinter", t)
	default:
		return fmt.Errorf("type %s (kind %s) cannot be structurally hashed", t, t.Kind())
	}
}

// Of computes the fingerprint of a rule application: the rule identity plus
// the ordered structural hashes of its bound parameter values.
func Of(ruleID string, params ...any) (Fingerprint, error) {
	h := sha256.New()
	writeString(h, ruleID)
	for _, p := range params {
		if err := hashValue(h, reflect.ValueOf(p)); err != nil {
			return Fingerprint{}, fmt.Errorf("fingerprinting %s: %w", ruleID, err)
		}
	}
	var f Fingerprint
	h.Sum(f[:0])
	return f, nil
}

// OfValue computes the structural hash of a single value.
func OfValue(v any) (Fingerprint, error) {
	h := sha256.New()
	if err := hashValue(h, reflect.ValueOf(v)); err != nil {
		return Fingerprint{}, err
	}
	var f Fingerprint
	h.Sum(f[:0])
	return f, nil
}

func writeString(h hash.Hash, s string) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(s)))
	h.Write(buf[:])
	h.Write([]byte(s))
}

func writeUint64(h hash.Hash, u uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u)
	h.Write(buf[:])
}

func hashValue(h hash.Hash, v reflect.Value) error {
	if !v.IsValid() {
		h.Write([]byte{0})
		return nil
	}
	t := v.Type()

	// A self-identifying type wins over structural walking.
	if t.Implements(fingerprinterType) {
		if (t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface) && v.IsNil() {
			h.Write([]byte{0})
			return nil
		}
		writeString(h, t.String())
		writeString(h, string(v.Interface().(Fingerprinter).Fingerprint()))
		return nil
	}
	if t == ctyValueType {
		// cty renders values deterministically, maps included.
		writeString(h, "cty")
		writeString(h, v.Interface().(cty.Value).GoString())
		return nil
	}

	writeString(h, t.String())
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{2})
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeUint64(h, uint64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		writeUint64(h, v.Uint())
	case reflect.Float32, reflect.Float64:
		writeUint64(h, math.Float64bits(v.Float()))
	case reflect.String:
		writeString(h, v.String())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			h.Write([]byte{0})
			return nil
		}
		writeUint64(h, uint64(v.Len()))
		for i := 0; i < v.Len(); i++ {
			if err := hashValue(h, v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		if v.IsNil() {
			h.Write([]byte{0})
			return nil
		}
		// Entry hashes are sorted so that map iteration order never leaks
		// into the fingerprint.
		entries := make([]string, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			eh := sha256.New()
			if err := hashValue(eh, iter.Key()); err != nil {
				return err
			}
			if err := hashValue(eh, iter.Value()); err != nil {
				return err
			}
			entries = append(entries, hex.EncodeToString(eh.Sum(nil)))
		}
		sort.Strings(entries)
		writeUint64(h, uint64(len(entries)))
		for _, e := range entries {
			writeString(h, e)
		}
	case reflect.Pointer:
		if v.IsNil() {
			h.Write([]byte{0})
			return nil
		}
		return hashValue(h, v.Elem())
	case reflect.Interface:
		if v.IsNil() {
			h.Write([]byte{0})
			return nil
		}
		return hashValue(h, v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				return fmt.Errorf("type %s has unexported field %q and does not implement Fingerprinter", t, t.Field(i).Name)
			}
			if err := hashValue(h, v.Field(i)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("value of type %s (kind %s) cannot be structurally hashed", t, v.Kind())
	}
	return nil
}

// CollectDigests walks values structurally and returns every content digest
// embedded in them. These are the invalidation keys of the fingerprint that
// the values contribute to.
func CollectDigests(vals ...any) []digest.Digest {
	var out []digest.Digest
	seen := make(map[uintptr]bool)
	for _, v := range vals {
		out = collectDigests(reflect.ValueOf(v), seen, out)
	}
	return out
}

func collectDigests(v reflect.Value, seen map[uintptr]bool, out []digest.Digest) []digest.Digest {
	if !v.IsValid() {
		return out
	}
	if v.Type() == digestType {
		d := v.Interface().(digest.Digest)
		if !d.IsZero() {
			out = append(out, d)
		}
		return out
	}
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() || seen[v.Pointer()] {
			return out
		}
		seen[v.Pointer()] = true
		return collectDigests(v.Elem(), seen, out)
	case reflect.Interface:
		if v.IsNil() {
			return out
		}
		return collectDigests(v.Elem(), seen, out)
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			out = collectDigests(v.Index(i), seen, out)
		}
		return out
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			out = collectDigests(iter.Value(), seen, out)
		}
		return out
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				out = collectDigests(v.Field(i), seen, out)
			}
		}
		return out
	default:
		return out
	}
}
