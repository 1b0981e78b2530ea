package compile

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

// ToScope shallow-copies data into a fresh map of names. Maps with string
// keys contribute their entries and structs their exported fields; anything
// else yields an empty scope.
func ToScope(data any) map[string]any {
	out := make(map[string]any)
	if m, ok := data.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
		return out
	}

	rv := reflect.ValueOf(data)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return out
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return out
		}
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
	case reflect.Struct:
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			if f := rt.Field(i); f.IsExported() {
				out[f.Name] = rv.Field(i).Interface()
			}
		}
	}
	return out
}

// Merge returns a new map holding the entries of every map in order, later
// maps overriding earlier ones.
func Merge(maps ...map[string]any) map[string]any {
	size := 0
	for _, m := range maps {
		size += len(m)
	}
	out := make(map[string]any, size)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// Iterate calls fn for each entry of container: slices and arrays by index,
// maps in sorted key order. A nil container has no entries. Iteration stops
// at the first error fn returns.
func Iterate(container any, fn func(key, value any) error) error {
	if container == nil {
		return nil
	}
	rv := reflect.ValueOf(container)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := fn(i, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
		for _, k := range keys {
			if err := fn(k.Interface(), rv.MapIndex(k).Interface()); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("cannot iterate over %T", container)
}

func keyLess(a, b reflect.Value) bool {
	if a.Kind() == reflect.Interface && !a.IsNil() {
		a = a.Elem()
	}
	if b.Kind() == reflect.Interface && !b.IsNil() {
		b = b.Elem()
	}
	if a.Kind() == b.Kind() {
		switch a.Kind() {
		case reflect.String:
			return a.String() < b.String()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return a.Int() < b.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return a.Uint() < b.Uint()
		case reflect.Float32, reflect.Float64:
			return a.Float() < b.Float()
		}
	}
	return fmt.Sprint(a.Interface()) < fmt.Sprint(b.Interface())
}

// Truthy reports whether v counts as true in a condition. nil, false, zero
// numbers, NaN, the empty string and nil pointers, slices and maps are false.
// Empty but non-nil slices and maps are true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	case reflect.String:
		return rv.Len() != 0
	case reflect.Bool:
		return rv.Bool()
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return !rv.IsNil()
	}
	return true
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// dethunk calls v when it is a function taking no arguments and returning a
// value, optionally with an error, and returns the result. Other values are
// returned unchanged.
func dethunk(v any) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return v, nil
	}
	rt := rv.Type()
	if rt.NumIn() != 0 && !(rt.IsVariadic() && rt.NumIn() == 1) {
		return v, nil
	}
	switch {
	case rt.NumOut() == 1:
		return rv.Call(nil)[0].Interface(), nil
	case rt.NumOut() == 2 && rt.Out(1) == errorType:
		out := rv.Call(nil)
		if err, _ := out[1].Interface().(error); err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	}
	return v, nil
}
