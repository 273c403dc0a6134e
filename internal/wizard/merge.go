package wizard

import (
	"fmt"
	"reflect"
)

// Merge copies every non-nil pointer field of patch into the same-named field
// of data and returns the result. Patch types are structs of pointers that
// mirror a subset of the data struct; a field the patch does not set keeps its
// current value. Merge panics if a patch field has no counterpart in data.
func Merge[D, P any](data D, patch P) D {
	dv := reflect.ValueOf(&data).Elem()
	pv := reflect.ValueOf(patch)
	pt := pv.Type()
	for i := 0; i < pt.NumField(); i++ {
		f := pv.Field(i)
		if f.Kind() != reflect.Pointer || f.IsNil() {
			continue
		}
		target := dv.FieldByName(pt.Field(i).Name)
		if !target.IsValid() {
			panic(fmt.Sprintf("wizard: patch field %s has no data field", pt.Field(i).Name))
		}
		target.Set(f.Elem())
	}
	return data
}

// Combine returns a patch holding every field set in a or b, with b winning
// where both set the same field. Merge(Merge(d, a), b) == Merge(d, Combine(a, b)).
func Combine[P any](a, b P) P {
	out := a
	ov := reflect.ValueOf(&out).Elem()
	bv := reflect.ValueOf(b)
	for i := 0; i < bv.NumField(); i++ {
		if f := bv.Field(i); f.Kind() == reflect.Pointer && !f.IsNil() {
			ov.Field(i).Set(f)
		}
	}
	return out
}

// Set returns a pointer to v, for building patches.
func Set[T any](v T) *T {
	return &v
}
