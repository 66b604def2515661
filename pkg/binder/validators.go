package binder

import (
	"reflect"

	"github.com/go-playground/validator/v10"
)

// latitudeValidator accepts a number within [-90, 90]. It replaces the
// built-in tag of the same name, which only understands strings well.
func latitudeValidator(fl validator.FieldLevel) bool {
	return inRange(fl.Field(), 90)
}

// longitudeValidator accepts a number within [-180, 180].
func longitudeValidator(fl validator.FieldLevel) bool {
	return inRange(fl.Field(), 180)
}

func inRange(v reflect.Value, limit float64) bool {
	//exhaustive:ignore
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		return f >= -limit && f <= limit
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f := float64(v.Int())
		return f >= -limit && f <= limit
	default:
		return false
	}
}
