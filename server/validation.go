package server

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"library-service/library"
)

var registerOnce sync.Once

// registerValidators adds the "role" rule to gin's validator and reports
// fields by their json names.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation("role", validRole)
	})
}

func validRole(fl validator.FieldLevel) bool {
	_, err := library.ParseRole(fl.Field().String())
	return err == nil
}
