// Package validator registers the service's custom validation rules with
// go-playground/validator and renders validation failures for clients.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
)

var registerOnce sync.Once

// New returns a standalone validator with the custom rules registered.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	mustRegister(v)
	return v
}

// RegisterGin adds the custom rules to gin's binding validator. Safe to call
// more than once.
func RegisterGin() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin validator engine is not go-playground/validator")
	}
	registerOnce.Do(func() { mustRegister(v) })
	return nil
}

func mustRegister(v *validator.Validate) {
	v.RegisterTagNameFunc(jsonName)
	if err := v.RegisterValidation("practice_role", practiceRole); err != nil {
		panic(err)
	}
}

// jsonName reports fields by their JSON name so messages match the payload.
func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

func practiceRole(fl validator.FieldLevel) bool {
	return model.PracticeRole(fl.Field().String()).Valid()
}

// Describe turns binding errors into a single client-facing message.
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "practice_role":
			msgs = append(msgs, fmt.Sprintf("%s: unknown practice role %q", field, fe.Value()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must contain at least %s item(s)", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
