package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(wireName)
	return v
}

// wireName reports the name a client used for the field so errors point at its input.
func wireName(f reflect.StructField) string {
	for _, key := range []string{"json", "query", "param"} {
		if name, _, _ := strings.Cut(f.Tag.Get(key), ","); name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}

// ReadAndValidateRequest binds path, query and body into req, applies `default` tags and
// validates. It returns nil, or the rejected fields for BadRequestResponse.
func ReadAndValidateRequest(c echo.Context, req any) []ValidationError {
	if err := c.Bind(req); err != nil {
		return toValidationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return toValidationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg = fmt.Sprint(he.Message)
		}
		return []ValidationError{{Code: "ERR_UNKNOWN", Message: msg}}
	}

	out := make([]ValidationError, len(fieldErrs))
	for i, fe := range fieldErrs {
		out[i] = ValidationError{
			Code:    "ERR_" + strings.ToUpper(fe.Tag()),
			Field:   fe.Field(),
			Message: describe(fe),
			Params:  ruleParams(fe),
		}
	}
	return out
}

var comparisons = map[string]string{
	"gt":  "greater than",
	"gte": "at least",
	"lt":  "less than",
	"lte": "at most",
	"min": "at least",
	"max": "at most",
}

func describe(fe validator.FieldError) string {
	field, tag := fe.Field(), fe.Tag()
	switch {
	case tag == "required":
		return field + " is required"
	case tag == "oneof":
		return fmt.Sprintf("%s must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case comparisons[tag] != "":
		unit := ""
		if fe.Kind() == reflect.String && (tag == "min" || tag == "max") {
			unit = " characters"
		}
		return fmt.Sprintf("%s must be %s %s%s", field, comparisons[tag], fe.Param(), unit)
	}
	return fmt.Sprintf("%s failed %s", field, tag)
}

func ruleParams(fe validator.FieldError) map[string]any {
	switch fe.Tag() {
	case "min", "gte", "gt":
		return map[string]any{"min": fe.Param()}
	case "max", "lte", "lt":
		return map[string]any{"max": fe.Param()}
	case "oneof":
		return map[string]any{"options": strings.Fields(fe.Param())}
	}
	return nil
}
