// Package validate checks contract payloads against struct tags and reports failures as
// core.ValidationError.
package validate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/njavilas2015/onbbu/pkg/commsutil"
	"github.com/njavilas2015/onbbu/pkg/core"
	"github.com/njavilas2015/onbbu/pkg/dispatcher"
)

var (
	once     sync.Once
	instance *validator.Validate
)

func engine() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON names, which is what callers sent.
		instance.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
	return instance
}

// Struct validates v. Failures come back as a *core.ValidationError listing one
// "path message" per line.
func Struct(v interface{}) error {
	err := engine().Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return core.NewValidationError(err.Error())
	}
	lines := make([]string, 0, len(fields))
	for _, fe := range fields {
		lines = append(lines, fmt.Sprintf("%s %s", path(fe), message(fe)))
	}
	return core.NewValidationError(strings.Join(lines, "\n"))
}

// AtLeastOne fails unless one of fields is present (and non-nil) in m.
func AtLeastOne(m map[string]interface{}, fields ...string) error {
	for _, f := range fields {
		if v, ok := m[f]; ok && v != nil {
			return nil
		}
	}
	return core.NewValidationError("You must provide at least one of: " + strings.Join(fields, ", "))
}

// Decode converts a decoded JSON payload into T and validates it.
func Decode[T any](payload interface{}) (*T, error) {
	data, err := commsutil.EncodePayload(payload)
	if err != nil {
		return nil, core.NewValidationError("payload is not serializable")
	}
	var out T
	if err := commsutil.DecodePayload(data, &out); err != nil {
		return nil, core.NewValidationError(fmt.Sprintf("payload does not match: %v", err))
	}
	if reflect.TypeOf((*T)(nil)).Elem().Kind() != reflect.Struct {
		return &out, nil
	}
	if err := Struct(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stage returns a validate stage that turns the payload into a validated *T.
func Stage[T any]() dispatcher.Stage {
	return func(_ context.Context, payload interface{}) (interface{}, error) {
		return Decode[T](payload)
	}
}

// ParamsStage is Stage for gateway requests: it validates the params field and passes on a
// core.Request whose Params is the validated *T.
func ParamsStage[T any]() dispatcher.Stage {
	return func(_ context.Context, payload interface{}) (interface{}, error) {
		req, err := Decode[struct {
			Params   interface{}   `json:"params"`
			MetaData core.Metadata `json:"metaData"`
		}](payload)
		if err != nil {
			return nil, err
		}
		params, err := Decode[T](req.Params)
		if err != nil {
			return nil, err
		}
		return core.Request{Params: params, MetaData: req.MetaData}, nil
	}
}

// path drops the root struct name from the namespace, e.g. "User.address.city" -> "address.city".
func path(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_unless", "required_with", "required_without":
		return "Required"
	case "email":
		return "Invalid email"
	case "url", "uri", "http_url":
		return "Invalid url"
	case "uuid", "uuid4":
		return "Invalid uuid"
	case "min", "gte":
		if u := unit(fe); u != "" {
			return fmt.Sprintf("must contain at least %s %s", fe.Param(), u)
		}
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "max", "lte":
		if u := unit(fe); u != "" {
			return fmt.Sprintf("must contain at most %s %s", fe.Param(), u)
		}
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "len":
		return fmt.Sprintf("must have length %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.Join(strings.Fields(fe.Param()), ", "))
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}

// unit names what a length limit counts; numbers have none.
func unit(fe validator.FieldError) string {
	switch fe.Kind() {
	case reflect.String:
		return "character(s)"
	case reflect.Slice, reflect.Array, reflect.Map:
		return "item(s)"
	default:
		return ""
	}
}
