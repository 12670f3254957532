package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/goal-tracker/internal/apperror"
)

// maxBodyBytes caps request bodies. The largest legitimate body is a goal
// with a 5000-character description.
const maxBodyBytes = 64 << 10

// validate checks request DTOs against their `validate` struct tags.
//
// RegisterTagNameFunc makes FieldError.Field() report the JSON name
// ("due_date"), not the Go name ("DueDate"), so error bodies point at the
// field the client actually sent.
var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// badRequestError is a body that isn't valid JSON at all. It maps to 400,
// while well-formed JSON with bad values maps to 422.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

// decodeJSON reads one JSON object from the body into dst and validates it.
//
// MASS ASSIGNMENT:
// DisallowUnknownFields makes every request DTO an allow-list. A client
// sending {"title":"x","user_id":"someone-else"} gets a 422 naming
// "user_id" instead of having the field silently ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return translateDecodeError(err)
	}
	// Exactly one JSON value: `{"a":1}{"b":2}` is rejected.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return &badRequestError{msg: "request body must contain a single JSON object"}
	}

	if err := validate.Struct(dst); err != nil {
		return translateValidationError(err)
	}
	return nil
}

func translateDecodeError(err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		maxErr    *http.MaxBytesError
	)

	switch {
	case errors.Is(err, io.EOF):
		return &badRequestError{msg: "request body must not be empty"}
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return &badRequestError{msg: "request body contains malformed JSON"}
	case errors.As(err, &maxErr):
		return &badRequestError{msg: fmt.Sprintf("request body must not be larger than %d bytes", maxErr.Limit)}
	case errors.As(err, &typeErr):
		field := typeErr.Field
		return apperror.ValidationFailed(field, fmt.Sprintf("%s has the wrong type, expected %s", field, typeErr.Type))
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		// encoding/json has no typed error for this one.
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return apperror.ValidationFailed(field, fmt.Sprintf("unknown field %q", field))
	default:
		return &badRequestError{msg: "request body contains malformed JSON"}
	}
}

// translateValidationError reports the first failing field as an AppError.
func translateValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("handler: validating request: %w", err)
	}

	fe := verrs[0]
	field := fe.Field()

	var msg string
	switch fe.Tag() {
	case "required":
		msg = field + " is required"
	case "email":
		msg = field + " must be a valid email address"
	case "min":
		msg = fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		msg = fmt.Sprintf("%s must be %s characters or less", field, fe.Param())
	default:
		msg = field + " is invalid"
	}
	return apperror.ValidationFailed(field, msg)
}
