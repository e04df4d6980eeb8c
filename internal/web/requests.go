package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/csvwizard/internal/core"
	"github.com/JonMunkholm/csvwizard/internal/selection"
)

// maxJSONBody caps action request bodies. File uploads use the configured
// upload limit instead.
const maxJSONBody = 1 << 20

var validate = validator.New()

type createSessionRequest struct {
	Flow string `json:"flow" validate:"required,oneof=transform export dedup"`
}

type toggleRequest struct {
	Name string `json:"name" validate:"required"`
	On   *bool  `json:"on" validate:"required"`
}

type presetRequest struct {
	Key string `json:"key" validate:"required"`
}

type filterRequest struct {
	Term string `json:"term" validate:"max=200"`
}

type moveRequest struct {
	Item string `json:"item" validate:"required"`
}

type dropRequest struct {
	PointerY float64       `json:"pointer_y"`
	Target   string        `json:"target" validate:"required"`
	Box      selection.Box `json:"box"`
}

type orderRequest struct {
	Order []string `json:"order" validate:"required,min=1,dive,required"`
}

type categoryRequest struct {
	Key string `json:"key" validate:"required"`
	On  *bool  `json:"on" validate:"required"`
}

type itemRequest struct {
	Key  string `json:"key" validate:"required"`
	Item string `json:"item" validate:"required"`
	On   *bool  `json:"on" validate:"required"`
}

var fieldMessages = map[string]string{
	"required": "The field '%s' is required.",
	"min":      "The field '%s' must have at least %s entries.",
	"max":      "The field '%s' must be no longer than %s characters.",
	"oneof":    "The field '%s' must be one of: %s.",
}

// validationError carries per-field messages keyed by JSON name.
type validationError struct {
	fields map[string]string
}

func (e *validationError) Error() string {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.fields[k])
	}
	return strings.Join(msgs, " ")
}

func (e *validationError) Unwrap() error {
	return core.ErrInvalidRequest
}

// decode reads a JSON body into dst and validates it. An empty body decodes
// as the zero value so validation reports the missing fields.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return &validationError{fields: map[string]string{"body": "Request body must be valid JSON."}}
	}
	return validateStruct(dst)
}

// validateStruct validates s and maps failures to JSON field names.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	t := reflect.TypeOf(s)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	fields := make(map[string]string, len(verrs))
	for _, e := range verrs {
		name := e.StructField()
		if f, ok := t.FieldByName(e.StructField()); ok {
			if tag := strings.Split(f.Tag.Get("json"), ",")[0]; tag != "" {
				name = tag
			}
		}
		fields[name] = fieldMessage(name, e)
	}
	return &validationError{fields: fields}
}

func fieldMessage(name string, e validator.FieldError) string {
	msg, ok := fieldMessages[e.Tag()]
	if !ok {
		return fmt.Sprintf("The field '%s' is invalid.", name)
	}
	if strings.Count(msg, "%s") == 2 {
		return fmt.Sprintf(msg, name, e.Param())
	}
	return fmt.Sprintf(msg, name)
}
