package connection

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jaxron/conndef/pkg/params"
	"go.uber.org/multierr"
)

var ErrInvalidForm = errors.New("invalid connection form")

// FieldError reports a validation failure for one form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Form is the editable state of the connection editor. Handlers in this
// file mutate it in response to one user event each.
type Form struct {
	ID                int            `json:"id,omitempty"`
	Name              string         `json:"name"`
	URL               string         `json:"url"`
	HTTPMethod        Method         `json:"httpMethod"`
	Timeout           int            `json:"timeout"`
	HTTPHeader        []params.Pair  `json:"httpHeader"`
	HTTPParams        []params.Pair  `json:"httpParams"`
	HTTPContentType   ContentType    `json:"httpContentType,omitempty"`
	RequestDataFormat DataFormat     `json:"requestDataFormat,omitempty"`
	FormParams        []params.Pair  `json:"formParams"`
	HTTPBody          map[string]any `json:"httpBody,omitempty"`
	Description       string         `json:"description,omitempty"`
	EnvList           []Env          `json:"envList,omitempty"`
}

// NewForm returns an empty form with the editor defaults.
func NewForm() *Form {
	return &Form{HTTPMethod: MethodGet}
}

// FormFromDefinition loads a saved definition into a form for editing.
func FormFromDefinition(d *Definition) *Form {
	f := &Form{
		ID:                d.ID,
		Name:              d.Name,
		URL:               d.URL,
		HTTPMethod:        d.HTTPMethod,
		Timeout:           d.Timeout,
		HTTPHeader:        append([]params.Pair(nil), d.HTTPHeader...),
		HTTPContentType:   d.HTTPContentType,
		RequestDataFormat: d.RequestDataFormat,
		FormParams:        append([]params.Pair(nil), d.FormParams...),
		HTTPBody:          d.HTTPBody,
		Description:       d.Description,
		EnvList:           append([]Env(nil), d.EnvList...),
	}
	for _, p := range d.HTTPParams {
		f.HTTPParams = append(f.HTTPParams, params.Pair{Key: p.Prop, Value: p.Value})
	}
	return f
}

// OnURLInput handles a change of the URL text.
// Mutates URL and replaces HTTPParams with the pairs parsed from raw.
func OnURLInput(f *Form, raw string) {
	f.URL = raw
	f.HTTPParams = params.Parse(raw)
}

// OnParamsUpdate handles an edit of the parameter list.
// Mutates HTTPParams (kept as given, blank rows included) and URL, which is
// recomposed from its base and the complete pairs. The parser is not run.
func OnParamsUpdate(f *Form, pairs []params.Pair) {
	f.HTTPParams = pairs
	f.URL = params.Compose(params.Base(f.URL), pairs)
}

// OnMethodChange handles a change of the HTTP method.
// Mutates HTTPMethod and clears every body related field.
func OnMethodChange(f *Form, m Method) {
	f.HTTPMethod = m
	f.HTTPBody = nil
	f.FormParams = nil
	f.HTTPContentType = ""
	f.RequestDataFormat = ""
}

// OnContentTypeChange handles a change of the body content type.
// Mutates HTTPContentType, FormParams and RequestDataFormat.
func OnContentTypeChange(f *Form, ct ContentType) {
	f.HTTPContentType = ct
	f.FormParams = nil
	f.RequestDataFormat = ""

	switch {
	case ct == ContentTypeRaw:
		f.RequestDataFormat = DataFormatJSON
	case ct.IsForm():
		f.FormParams = []params.Pair{{}}
	}
}

// Validate checks the form and returns every violation found, combined
// with multierr. Each violation is a *FieldError.
func Validate(f *Form) error {
	var err error
	if f.Name == "" {
		err = multierr.Append(err, &FieldError{Field: "name", Message: "please enter a connection name"})
	}
	if f.URL == "" {
		err = multierr.Append(err, &FieldError{Field: "url", Message: "please enter a connection url"})
	}
	if f.HTTPMethod != "" && !f.HTTPMethod.Valid() {
		err = multierr.Append(err, &FieldError{Field: "httpMethod", Message: fmt.Sprintf("unsupported method %q", f.HTTPMethod)})
	}
	if f.Timeout < 0 {
		err = multierr.Append(err, &FieldError{Field: "timeout", Message: "timeout must not be negative"})
	}
	for i, p := range f.HTTPParams {
		if !p.Complete() {
			err = multierr.Append(err, &FieldError{
				Field:   "httpParams[" + strconv.Itoa(i) + "]",
				Message: "params key and value must not be empty",
			})
		}
	}
	return err
}

// FieldErrors unpacks the violations returned by Validate.
func FieldErrors(err error) []*FieldError {
	var out []*FieldError
	var walk func(error)
	walk = func(e error) {
		switch x := e.(type) {
		case nil:
		case *FieldError:
			out = append(out, x)
		case interface{ Errors() []error }:
			for _, inner := range x.Errors() {
				walk(inner)
			}
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return out
}

// Definition validates the form and converts it into a record ready to be
// saved or tested. Each query parameter is tagged with the type its value
// looks like.
func (f *Form) Definition() (*Definition, error) {
	if err := Validate(f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidForm, err)
	}

	method := f.HTTPMethod
	if method == "" {
		method = MethodGet
	}

	d := &Definition{
		ID:                f.ID,
		Name:              f.Name,
		URL:               f.URL,
		HTTPMethod:        method,
		HTTPHeader:        keyedPairs(f.HTTPHeader),
		HTTPContentType:   f.HTTPContentType,
		RequestDataFormat: f.RequestDataFormat,
		HTTPBody:          f.HTTPBody,
		Description:       f.Description,
		EnvList:           append([]Env(nil), f.EnvList...),
		Timeout:           f.Timeout,
	}
	if f.HTTPContentType.IsForm() {
		d.FormParams = keyedPairs(f.FormParams)
	}
	for _, p := range f.HTTPParams {
		d.HTTPParams = append(d.HTTPParams, HTTPParam{
			Prop:               p.Key,
			HTTPParametersType: InferParamType(p.Value),
			Value:              p.Value,
		})
	}
	return d, nil
}

// InferParamType classifies a parameter value as number, boolean or string.
func InferParamType(v string) string {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return ParamTypeNumber
	}
	if v == "true" || v == "false" {
		return ParamTypeBoolean
	}
	return ParamTypeString
}

func keyedPairs(pairs []params.Pair) []params.Pair {
	var out []params.Pair
	for _, p := range pairs {
		if p.Key != "" {
			out = append(out, params.Pair{Key: p.Key, Value: p.Value})
		}
	}
	return out
}
