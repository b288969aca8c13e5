// Package task models the parameters of an HTTP workflow step and lets a
// step reuse the settings of a saved connection.
package task

import (
	"regexp"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/jaxron/conndef/pkg/connection"
	"go.uber.org/multierr"
)

// Position says where a step parameter is placed in the outgoing request.
type Position string

const (
	PositionParameter Position = "Parameter"
	PositionBody      Position = "Body"
	PositionHeaders   Position = "Headers"
)

// CheckCondition decides how a step judges the HTTP response.
type CheckCondition string

const (
	CheckStatusCodeDefault CheckCondition = "STATUS_CODE_DEFAULT"
	CheckStatusCodeCustom  CheckCondition = "STATUS_CODE_CUSTOM"
	CheckBodyContains      CheckCondition = "BODY_CONTAINS"
	CheckBodyNotContains   CheckCondition = "BODY_NOT_CONTAINS"
)

// Param is one header, query parameter or body field of a step.
type Param struct {
	Prop               string   `json:"prop"`
	HTTPParametersType Position `json:"httpParametersType"`
	Value              string   `json:"value"`
}

// Step is the parameter model of an HTTP workflow step.
type Step struct {
	URL                string            `json:"url"`
	HTTPMethod         connection.Method `json:"httpMethod"`
	HTTPParams         []Param           `json:"httpParams"`
	HTTPBody           string            `json:"httpBody,omitempty"`
	HTTPCheckCondition CheckCondition    `json:"httpCheckCondition,omitempty"`
	Condition          string            `json:"condition,omitempty"`
	ConnectTimeout     int               `json:"connectTimeout"`
	SocketTimeout      int               `json:"socketTimeout"`
}

// NewStep returns a step with the editor defaults.
func NewStep() *Step {
	return &Step{
		HTTPMethod:         connection.MethodGet,
		HTTPCheckCondition: CheckStatusCodeDefault,
		ConnectTimeout:     60000,
		SocketTimeout:      60000,
	}
}

// ImportConnection copies the settings of def into s. A nil def leaves s
// untouched. The step's parameter list is replaced; headers, query
// parameters and, for form bodies, form fields are tagged by position.
// Timeouts are converted from seconds to milliseconds.
func ImportConnection(s *Step, def *connection.Definition) {
	if def == nil {
		return
	}

	s.URL = def.URL
	s.HTTPMethod = def.HTTPMethod

	httpParams := make([]Param, 0, len(def.HTTPHeader)+len(def.HTTPParams)+len(def.FormParams))
	for _, h := range def.HTTPHeader {
		httpParams = append(httpParams, Param{Prop: h.Key, HTTPParametersType: PositionHeaders, Value: h.Value})
	}
	for _, p := range def.HTTPParams {
		httpParams = append(httpParams, Param{Prop: p.Prop, HTTPParametersType: PositionParameter, Value: p.Value})
	}
	if def.HTTPContentType.IsForm() {
		for _, f := range def.FormParams {
			httpParams = append(httpParams, Param{Prop: f.Key, HTTPParametersType: PositionBody, Value: f.Value})
		}
	}
	s.HTTPParams = httpParams

	if len(def.HTTPBody) > 0 {
		// A map always marshals
		s.HTTPBody, _ = sonic.MarshalString(def.HTTPBody)
	}
	if def.Timeout > 0 {
		s.ConnectTimeout = def.Timeout * 1000
		s.SocketTimeout = def.Timeout * 1000
	}
}

// FieldError reports a validation failure for one step field.
type FieldError = connection.FieldError

var urlPattern = regexp.MustCompile(`(?i)^https?://\S*`)

// Validate checks the step and returns every violation found.
// Every row whose prop appears more than once is reported.
func Validate(s *Step) error {
	var err error

	switch {
	case s.URL == "":
		err = multierr.Append(err, &FieldError{Field: "url", Message: "please enter the request url"})
	case !urlPattern.MatchString(s.URL):
		err = multierr.Append(err, &FieldError{Field: "url", Message: "url must start with http:// or https://"})
	}

	counts := make(map[string]int, len(s.HTTPParams))
	for _, p := range s.HTTPParams {
		counts[p.Prop]++
	}

	for i, p := range s.HTTPParams {
		field := "httpParams[" + strconv.Itoa(i) + "]"
		if p.Prop == "" {
			err = multierr.Append(err, &FieldError{Field: field + ".prop", Message: "please enter the prop"})
		} else if counts[p.Prop] > 1 {
			err = multierr.Append(err, &FieldError{Field: field + ".prop", Message: "prop is repeated"})
		}
		if p.Value == "" {
			err = multierr.Append(err, &FieldError{Field: field + ".value", Message: "please enter the value"})
		}
	}

	if s.ConnectTimeout < 0 {
		err = multierr.Append(err, &FieldError{Field: "connectTimeout", Message: "connect timeout must be a positive integer"})
	}
	if s.SocketTimeout < 0 {
		err = multierr.Append(err, &FieldError{Field: "socketTimeout", Message: "socket timeout must be a positive integer"})
	}
	return err
}
