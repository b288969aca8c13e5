// Package connection defines saved HTTP connection records and the editor
// form used to build them.
package connection

import (
	"strings"
	"time"

	"github.com/jaxron/conndef/pkg/params"
)

// Method is the HTTP method of a connection.
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodHead    Method = "HEAD"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodPatch   Method = "PATCH"
	MethodOptions Method = "OPTIONS"
)

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodHead, MethodPut, MethodDelete, MethodPatch, MethodOptions:
		return true
	}
	return false
}

// ContentType is the declared encoding of a request body.
type ContentType string

const (
	ContentTypeNone           ContentType = "NONE"
	ContentTypeFormData       ContentType = "FORM-DATA"
	ContentTypeFormURLEncoded ContentType = "X-WWW-FORM-URLENCODED"
	ContentTypeRaw            ContentType = "RAW"
)

// IsForm reports whether the body is built from form fields.
func (c ContentType) IsForm() bool {
	return c == ContentTypeFormData || c == ContentTypeFormURLEncoded
}

// DataFormat is the format of a RAW body.
type DataFormat string

const (
	DataFormatText       DataFormat = "text"
	DataFormatJavascript DataFormat = "Javascript"
	DataFormatJSON       DataFormat = "JSON"
	DataFormatHTML       DataFormat = "html"
	DataFormatXML        DataFormat = "xml"
)

// Types inferred for a saved query parameter value.
const (
	ParamTypeString  = "string"
	ParamTypeNumber  = "number"
	ParamTypeBoolean = "boolean"
)

// HTTPParam is a saved query parameter.
type HTTPParam struct {
	Prop               string `json:"prop"`
	HTTPParametersType string `json:"httpParametersType"`
	Value              string `json:"value"`
}

// Env binds a connection to a domain for a deployment environment.
type Env struct {
	Domain string `json:"domain"`
	Env    string `json:"env"`
}

// Definition is a saved connection record.
type Definition struct {
	ID                 int            `json:"id,omitempty"`
	Name               string         `json:"name"`
	URL                string         `json:"url"`
	HTTPMethod         Method         `json:"httpMethod"`
	HTTPHeader         []params.Pair  `json:"httpHeader,omitempty"`
	HTTPParams         []HTTPParam    `json:"httpParams,omitempty"`
	HTTPContentType    ContentType    `json:"httpContentType,omitempty"`
	RequestDataFormat  DataFormat     `json:"requestDataFormat,omitempty"`
	FormParams         []params.Pair  `json:"formParams,omitempty"`
	HTTPBody           map[string]any `json:"httpBody,omitempty"`
	HTTPCheckCondition string         `json:"httpCheckCondition,omitempty"`
	Description        string         `json:"description,omitempty"`
	EnvList            []Env          `json:"envList,omitempty"`
	Timeout            int            `json:"timeout"`
	Version            int            `json:"version"`
	CreateTime         time.Time      `json:"createTime"`
	UpdateTime         time.Time      `json:"updateTime"`
}

// HistoryEntry is a snapshot of a definition taken before it was updated.
type HistoryEntry struct {
	ConnectionDefinitionID int        `json:"connectionDefinitionId"`
	Version                int        `json:"version"`
	Definition             Definition `json:"definition"`
	RecordTime             time.Time  `json:"recordTime"`
}

// MatchesSearch reports whether the definition name contains search,
// ignoring case. An empty search matches everything.
func (d *Definition) MatchesSearch(search string) bool {
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(d.Name), strings.ToLower(search))
}

// Clone returns a deep copy of d.
func (d *Definition) Clone() *Definition {
	c := *d
	c.HTTPHeader = append([]params.Pair(nil), d.HTTPHeader...)
	c.HTTPParams = append([]HTTPParam(nil), d.HTTPParams...)
	c.FormParams = append([]params.Pair(nil), d.FormParams...)
	c.EnvList = append([]Env(nil), d.EnvList...)
	if d.HTTPBody != nil {
		c.HTTPBody = make(map[string]any, len(d.HTTPBody))
		for k, v := range d.HTTPBody {
			c.HTTPBody[k] = v
		}
	}
	return &c
}
