// Package decoder turns cached resource bytes into structured values.
// Decoders are pure: they never touch the network or the cache.
package decoder

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"
)

// Format names a supported decoding format.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
	CBOR Format = "cbor"
	CSV  Format = "csv"
	HTML Format = "html"
)

var ErrorFormatUnknown = fmt.Errorf("unknown decode format")

// Decoder decodes resource bytes into a structured value.
// A nil value with a nil error means the resource is legitimately
// empty or null; a decode failure is always a non-nil error.
type Decoder interface {
	Decode(r io.Reader) (any, error)
}

// Defaults returns the default decoder for every supported format.
func Defaults() map[Format]Decoder {
	return map[Format]Decoder{
		JSON: JSONDecoder{},
		YAML: YAMLDecoder{},
		CBOR: CBORDecoder{},
		CSV:  CSVDecoder{},
		HTML: HTMLDecoder{},
	}
}

// JSONDecoder decodes a JSON document into the usual any-typed tree.
// The literal `null` decodes to a nil value without error.
type JSONDecoder struct{}

func (JSONDecoder) Decode(r io.Reader) (any, error) {
	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// YAMLDecoder decodes a YAML document.
// An empty document decodes to a nil value without error.
type YAMLDecoder struct{}

func (YAMLDecoder) Decode(r io.Reader) (any, error) {
	var v any
	if err := yaml.NewDecoder(r).Decode(&v); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// CBORDecoder decodes a CBOR data item.
type CBORDecoder struct{}

func (CBORDecoder) Decode(r io.Reader) (any, error) {
	var v any
	if err := cbor.NewDecoder(r).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// CSVDecoder decodes tabular data into rows of fields.
// The value is a [][]string; a body with no records decodes to an
// empty slice, not nil.
type CSVDecoder struct{}

func (CSVDecoder) Decode(r io.Reader) (any, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = [][]string{}
	}
	return rows, nil
}

// HTMLDecoder parses structured markup into a document tree (*html.Node).
type HTMLDecoder struct{}

func (HTMLDecoder) Decode(r io.Reader) (any, error) {
	return html.Parse(r)
}
