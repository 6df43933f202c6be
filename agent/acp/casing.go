package acp

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"unicode"

	"github.com/m4xw311/warden/errors"
)

// Values under these keys are passed through untouched: they carry tool
// arguments and outputs whose keys belong to the tool, not the protocol.
var opaqueKeys = map[string]bool{
	"raw_input":  true,
	"raw_output": true,
	"rawInput":   true,
	"rawOutput":  true,
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func snakeToCamel(s string) string {
	var b strings.Builder
	upper := false
	for i, r := range s {
		if r == '_' && i > 0 && i < len(s)-1 {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// convertKeys rewrites every object key in v with conv. Keys starting with
// an underscore (such as _meta) and the values of opaque keys are left as
// they are.
func convertKeys(v any, conv func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if strings.HasPrefix(k, "_") {
				out[k] = val
				continue
			}
			nk := conv(k)
			if opaqueKeys[k] {
				out[nk] = val
				continue
			}
			out[nk] = convertKeys(val, conv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = convertKeys(val, conv)
		}
		return out
	default:
		return v
	}
}

// decodeGeneric parses data keeping numbers as json.Number so ids and
// integers survive the round trip unchanged.
func decodeGeneric(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// A frame holds exactly one value.
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON value")
	}
	return v, nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// toWire converts an internal value into its camelCase JSON encoding.
func toWire(v any) ([]byte, error) {
	data, err := marshal(v)
	if err != nil {
		return nil, err
	}
	generic, err := decodeGeneric(data)
	if err != nil {
		return nil, err
	}
	return marshal(convertKeys(generic, snakeToCamel))
}

// fromWire converts a decoded camelCase value into snake_case JSON that the
// internal structs unmarshal from.
func fromWire(generic any) ([]byte, error) {
	return marshal(convertKeys(generic, camelToSnake))
}
