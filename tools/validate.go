package tools

import (
	"bytes"
	"encoding/json"
	neturl "net/url"
	"sync"

	"github.com/m4xw311/warden/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var compiled sync.Map // Tool -> *jsonschema.Schema

// Validate checks args against the tool's schema. Schemas are compiled once
// per tool instance.
func Validate(t Tool, args map[string]any) error {
	sch, err := schemaFor(t)
	if err != nil {
		return err
	}
	if args == nil {
		args = map[string]any{}
	}
	instance, err := normalize(args)
	if err != nil {
		return errors.Wrapf(err, "encoding arguments for '%s'", t.Name())
	}
	if err := sch.Validate(instance); err != nil {
		return errors.Wrapf(err, "invalid arguments for '%s'", t.Name())
	}
	return nil
}

func schemaFor(t Tool) (*jsonschema.Schema, error) {
	if s, ok := compiled.Load(t); ok {
		return s.(*jsonschema.Schema), nil
	}
	doc, err := normalize(t.Schema())
	if err != nil {
		return nil, errors.Wrapf(err, "encoding schema for '%s'", t.Name())
	}
	url := "https://warden.local/tools/" + neturl.PathEscape(t.Name()) + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, errors.Wrapf(err, "adding schema for '%s'", t.Name())
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, errors.Wrapf(err, "compiling schema for '%s'", t.Name())
	}
	compiled.Store(t, sch)
	return sch, nil
}

// normalize round-trips v through JSON so numbers arrive as json.Number.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}
