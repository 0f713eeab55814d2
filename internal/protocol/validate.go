package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	TypeMove:              "move.schema.json",
	TypeRemoveBlock:       "remove_block.schema.json",
	TypePlaceBlockRequest: "place_block_request.schema.json",
	TypeInit:              "init.schema.json",
	TypePlayerJoined:      "player.schema.json",
	TypePlayerMoved:       "player.schema.json",
	TypePlayerLeft:        "player.schema.json",
	TypeBlockRemoved:      "block.schema.json",
	TypeBlockPlaced:       "block.schema.json",
}

// Validator checks raw messages against the embedded JSON Schemas.
type Validator struct {
	byType map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	compiled := map[string]*jsonschema.Schema{}
	v := &Validator{byType: map[string]*jsonschema.Schema{}}
	for typ, name := range schemaFiles {
		if s, ok := compiled[name]; ok {
			v.byType[typ] = s
			continue
		}
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		url := "mem://schemas/" + name
		if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		compiled[name] = s
		v.byType[typ] = s
	}
	return v, nil
}

// Validate checks raw against the schema registered for typ.
func (v *Validator) Validate(typ string, raw []byte) error {
	s, ok := v.byType[typ]
	if !ok {
		return fmt.Errorf("unknown message type %q", typ)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}
