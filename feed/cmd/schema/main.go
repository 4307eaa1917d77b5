package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/invopop/jsonschema"

	"ebb-and-flow/server/feed"
)

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	schema := buildSchema()

	if err := writeSchema(outPath, schema); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

// frameShapes lists every wire message a subscriber can receive or send,
// in the order they appear in the generated document.
var frameShapes = []struct {
	title       string
	description string
	value       any
}{
	{"Hello Frame", "First frame after the handshake: the full world plus interpretation constants.", feed.HelloMessage{}},
	{"State Frame", "Per-broadcast delta carrying patches against the last known state.", feed.StateMessage{}},
	{"Keyframe Frame", "Full resynchronisation snapshot of every actor on the branch.", feed.KeyframeMessage{}},
	{"Heartbeat Ack Frame", "Server answer to a heartbeat, echoing the client timestamp.", feed.HeartbeatAckMessage{}},
	{"Control Frame", "Client-to-server command: time control, branching or actor orders.", feed.ControlMessage{}},
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}

	frames := make([]*jsonschema.Schema, 0, len(frameShapes))
	for _, shape := range frameShapes {
		frame := reflector.ReflectFromType(reflect.TypeOf(shape.value))
		frame.Version = ""
		frame.Title = shape.title
		frame.Description = shape.description
		frames = append(frames, frame)
	}

	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "Ebb & Flow Feed Protocol",
		Description: fmt.Sprintf("Wire frames exchanged over the feed websocket, protocol version %d.", feed.ProtocolVersion),
		OneOf:       frames,
	}
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
