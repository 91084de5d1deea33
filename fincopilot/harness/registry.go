package harness

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
)

var (
	// ErrUnknownTool is returned for calls naming a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments wraps malformed JSON and schema violations.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

type registeredTool struct {
	tool   ports.Tool
	spec   ports.ToolSpec
	schema *gojsonschema.Schema
}

// Registry is the static catalog of tools advertised to the model. Arguments are
// validated against the tool's JSON schema before the tool decodes them into its
// own typed variant.
type Registry struct {
	tools map[string]*registeredTool
	order []string
}

// NewRegistry registers tools in the given order.
func NewRegistry(tools ...ports.Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*registeredTool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool, compiling its schema once.
func (r *Registry) Register(t ports.Tool) error {
	spec := t.Spec()
	if spec.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	if _, dup := r.tools[spec.Name]; dup {
		return fmt.Errorf("tool %s registered twice", spec.Name)
	}

	entry := &registeredTool{tool: t, spec: spec}
	if len(spec.JSONSchema) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(spec.JSONSchema))
		if err != nil {
			return fmt.Errorf("tool %s has an invalid schema: %w", spec.Name, err)
		}
		entry.schema = schema
	}

	r.tools[spec.Name] = entry
	r.order = append(r.order, spec.Name)
	return nil
}

// Spec returns the metadata for name.
func (r *Registry) Spec(name string) (ports.ToolSpec, bool) {
	entry, ok := r.tools[name]
	if !ok {
		return ports.ToolSpec{}, false
	}
	return entry.spec, true
}

// Specs lists every tool in registration order, ready to advertise to the model.
func (r *Registry) Specs() []ports.ToolSpec {
	specs := make([]ports.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		spec := r.tools[name].spec
		if spec.RequiredCompanion != "" {
			spec.Description = strings.TrimSpace(spec.Description) +
				fmt.Sprintf(" Usually paired with %s.", spec.RequiredCompanion)
		}
		specs = append(specs, spec)
	}
	return specs
}

// Decode validates raw against the tool's schema and returns its typed arguments.
func (r *Registry) Decode(name string, raw json.RawMessage) (ports.Tool, ports.Arguments, error) {
	entry, ok := r.tools[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = json.RawMessage("{}")
	}
	if !json.Valid(raw) {
		return nil, nil, fmt.Errorf("%w: arguments for %s are not valid JSON", ErrInvalidArguments, name)
	}

	if entry.schema != nil {
		result, err := entry.schema.Validate(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return nil, nil, fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
		}
	}

	args, err := entry.tool.Decode(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if args.ToolName() != name {
		return nil, nil, fmt.Errorf("%w: tool %s decoded arguments for %s", ErrInvalidArguments, name, args.ToolName())
	}
	return entry.tool, args, nil
}

// Describe renders a human-readable description of a pending call.
func (r *Registry) Describe(call ports.ToolCall) string {
	entry, ok := r.tools[call.Name]
	if !ok {
		return call.Name
	}
	if d, ok := entry.tool.(ports.Describer); ok {
		if args, err := entry.tool.Decode(call.Args); err == nil {
			return d.Describe(args)
		}
	}
	return fmt.Sprintf("%s %s", call.Name, strings.TrimSpace(string(call.Args)))
}
