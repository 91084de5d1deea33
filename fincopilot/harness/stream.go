package harness

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
)

type assemblerState int

const (
	assemblerIdle      assemblerState = iota // no fragment seen yet
	assemblerReceiving                       // at least one fragment buffered
	assemblerComplete                        // provider signalled the end of the message
)

var errAssemblerClosed = errors.New("tool call fragments received after completion")

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// toolCallAssembler reassembles streamed tool-call fragments keyed by index.
// Arguments are opaque until Complete; partial JSON is never parsed.
type toolCallAssembler struct {
	state assemblerState
	parts map[int]*partialCall
}

func newToolCallAssembler() *toolCallAssembler {
	return &toolCallAssembler{parts: make(map[int]*partialCall)}
}

// Add buffers fragments. IDs and names are taken from the first fragment that carries them.
func (a *toolCallAssembler) Add(deltas []ports.ToolCallDelta) error {
	if a.state == assemblerComplete {
		return errAssemblerClosed
	}
	for _, d := range deltas {
		pc, ok := a.parts[d.Index]
		if !ok {
			pc = &partialCall{}
			a.parts[d.Index] = pc
		}
		if pc.id == "" && d.ID != "" {
			pc.id = d.ID
		}
		if pc.name == "" && d.Name != "" {
			pc.name = d.Name
		}
		pc.args.WriteString(d.Arguments)
		a.state = assemblerReceiving
	}
	return nil
}

// Started reports whether any tool-call fragment has arrived.
func (a *toolCallAssembler) Started() bool { return a.state != assemblerIdle }

// Complete closes the assembler and returns calls ordered by index.
func (a *toolCallAssembler) Complete() ([]ports.ToolCall, error) {
	if a.state == assemblerComplete {
		return nil, errAssemblerClosed
	}
	a.state = assemblerComplete

	indices := make([]int, 0, len(a.parts))
	for idx := range a.parts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	calls := make([]ports.ToolCall, 0, len(indices))
	for _, idx := range indices {
		pc := a.parts[idx]
		if pc.name == "" {
			return nil, fmt.Errorf("tool call at index %d has no name", idx)
		}
		calls = append(calls, ports.ToolCall{
			ID:   pc.id,
			Name: pc.name,
			Args: []byte(pc.args.String()),
		})
	}
	return calls, nil
}
