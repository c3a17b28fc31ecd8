package userdata

import (
	"fmt"
	"strings"

	"github.com/tqchen/yarn-ec2/internal/catalog"
)

// SpecSource resolves instance class specs
type SpecSource interface {
	Get(name string) (*catalog.InstanceSpec, error)
}

// Renderer fills the node bootstrap template with the master address and the resources of the
// worker instance class.
//
// Only lines starting with one of the configuration prefixes below are rewritten; every other
// line passes through byte for byte.
type Renderer struct {
	template string
	specs    SpecSource
}

// NewRenderer creates a renderer over a loaded template
func NewRenderer(template []byte, specs SpecSource) *Renderer {
	return &Renderer{
		template: string(template),
		specs:    specs,
	}
}

// Render returns the bootstrap payload for a worker of instanceClass joining masterAddr
func (r *Renderer) Render(masterAddr, instanceClass string) ([]byte, error) {
	spec, err := r.specs.Get(instanceClass)
	if err != nil {
		return nil, fmt.Errorf("render user data: %w", err)
	}

	lines := strings.SplitAfter(r.template, "\n")
	var b strings.Builder
	b.Grow(len(r.template))

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "MASTER ="):
			fmt.Fprintf(&b, "MASTER = '%s'\n", masterAddr)
		case strings.HasPrefix(line, "NODE_TYPE ="):
			fmt.Fprintf(&b, "NODE_TYPE = '%s'\n", instanceClass)
		case strings.HasPrefix(line, "NODE_VMEM ="):
			fmt.Fprintf(&b, "NODE_VMEM = %d\n", spec.MemoryMiB())
		case strings.HasPrefix(line, "NODE_VCPU ="):
			fmt.Fprintf(&b, "NODE_VCPU = %d\n", spec.VCPU)
		default:
			b.WriteString(line)
		}
	}

	return []byte(b.String()), nil
}
