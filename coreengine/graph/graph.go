// Package graph builds process groups: processors wired by connections.
//
// A ProcessGroup owns the nodes and connections declared in it and any
// nested groups. Connections may join processors in different groups.
// Lookups and aggregate queries on a group cover its whole subtree.
package graph

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/config"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/connection"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
)

// ErrUnknownRelationship is returned by Build when a connection routes a
// relationship its source processor does not declare.
var ErrUnknownRelationship = errors.New("source processor does not declare relationship")

// ProcessGroup is a set of nodes and connections with nested groups.
// The structure is immutable after Build.
type ProcessGroup struct {
	id          string
	name        string
	parent      *ProcessGroup
	nodes       []*processor.Node
	connections []*connection.Connection
	groups      []*ProcessGroup
}

// Build instantiates every processor of flow from reg and wires the connections.
func Build(flow *config.FlowConfig, reg *processor.Registry) (*ProcessGroup, error) {
	if flow == nil {
		return nil, errors.New("nil flow definition")
	}
	if err := flow.Validate(); err != nil {
		return nil, err
	}

	b := &builder{
		reg:    reg,
		byID:   make(map[string]*processor.Node),
		byName: make(map[string]*processor.Node),
	}
	root, err := b.group(flow, nil)
	if err != nil {
		return nil, err
	}
	if err := b.connect(flow, root); err != nil {
		return nil, err
	}
	return root, nil
}

type builder struct {
	reg    *processor.Registry
	byID   map[string]*processor.Node
	byName map[string]*processor.Node
}

func (b *builder) group(cfg *config.FlowConfig, parent *ProcessGroup) (*ProcessGroup, error) {
	g := &ProcessGroup{id: cfg.ID, name: cfg.Name, parent: parent}
	if g.id == "" {
		g.id = uuid.NewString()
	}

	for _, pc := range cfg.Processors {
		proc, err := b.reg.New(pc.Type)
		if err != nil {
			return nil, fmt.Errorf("processor %s: %w", pc.ID, err)
		}
		if initer, ok := proc.(processor.Initializer); ok {
			if err := initer.Initialize(); err != nil {
				return nil, fmt.Errorf("processor %s: initialize: %w", pc.ID, err)
			}
		}
		node, err := processor.NewNode(pc.NodeConfig(), proc)
		if err != nil {
			return nil, err
		}
		g.nodes = append(g.nodes, node)
		b.byID[node.ID()] = node
		b.byName[node.Name()] = node
	}

	for i := range cfg.Groups {
		child, err := b.group(&cfg.Groups[i], g)
		if err != nil {
			return nil, err
		}
		g.groups = append(g.groups, child)
	}
	return g, nil
}

// connect wires connections declared in cfg and its subgroups onto the
// matching group in the built tree.
func (b *builder) connect(cfg *config.FlowConfig, g *ProcessGroup) error {
	for _, cc := range cfg.Connections {
		src, dst := b.resolve(cc.Source), b.resolve(cc.Destination)
		for _, rel := range cc.Relationships {
			if !src.SupportsRelationship(rel) {
				return fmt.Errorf("%w: connection %s routes %s.%s", ErrUnknownRelationship, cc.Name, src.Name(), rel)
			}
		}

		id := cc.ID
		if id == "" {
			id = uuid.NewString()
		}
		name := cc.Name
		if name == "" {
			name = id
		}
		c := connection.New(connection.Config{
			ID:            id,
			Name:          name,
			SourceID:      src.ID(),
			DestinationID: dst.ID(),
			Relationships: append([]string(nil), cc.Relationships...),
			MaxCount:      cc.MaxCount,
			MaxBytes:      cc.MaxBytes,
			Expiration:    cc.Expiration,
		})
		src.AddOutbound(c)
		dst.AddInbound(c)
		g.connections = append(g.connections, c)
	}
	for i := range cfg.Groups {
		if err := b.connect(&cfg.Groups[i], g.groups[i]); err != nil {
			return err
		}
	}
	return nil
}

// resolve finds a node by id, then by name. Validate guarantees a match.
func (b *builder) resolve(ref string) *processor.Node {
	if n, ok := b.byID[ref]; ok {
		return n
	}
	return b.byName[ref]
}

// =============================================================================
// Structure
// =============================================================================

// ID returns the group id.
func (g *ProcessGroup) ID() string { return g.id }

// Name returns the group name.
func (g *ProcessGroup) Name() string { return g.name }

// Parent returns the enclosing group, nil for the root.
func (g *ProcessGroup) Parent() *ProcessGroup { return g.parent }

// Groups returns the direct child groups.
func (g *ProcessGroup) Groups() []*ProcessGroup {
	return append([]*ProcessGroup(nil), g.groups...)
}

// Walk calls fn for g and every nested group, depth first.
func (g *ProcessGroup) Walk(fn func(*ProcessGroup)) {
	fn(g)
	for _, child := range g.groups {
		child.Walk(fn)
	}
}

// Processors returns every node in the subtree.
func (g *ProcessGroup) Processors() []*processor.Node {
	var out []*processor.Node
	g.Walk(func(pg *ProcessGroup) { out = append(out, pg.nodes...) })
	return out
}

// Connections returns every connection in the subtree.
func (g *ProcessGroup) Connections() []*connection.Connection {
	var out []*connection.Connection
	g.Walk(func(pg *ProcessGroup) { out = append(out, pg.connections...) })
	return out
}

// Sources returns the nodes with no inbound connection.
func (g *ProcessGroup) Sources() []*processor.Node {
	var out []*processor.Node
	for _, n := range g.Processors() {
		if n.IsSource() {
			out = append(out, n)
		}
	}
	return out
}

// FindProcessor looks a node up by id or name.
func (g *ProcessGroup) FindProcessor(ref string) (*processor.Node, bool) {
	var byName *processor.Node
	for _, n := range g.Processors() {
		if n.ID() == ref {
			return n, true
		}
		if byName == nil && n.Name() == ref {
			byName = n
		}
	}
	return byName, byName != nil
}

// FindConnection looks a connection up by id or name.
func (g *ProcessGroup) FindConnection(ref string) (*connection.Connection, bool) {
	var byName *connection.Connection
	for _, c := range g.Connections() {
		if c.ID() == ref {
			return c, true
		}
		if byName == nil && c.Name() == ref {
			byName = c
		}
	}
	return byName, byName != nil
}

// =============================================================================
// Aggregate queries
// =============================================================================

// TotalFlowFileCount returns the flow files queued in all connections plus
// the outputs held by nodes after a cancelled commit.
func (g *ProcessGroup) TotalFlowFileCount() int64 {
	var total int64
	for _, c := range g.Connections() {
		total += c.Size()
	}
	for _, n := range g.Processors() {
		total += int64(n.HeldCount())
	}
	return total
}

// AllQueuesEmpty reports whether no connection holds a flow file and no node
// holds undelivered outputs.
func (g *ProcessGroup) AllQueuesEmpty() bool {
	return g.TotalFlowFileCount() == 0
}

// QueueStats returns a snapshot of every connection keyed by connection name.
// Inspecting drops expired flow files.
func (g *ProcessGroup) QueueStats() map[string]connection.Stats {
	out := make(map[string]connection.Stats)
	for _, c := range g.Connections() {
		out[c.Name()] = c.Inspect()
	}
	return out
}
