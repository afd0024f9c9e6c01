package output

import (
	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"destore/internal/layout"
	"destore/internal/schema"
)

// SchemaGraph builds a containment graph: each export symbol points at
// its root type, and every type points at the types it contains. Named
// types appear once however often they are referenced.
func SchemaGraph(exports []layout.Export) *lattice.Graph {
	b := graphBuilder{g: &lattice.Graph{}, seen: make(map[string]bool)}
	for _, e := range exports {
		b.node(e.Symbol)
		b.g.Edges = append(b.g.Edges, lattice.Edge{Caller: e.Symbol, Callee: label(e.Schema)})
		b.add(e.Schema)
	}
	b.g.Dedup()
	return b.g
}

type graphBuilder struct {
	g    *lattice.Graph
	seen map[string]bool
}

// node records name and reports whether it was new.
func (b *graphBuilder) node(name string) bool {
	if b.seen[name] {
		return false
	}
	b.seen[name] = true
	b.g.Nodes = append(b.g.Nodes, name)
	return true
}

// SchemaDOT renders SchemaGraph as Graphviz DOT.
func SchemaDOT(exports []layout.Export, title string) string {
	return render.DOT(SchemaGraph(exports), title)
}

func (b *graphBuilder) add(n *schema.Node) {
	from := label(n)
	if !b.node(from) {
		return
	}
	link := func(c *schema.Node) {
		b.g.Edges = append(b.g.Edges, lattice.Edge{Caller: from, Callee: label(c)})
		b.add(c)
	}
	switch n.Kind {
	case schema.KindOption, schema.KindSeq:
		link(n.Elem)
	case schema.KindTuple:
		for _, c := range n.Elems {
			link(c)
		}
	case schema.KindMap:
		link(n.Key)
		link(n.Val)
	case schema.KindStruct:
		for _, c := range shapeChildren(n.Body) {
			link(c)
		}
	case schema.KindEnum:
		for _, v := range n.Variants {
			for _, c := range shapeChildren(v.Body) {
				link(c)
			}
		}
	}
}

func shapeChildren(s *schema.Shape) []*schema.Node {
	switch s.Kind {
	case schema.ShapeNewtype:
		return []*schema.Node{s.Newtype}
	case schema.ShapeTuple:
		return s.Elems
	case schema.ShapeStruct:
		out := make([]*schema.Node, len(s.Fields))
		for i, f := range s.Fields {
			out[i] = f.Type
		}
		return out
	}
	return nil
}

// label names named types by their name and everything else by its
// pseudocode.
func label(n *schema.Node) string {
	if n.Kind == schema.KindStruct || n.Kind == schema.KindEnum {
		return n.Name
	}
	return n.String()
}
