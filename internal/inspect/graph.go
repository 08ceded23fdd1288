// Package inspect rebuilds the pipeline's dependency graph from the schema
// catalog for visualization. The graph is reassembled on every request and
// never cached, so it always reflects current schema state.
package inspect

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/modalbot/backend/internal/catalog"
	"github.com/modalbot/backend/pkg/logger"
)

// errorSampleLimit bounds how many recent records the error counter scans.
const errorSampleLimit = 500

type Node struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"` // "table" or "field"
	Label      string `json:"label"`
	Table      string `json:"table,omitempty"`
	IsView     bool   `json:"is_view,omitempty"`
	IsDerived  bool   `json:"is_derived,omitempty"`
	Type       string `json:"type,omitempty"`
	Derivation string `json:"derivation,omitempty"`
	Expression string `json:"expression,omitempty"`
	ErrorCount int    `json:"error_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Kind  string `json:"kind"` // "view", "dependency" or "query"
	Label string `json:"label,omitempty"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// ErrorSampler counts per-field error markers over recent query records.
type ErrorSampler interface {
	SampleFieldErrors(ctx context.Context, fields []string, limit int) (map[string]int, error)
}

type Builder struct {
	catalog   *catalog.Catalog
	sampler   ErrorSampler
	toolNames map[string]struct{}
}

func NewBuilder(cat *catalog.Catalog, sampler ErrorSampler, toolNames []string) *Builder {
	names := make(map[string]struct{}, len(toolNames))
	for _, n := range toolNames {
		names[n] = struct{}{}
	}
	return &Builder{catalog: cat, sampler: sampler, toolNames: names}
}

func tableNodeID(path string) string {
	return "table:" + path
}

func fieldNodeID(path, column string) string {
	return fmt.Sprintf("field:%s.%s", path, column)
}

// Build reconstructs the full graph: one node per table and per field, with
// view→base, field→field and table→table edges. A table whose error
// sampling fails degrades to a node with the error attached; the rest of
// the graph is unaffected.
func (b *Builder) Build(ctx context.Context) Graph {
	g := Graph{Nodes: make([]Node, 0), Edges: make([]Edge, 0)}

	for _, t := range b.catalog.Tables() {
		b.addTable(ctx, &g, t)
	}

	logger.Debug("Pipeline graph rebuilt",
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("edges", len(g.Edges)),
	)
	return g
}

func (b *Builder) addTable(ctx context.Context, g *Graph, t *catalog.Table) {
	tableNode := Node{
		ID:     tableNodeID(t.Path),
		Kind:   "table",
		Label:  t.Path,
		IsView: t.IsView,
	}

	errCounts := b.sampleErrors(ctx, t, &tableNode)

	g.Nodes = append(g.Nodes, tableNode)

	if t.IsView {
		iterator := t.Iterator
		if iterator == "" || iterator == catalog.IteratorUnknown {
			iterator = detectIterator(t.OwnColumns)
		}
		g.Edges = append(g.Edges, Edge{
			From:  tableNodeID(t.Path),
			To:    tableNodeID(t.Base),
			Kind:  "view",
			Label: string(iterator),
		})
	}

	columnNames := b.catalog.ColumnNames(t.Path)

	for _, col := range t.Columns {
		node := Node{
			ID:        fieldNodeID(t.Path, col.Name),
			Kind:      "field",
			Label:     col.Name,
			Table:     t.Path,
			IsDerived: col.Derived,
			Type:      col.Type,
		}

		if count, ok := errCounts[col.Name]; ok {
			node.ErrorCount = count
		}

		if col.Derived {
			b.addDerivedField(g, t, col, &node, columnNames)
		}

		g.Nodes = append(g.Nodes, node)
	}
}

func (b *Builder) addDerivedField(g *Graph, t *catalog.Table, col catalog.Column, node *Node, columnNames []string) {
	d := col.Derivation
	if d == nil {
		d = &catalog.Derivation{Kind: catalog.KindUnclassified}
	}
	node.Expression = d.Raw

	kind := d.Kind
	name := d.Name
	target := d.TargetTable
	inputs := d.Inputs

	// columns registered with only a raw expression fall back to pattern
	// matching
	if kind == catalog.KindUnclassified && d.Raw != "" {
		c := classifyExpression(d.Raw, b.toolNames)
		kind, name, target = c.Kind, c.Name, c.TargetTable
		inputs = extractDependencies(d.Raw, columnNames)
	}

	node.Derivation = string(kind)
	if name != "" {
		node.Derivation = fmt.Sprintf("%s:%s", kind, name)
	}

	for _, input := range inputs {
		if input == col.Name {
			continue
		}
		g.Edges = append(g.Edges, Edge{
			From: fieldNodeID(t.Path, col.Name),
			To:   fieldNodeID(t.Path, input),
			Kind: "dependency",
		})
	}

	if kind == catalog.KindQuery && target != "" {
		g.Edges = append(g.Edges, Edge{
			From:  tableNodeID(t.Path),
			To:    tableNodeID(target),
			Kind:  "query",
			Label: name,
		})
	}
}

// sampleErrors counts error markers for the query record table's derived
// fields. Other tables carry no per-row error markers in the record store.
func (b *Builder) sampleErrors(ctx context.Context, t *catalog.Table, tableNode *Node) map[string]int {
	if b.sampler == nil || t.Path != catalog.TableQueryRecords {
		return nil
	}

	fields := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		if col.Derived {
			fields = append(fields, col.Name)
		}
	}

	counts, err := b.sampler.SampleFieldErrors(ctx, fields, errorSampleLimit)
	if err != nil {
		logger.Warn("Error sampling failed, degrading table node",
			zap.String("table", t.Path),
			zap.Error(err),
		)
		tableNode.Error = err.Error()
		return nil
	}
	return counts
}
