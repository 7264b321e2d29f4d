package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/run-bigpig/testtrace/pkg/exporter"
	"github.com/run-bigpig/testtrace/pkg/outcome"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "inspect <traces.json>",
		Short: "Print the span tree of a trace file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traces, err := exporter.ReadFile(args[0])
			if err != nil {
				return err
			}
			tree := buildTree(traces)
			tree.print(cmd.OutOrStdout())

			if strict && len(tree.traceIDs) > 1 {
				return fmt.Errorf("expected a single trace id, found %d: %s",
					len(tree.traceIDs), strings.Join(tree.traceIDs, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when the file holds more than one trace id")
	return cmd
}

type node struct {
	span     exporter.LegacySpan
	children []*node
}

type spanTree struct {
	traceIDs []string
	roots    []*node
	count    int
}

// buildTree links spans to their parents across all lines of a trace file.
// Spans whose parent is missing are treated as roots.
func buildTree(traces []exporter.LegacyTrace) *spanTree {
	t := &spanTree{}
	nodes := make(map[string]*node)
	var order []*node
	seen := make(map[string]bool)

	for _, tr := range traces {
		if !seen[tr.TraceID] {
			seen[tr.TraceID] = true
			t.traceIDs = append(t.traceIDs, tr.TraceID)
		}
		for _, s := range tr.Spans {
			n := &node{span: s}
			nodes[s.SpanID] = n
			order = append(order, n)
		}
	}
	t.count = len(order)

	for _, n := range order {
		if parent, ok := nodes[n.span.ParentSpanID]; ok && n.span.ParentSpanID != "" {
			parent.children = append(parent.children, n)
			continue
		}
		t.roots = append(t.roots, n)
	}

	sortNodes(t.roots)
	for _, n := range order {
		sortNodes(n.children)
	}
	return t
}

func sortNodes(nodes []*node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return startTime(nodes[i].span).Before(startTime(nodes[j].span))
	})
}

func startTime(s exporter.LegacySpan) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s.StartTime)
	return t
}

func (t *spanTree) print(w io.Writer) {
	fmt.Fprintf(w, "%d spans in %d trace(s): %s\n", t.count, len(t.traceIDs), strings.Join(t.traceIDs, ", "))
	for _, n := range t.roots {
		n.print(w, 0)
	}
}

func (n *node) print(w io.Writer, depth int) {
	fmt.Fprintf(w, "%s%s", strings.Repeat("  ", depth), n.span.Name())

	attrs := n.span.Attrs()
	if r, ok := attrs[outcome.ResultKey]; ok {
		fmt.Fprintf(w, " [%s]", r)
	}
	if d, ok := duration(n.span); ok {
		fmt.Fprintf(w, " %s", d)
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if k != outcome.ResultKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, " %s=%q", k, attrs[k])
	}
	fmt.Fprintln(w)

	for _, c := range n.children {
		c.print(w, depth+1)
	}
}

func duration(s exporter.LegacySpan) (time.Duration, bool) {
	start, err := time.Parse(time.RFC3339Nano, s.StartTime)
	if err != nil {
		return 0, false
	}
	end, err := time.Parse(time.RFC3339Nano, s.EndTime)
	if err != nil {
		return 0, false
	}
	return end.Sub(start).Round(time.Millisecond), true
}
