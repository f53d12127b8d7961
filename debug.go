package elif

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

type GraphInfo struct {
	Services []ServiceInfo
}

type ServiceInfo struct {
	Key          string
	Module       string
	Lifetime     string
	Dependencies []string
	Dependents   []string
	Instantiated bool
}

// Graph describes the composed bindings in declaration order.
func (p *Plan) Graph() GraphInfo {
	return p.graph(nil)
}

// Graph is the plan graph with the singletons built so far marked.
func (c *Container) Graph() GraphInfo {
	return c.plan.graph(c.internal.Built)
}

func (p *Plan) graph(built func(Key) bool) GraphInfo {
	bindings := p.table.Bindings()
	dependents := make(map[string][]string)
	for _, b := range bindings {
		for _, d := range b.Deps {
			dependents[d.Key.String()] = append(dependents[d.Key.String()], b.Key.String())
		}
	}

	services := make([]ServiceInfo, 0, len(bindings))
	for _, b := range bindings {
		deps := make([]string, len(b.Deps))
		for i, d := range b.Deps {
			deps[i] = d.Key.String()
		}
		services = append(services, ServiceInfo{
			Key:          b.Key.String(),
			Module:       b.Module,
			Lifetime:     b.Lifetime.String(),
			Dependencies: deps,
			Dependents:   dependents[b.Key.String()],
			Instantiated: built != nil && built(b.Key),
		})
	}

	return GraphInfo{Services: services}
}

func (p *Plan) FprintGraph(w io.Writer) {
	fprintGraph(w, p.Graph())
}

func (c *Container) FprintGraph(w io.Writer) {
	fprintGraph(w, c.Graph())
}

func (c *Container) PrintGraph() {
	c.FprintGraph(os.Stdout)
}

func fprintGraph(w io.Writer, info GraphInfo) {
	if len(info.Services) == 0 {
		_, _ = fmt.Fprintln(w, "(no bindings)")
		return
	}

	for _, svc := range info.Services {
		status := "○"
		if svc.Instantiated {
			status = "●"
		}

		if len(svc.Dependencies) == 0 {
			_, _ = fmt.Fprintf(w, "%s %s [%s, %s]\n", status, svc.Key, svc.Module, svc.Lifetime)
		} else {
			_, _ = fmt.Fprintf(w, "%s %s [%s, %s] ← %s\n",
				status, svc.Key, svc.Module, svc.Lifetime, strings.Join(svc.Dependencies, ", "))
		}
	}
}

func (p *Plan) SprintGraph() string {
	var sb strings.Builder
	p.FprintGraph(&sb)
	return sb.String()
}

// FprintGraphDOT writes the binding graph in Graphviz format, one cluster
// per module.
func (p *Plan) FprintGraphDOT(w io.Writer) {
	info := p.Graph()

	_, _ = fmt.Fprintln(w, "digraph dependencies {")
	_, _ = fmt.Fprintln(w, "  rankdir=LR;")
	_, _ = fmt.Fprintln(w, "  node [shape=box];")

	for i, m := range p.modules {
		_, _ = fmt.Fprintf(w, "  subgraph cluster_%d {\n", i)
		_, _ = fmt.Fprintf(w, "    label=%q;\n", m.id)
		for _, svc := range info.Services {
			if svc.Module == m.id {
				_, _ = fmt.Fprintf(w, "    %q [label=%q];\n", svc.Key, escapeLabel(svc.Key))
			}
		}
		_, _ = fmt.Fprintln(w, "  }")
	}

	_, _ = fmt.Fprintln(w)

	for _, svc := range info.Services {
		for _, dep := range svc.Dependencies {
			_, _ = fmt.Fprintf(w, "  %q -> %q;\n", svc.Key, dep)
		}
	}

	_, _ = fmt.Fprintln(w, "}")
}

func (p *Plan) SprintGraphDOT() string {
	var sb strings.Builder
	p.FprintGraphDOT(&sb)
	return sb.String()
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "*", "")
	if idx := strings.LastIndex(s, "/"); idx != -1 {
		s = s[idx+1:]
	}
	return s
}

// FprintRoutes renders the route table.
func (p *Plan) FprintRoutes(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Method", "Pattern", "Name", "Controller", "Module"})
	for _, r := range p.Routes() {
		t.AppendRow(table.Row{r.Method, r.Pattern, r.Name, r.Controller, r.Module})
	}
	t.Render()

	for _, warning := range p.Warnings() {
		_, _ = fmt.Fprintf(w, "warning: %s\n", warning)
	}
}

// FprintBindings renders bindings with their lifetime and visibility.
func (p *Plan) FprintBindings(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Service", "Module", "Lifetime", "Exported", "Visible to", "Depends on"})
	for _, b := range p.Bindings() {
		t.AppendRow(table.Row{
			b.Key,
			b.Module,
			b.Lifetime,
			b.Exported,
			strings.Join(b.VisibleTo, ", "),
			strings.Join(b.Dependencies, ", "),
		})
	}
	t.Render()
}
