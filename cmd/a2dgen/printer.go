package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/zkarmor/a2dfixtures/internal/checker"
	"github.com/zkarmor/a2dfixtures/internal/fixture"
	"github.com/zkarmor/a2dfixtures/internal/graph"
	"github.com/zkarmor/a2dfixtures/internal/onnx"
)

// printer writes the human-readable summaries. Styles are only applied when the
// output is a terminal.
type printer struct {
	w      io.Writer
	styled bool
	width  int

	title, label, warn, fail, ok lipgloss.Style
}

func newPrinter(f *os.File) *printer {
	fd := int(f.Fd()) //nolint:gosec // G115: file descriptors fit in an int.
	p := &printer{w: f, styled: term.IsTerminal(fd), width: 80}
	if p.styled {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			p.width = w
		}
	}
	p.initStyles()
	return p
}

func (p *printer) initStyles() {
	p.title = lipgloss.NewStyle().Bold(true)
	p.label = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	p.warn = lipgloss.NewStyle().
		Background(lipgloss.Color("13")).
		Foreground(lipgloss.Color("0")).
		Padding(0, 1)
	p.fail = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	p.ok = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) field(name, format string, args ...any) {
	fmt.Fprintf(p.w, "  %s %s\n", p.render(p.label, fmt.Sprintf("%-9s", name)), fmt.Sprintf(format, args...))
}

func (p *printer) rule() {
	width := p.width
	if width > 72 {
		width = 72
	}
	fmt.Fprintln(p.w, p.render(p.label, strings.Repeat("─", width)))
}

// generated prints one block per fixture followed by a one-line verdict.
func (p *printer) generated(results []fixture.Result, seed uint64) {
	p.rule()
	failed := 0
	for _, r := range results {
		fmt.Fprintf(p.w, "%s %s\n", p.render(p.title, r.Variant.String()+" fixture"), r.Path)
		if r.Err != nil {
			failed++
			fmt.Fprintf(p.w, "  %s %v\n", p.render(p.fail, "FAILED"), r.Err)
			continue
		}
		p.field("size", "%s", humanize.Bytes(uint64(r.Size))) //nolint:gosec // G115: sizes are non-negative.
		p.modelInfo(r.Info)
		p.field("sha256", "%s", r.Digest)
		for _, role := range []graph.Role{graph.RoleMain, graph.RoleTrigger} {
			st, ok := r.Stats[role]
			if !ok {
				continue
			}
			p.field(role.String(), "%d tensors, %s values, mean %+.4f, std %.4f, range [%.4f, %.4f]",
				st.Tensors, humanize.Comma(int64(st.Count)), st.Mean, st.StdDev, st.Min, st.Max)
		}
		if r.Variant == graph.Poisoned {
			fmt.Fprintf(p.w, "  %s\n", p.render(p.warn, "⚠ contains a trigger path: for verification tests only"))
		}
	}
	p.rule()
	if failed > 0 {
		fmt.Fprintf(p.w, "%s %d of %d fixtures failed (seed %d)\n", p.render(p.fail, "✗"), failed, len(results), seed)
		return
	}
	fmt.Fprintf(p.w, "%s %d fixtures written (seed %d)\n", p.render(p.ok, "✓"), len(results), seed)
}

func (p *printer) modelInfo(info *onnx.ModelInfo) {
	if info == nil {
		return
	}
	p.field("opset", "%d (IR %d)", info.OpsetVersion, info.IRVersion)
	for _, in := range info.Inputs {
		p.field("input", "%s", in)
	}
	for _, out := range info.Outputs {
		p.field("output", "%s", out)
	}
	p.field("nodes", "%d (%s)", info.NodeCount, strings.Join(info.Operators(), ", "))

	roles := make([]string, 0, len(info.Roles))
	for role := range info.Roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	parts := make([]string, len(roles))
	for i, role := range roles {
		name := role
		if name == "" {
			name = "untagged"
		}
		rc := info.Roles[role]
		parts[i] = fmt.Sprintf("%s %d/%s", name, rc.Tensors, humanize.Comma(rc.Values))
	}
	p.field("weights", "%s", strings.Join(parts, ", "))
}

// verified prints the outcome of checking one artifact.
func (p *printer) verified(path string, info *onnx.ModelInfo, res *checker.Result) {
	status := p.render(p.ok, "OK")
	if !res.OK() {
		status = p.render(p.fail, fmt.Sprintf("%d violation(s)", len(res.Violations)))
	}
	fmt.Fprintf(p.w, "%s %s\n", p.render(p.title, path), status)
	p.modelInfo(info)
	if info != nil {
		if v := info.Metadata[onnx.MetaVariant]; v != "" {
			p.field("variant", "%s", v)
		}
		if s := info.Metadata[onnx.MetaSeed]; s != "" {
			p.field("seed", "%s", s)
		}
	}
	for _, v := range res.Violations {
		fmt.Fprintf(p.w, "  %s %s\n", p.render(p.fail, "-"), v.Error())
	}
}
