// Package dmsviz drives the configure-dms-viz command line tool, which turns
// site maps and metric tables into dms-viz JSON configurations.
package dmsviz

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// DefaultProgram is the command used to format dms-viz configurations.
var DefaultProgram = []string{"configure-dms-viz", "format"}

// DefaultPalette is the base palette, one color per plotted condition.
var DefaultPalette = []string{"#6A5ACD", "#B22222", "#2E8B57"}

// ConditionOptions are passed on every run so conditions are plotted as separate series.
var ConditionOptions = []string{"--condition", "condition", "--condition-name", "Factor"}

// Tool runs configure-dms-viz.
type Tool struct {
	program []string
	// Extra options appended to every invocation.
	Extra []string
}

// Request describes a single dms-viz configuration.
type Request struct {
	Name           string
	Colors         []string
	Metric         string
	StructurePath  string
	IncludedChains []string
	ExcludedChains []string
	MetricPath     string
	SitemapPath    string
	OutputPath     string
}

// InvocationError reports a failed configure-dms-viz run.
type InvocationError struct {
	Args   []string
	Output string
	Err    error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("configure-dms-viz: %v", e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + lastLine(out)
	}
	return msg
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ErrNoOutput is reported when the tool exits cleanly without writing its output file.
var ErrNoOutput = errors.New("output file not written")

// New returns a Tool running program, or DefaultProgram when program is empty.
func New(program []string) (*Tool, error) {
	if len(program) == 0 {
		program = DefaultProgram
	}
	if strings.TrimSpace(program[0]) == "" {
		return nil, errors.New("empty configure-dms-viz program")
	}
	return &Tool{program: append([]string(nil), program...)}, nil
}

// Program returns the executable and its leading arguments.
func (t *Tool) Program() []string {
	return append([]string(nil), t.program...)
}

// Description returns the description shown by dms-viz for a configuration name.
func Description(name string) string {
	return "GCReplay: " + name
}

// Args returns the arguments passed to the program for a request.
func (t *Tool) Args(req Request) []string {
	args := []string{
		"--name", req.Name,
		"--title", req.Name,
		"--description", Description(req.Name),
		"--colors", strings.Join(req.Colors, ","),
		"--metric", req.Metric,
	}
	if req.StructurePath != "" {
		args = append(args, "--structure", req.StructurePath)
	}
	if len(req.IncludedChains) > 0 {
		args = append(args, "--included-chains", strings.Join(req.IncludedChains, " "))
	}
	if len(req.ExcludedChains) > 0 {
		args = append(args, "--excluded-chains", strings.Join(req.ExcludedChains, " "))
	}
	args = append(args,
		"--input", req.MetricPath,
		"--sitemap", req.SitemapPath,
		"--output", req.OutputPath,
	)
	args = append(args, ConditionOptions...)
	return append(args, t.Extra...)
}

// Configure runs the program for a request and waits for it to exit.
// A non-zero exit or a missing output file returns an *InvocationError.
func (t *Tool) Configure(ctx context.Context, req Request) error {
	args := append(t.program[1:len(t.program):len(t.program)], t.Args(req)...)

	// A stale output from a previous run must not pass for this one.
	os.Remove(req.OutputPath)

	cmd := exec.CommandContext(ctx, t.program[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &InvocationError{Args: cmd.Args, Output: string(out), Err: err}
	}

	if _, err := os.Stat(req.OutputPath); err != nil {
		if os.IsNotExist(err) {
			err = ErrNoOutput
		}
		return &InvocationError{Args: cmd.Args, Output: string(out), Err: err}
	}

	return nil
}

// Palette returns n colors from base, cycling when n exceeds its length.
func Palette(base []string, n int) []string {
	if len(base) == 0 {
		base = DefaultPalette
	}
	colors := make([]string, n)
	for i := range colors {
		colors[i] = base[i%len(base)]
	}
	return colors
}

var hexColor = regexp.MustCompile(`^#?([0-9A-Fa-f]{6})$`)

// ParseColor validates a #RRGGBB or RRGGBB color and returns it as #RRGGBB in upper case.
func ParseColor(s string) (string, error) {
	m := hexColor.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", fmt.Errorf("invalid color %q, expected #RRGGBB", s)
	}
	return "#" + strings.ToUpper(m[1]), nil
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
