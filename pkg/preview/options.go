package preview

import (
	"encoding/json"
	"sort"

	"github.com/cuemby/tinymistd/pkg/network"
)

// Subcommand is the tinymist subcommand that runs a preview server
const Subcommand = "preview"

// InvertStrategy controls color inversion for one kind of element
type InvertStrategy string

const (
	InvertAuto   InvertStrategy = "auto"
	InvertNever  InvertStrategy = "never"
	InvertAlways InvertStrategy = "always"
)

// InvertColors is either one strategy for everything or separate strategies
// for images and the rest of the page. The zero value omits the flag.
type InvertColors struct {
	All   InvertStrategy `yaml:"all,omitempty"`
	Rest  InvertStrategy `yaml:"rest,omitempty"`
	Image InvertStrategy `yaml:"image,omitempty"`
}

// Value returns the --invert-colors argument, or "" when unset
func (c InvertColors) Value() string {
	if c.Rest != "" || c.Image != "" {
		rest, image := c.Rest, c.Image
		if rest == "" {
			rest = InvertAuto
		}
		if image == "" {
			image = InvertAuto
		}
		b, _ := json.Marshal(struct {
			Rest  InvertStrategy `json:"rest"`
			Image InvertStrategy `json:"image"`
		}{rest, image})
		return string(b)
	}
	return string(c.All)
}

// Mode is how the document is laid out in the preview
type Mode string

const (
	ModeDocument Mode = "document"
	ModeSlide    Mode = "slide"
)

// Options are the command line options of a preview server. Paths are passed
// through unchanged.
type Options struct {
	PartialRendering  bool              `yaml:"partial_rendering"`
	InvertColors      InvertColors      `yaml:"invert_colors"`
	Root              string            `yaml:"root"`
	Inputs            map[string]string `yaml:"inputs"`
	FontPaths         []string          `yaml:"font_paths"`
	IgnoreSystemFonts bool              `yaml:"ignore_system_fonts"`
	PackagePath       string            `yaml:"package_path"`
	PackageCachePath  string            `yaml:"package_cache_path"`
	Cert              string            `yaml:"cert"`
	Mode              Mode              `yaml:"mode"`
	Host              string            `yaml:"host"`
	OpenInBrowser     bool              `yaml:"open_in_browser"`

	TaskID      string `yaml:"-"`
	DataPort    int    `yaml:"-"`
	ControlPort int    `yaml:"-"`
}

// Default returns the options the daemon starts previews with
func Default() Options {
	return Options{PartialRendering: true}
}

// Args builds the argument list for previewing file, without the binary
func (o Options) Args(file string) []string {
	args := []string{Subcommand}

	if o.PartialRendering {
		args = append(args, "--partial-rendering")
	}
	if v := o.InvertColors.Value(); v != "" {
		args = append(args, "--invert-colors="+v)
	}
	if o.Root != "" {
		args = append(args, "--root", o.Root)
	}

	keys := make([]string, 0, len(o.Inputs))
	for k := range o.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--input", k+"="+o.Inputs[k])
	}

	for _, p := range o.FontPaths {
		args = append(args, "--font-path", p)
	}
	if o.IgnoreSystemFonts {
		args = append(args, "--ignore-system-fonts")
	}
	if o.PackagePath != "" {
		args = append(args, "--package-path", o.PackagePath)
	}
	if o.PackageCachePath != "" {
		args = append(args, "--package-cache-path", o.PackageCachePath)
	}
	if o.Cert != "" {
		args = append(args, "--cert", o.Cert)
	}
	if o.Mode != "" {
		args = append(args, "--preview-mode", string(o.Mode))
	}
	if o.TaskID != "" {
		args = append(args, "--task-id", o.TaskID)
	}
	if o.Host != "" {
		args = append(args, "--host", o.Host)
	}
	if !o.OpenInBrowser {
		args = append(args, "--no-open")
	}
	if o.DataPort > 0 {
		args = append(args, "--data-plane-host", network.HostPort(o.DataPort))
	}
	if o.ControlPort > 0 {
		args = append(args, "--control-plane-host", network.HostPort(o.ControlPort))
	}

	return append(args, file)
}

// WithPorts returns a copy of o bound to a task and its two ports
func (o Options) WithPorts(taskID string, data, control int) Options {
	o.TaskID = taskID
	o.DataPort = data
	o.ControlPort = control
	return o
}

