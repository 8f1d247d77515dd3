// Package volume factors the staging/post-process/volume-request plumbing
// shared by the optical and block-device backends out of either one: both
// are "volumed" backends, staging archive parts into a directory before
// an assemble-and-write pipeline commits them to the physical medium.
package volume

import "strings"

// ExpandTemplate substitutes the command-template placeholders %device,
// %directory, %image, %file, %number, %sectors, %j, and %j1. Unknown
// placeholders are left intact rather than erroring, so a template written
// against a future placeholder set still runs.
func ExpandTemplate(tmpl string, vars TemplateVars) string {
	r := strings.NewReplacer(
		"%device", vars.Device,
		"%directory", vars.Directory,
		"%image", vars.Image,
		"%file", vars.File,
		"%number", vars.Number,
		"%sectors", vars.Sectors,
		"%j1", vars.J1, // must precede %j below so the longer token wins
		"%j", vars.J,
	)
	return r.Replace(tmpl)
}

// TemplateVars supplies the values for one template expansion. Any field
// left empty simply expands to the empty string; callers fill in only the
// placeholders relevant to the step being run.
type TemplateVars struct {
	Device    string
	Directory string
	Image     string
	File      string
	Number    string
	Sectors   string
	J         string // parallelism
	J1        string // max(1, j-1)
}
