// Package kickstart reads and writes the unattended installation document.
//
// The document is TOML with one table per command group:
//
//	[selinux]
//	mode = "enforcing"
//
//	[realm]
//	join = "example.com"
//	join_options = ["--one-time-password", "secret"]
//
// Every module decodes only the tables it owns. Keys a module does not know
// are reported as errors, tables nobody owns as warnings.
package kickstart

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

var ErrInvalid = errors.New("invalid kickstart")

// Document is a parsed or a generated kickstart.
type Document struct {
	meta     toml.MetaData
	parsed   map[string]toml.Primitive
	sections map[string]any
}

// New returns an empty document for generating.
func New() *Document {
	return &Document{
		parsed:   map[string]toml.Primitive{},
		sections: map[string]any{},
	}
}

// Parse reads text. Errors carry the line of the problem.
func Parse(text string) (*Document, error) {
	d := New()
	meta, err := toml.Decode(text, &d.parsed)
	if err != nil {
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return nil, fmt.Errorf("%w: line %d: %s", ErrInvalid, perr.Position.Line, perr.Message)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	d.meta = meta
	return d, nil
}

// Names returns the sorted table names present in a parsed document.
func (d *Document) Names() []string {
	ret := make([]string, 0, len(d.parsed))
	for name := range d.parsed {
		ret = append(ret, name)
	}
	slices.Sort(ret)
	return ret
}

func (d *Document) Has(name string) bool {
	_, ok := d.parsed[name]
	return ok
}

// IsDefined reports whether key was present in table name.
func (d *Document) IsDefined(name, key string) bool {
	return d.meta.IsDefined(name, key)
}

// Section decodes table name into v. A missing table leaves v untouched and
// returns false. Unknown keys of the table are returned as errors.
func (d *Document) Section(name string, v any) (bool, error) {
	prim, ok := d.parsed[name]
	if !ok {
		return false, nil
	}
	if err := d.meta.PrimitiveDecode(prim, v); err != nil {
		return true, fmt.Errorf("%w: [%s]: %v", ErrInvalid, name, err)
	}

	var errs []error
	for _, key := range d.meta.Undecoded() {
		if len(key) > 1 && key[0] == name {
			errs = append(errs, fmt.Errorf("%w: [%s]: unknown key %q", ErrInvalid, name, strings.Join(key[1:], ".")))
		}
	}
	return true, errors.Join(errs...)
}

// SetSection stores v as table name of a generated document.
func (d *Document) SetSection(name string, v any) {
	d.sections[name] = v
}

// String encodes the generated tables sorted by name.
func (d *Document) String() string {
	if len(d.sections) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(d.sections); err != nil {
		// sections are plain structs owned by modules
		panic(fmt.Sprintf("encoding kickstart: %v", err))
	}
	return buf.String()
}
