package config

import (
	"fmt"
	"io"
	"runtime"
	"time"
)

// Visitor is invoked once per field, in declaration order.
type Visitor interface {
	VisitField(f *Field)
}

// ForEach walks every field with v. Visitors receive copies.
func (s *Store) ForEach(v Visitor) {
	for _, f := range s.fields {
		fc := *f
		v.VisitField(&fc)
	}
}

// FieldDoc is one row of the configuration reference table.
type FieldDoc struct {
	Name    string `json:"name"`
	Group   string `json:"group"`
	Kind    string `json:"kind"`
	Default string `json:"default"`
	Help    string `json:"help"`
}

type describer struct {
	docs []FieldDoc
}

func (d *describer) VisitField(f *Field) {
	d.docs = append(d.docs, FieldDoc{
		Name:    f.Name,
		Group:   f.Group,
		Kind:    f.Default.Kind().String(),
		Default: f.Default.String(),
		Help:    f.Help,
	})
}

type differ struct {
	diff map[string]Value
}

func (d *differ) VisitField(f *Field) {
	if !f.IsDefault() {
		d.diff[f.Name] = f.Value
	}
}

type renderer struct {
	w         io.Writer
	verbosity int
	err       error
}

func (r *renderer) VisitField(f *Field) {
	if r.err != nil || r.verbosity < f.Verbosity {
		return
	}
	_, r.err = fmt.Fprintf(r.w, "%-30s: %s\n", f.Name, f.Value)
}

// Describe returns the name, default and help of every known option. It does
// not depend on any session.
func Describe() []FieldDoc {
	return Default().Describe()
}

func (s *Store) Describe() []FieldDoc {
	d := &describer{}
	s.ForEach(d)
	return d.docs
}

// Diff returns only the fields whose current value differs from the default.
func (s *Store) Diff() map[string]Value {
	d := &differ{diff: make(map[string]Value)}
	s.ForEach(d)
	return d.diff
}

// Environment carries execution facts shown by Render at high verbosity.
type Environment struct {
	Now                 time.Time
	PrefillBatchSize    int
	HardwareConcurrency int
	InstructionSet      string
	WeightType          string
	EmbedderInputType   string
}

// CurrentEnvironment gathers the environment facts for s.
func (s *Store) CurrentEnvironment() Environment {
	return Environment{
		Now:                 time.Now(),
		PrefillBatchSize:    PrefillBatchSize,
		HardwareConcurrency: runtime.NumCPU(),
		InstructionSet:      runtime.GOARCH,
		WeightType:          s.Precision().String(),
		EmbedderInputType:   "f32",
	}
}

// Render writes every field visible at verbosity, followed by env when
// verbosity is 2 or more.
func (s *Store) Render(w io.Writer, verbosity int, env Environment) error {
	r := &renderer{w: w, verbosity: verbosity}
	s.ForEach(r)
	if r.err != nil || verbosity < 2 {
		return r.err
	}
	rows := []struct {
		name  string
		value any
	}{
		{"Date & Time", env.Now.Format(time.ANSIC)},
		{"Prefill Token Batch Size", env.PrefillBatchSize},
		{"Hardware concurrency", env.HardwareConcurrency},
		{"Instruction set", env.InstructionSet},
		{"Weight Type", env.WeightType},
		{"EmbedderInput Type", env.EmbedderInputType},
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%-30s: %v\n", row.name, row.value); err != nil {
			return err
		}
	}
	return nil
}

// WriteHelp prints the option reference in flag form.
func WriteHelp(w io.Writer, docs []FieldDoc) error {
	for _, d := range docs {
		if _, err := fmt.Fprintf(w, "  --%s : %s (default = %s)\n", d.Name, d.Help, d.Default); err != nil {
			return err
		}
	}
	return nil
}
