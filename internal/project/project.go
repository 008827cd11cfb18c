// Package project provides job and result file handling.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"strings"
	"time"

	"charge-flip/internal/reciprocal"
	"charge-flip/internal/synth"
	"charge-flip/pkg/crystal"
)

// ErrNoReflections is returned for a job without data.
var ErrNoReflections = errors.New("job has no reflections")

// File is a structure solution job (.json): cell, symmetry and observed
// amplitudes.
type File struct {
	Version     int       `json:"version"`
	Name        string    `json:"name"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
	Description string    `json:"description,omitempty"`

	Cell crystal.UnitCell `json:"cell"`
	// SpaceGroup is a symbol known to crystal.Lookup; SymOps, when present,
	// take precedence.
	SpaceGroup string   `json:"space_group,omitempty"`
	SymOps     []string `json:"symops,omitempty"`

	Reflections []Reflection `json:"reflections"`

	// Atoms records the model a synthetic job was generated from.
	Atoms []synth.Atom `json:"atoms,omitempty"`

	Settings Settings `json:"settings,omitempty"`
}

// Reflection is one observed amplitude.
type Reflection struct {
	H     int     `json:"h"`
	K     int     `json:"k"`
	L     int     `json:"l"`
	F     float64 `json:"f"`
	Sigma float64 `json:"sigma,omitempty"`
}

// Settings holds per-job solver preferences.
type Settings struct {
	Seed     int64  `json:"seed,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

// New creates an empty job.
func New(name string, cell crystal.UnitCell, group crystal.SpaceGroup) *File {
	now := time.Now()
	f := &File{
		Version:    1,
		Name:       name,
		Created:    now,
		Modified:   now,
		Cell:       cell,
		SpaceGroup: group.Symbol,
	}
	if _, err := crystal.Lookup(group.Symbol); err != nil {
		f.SymOps = group.XYZ()
	}
	return f
}

// FromStructure creates a job from a synthetic structure.
func FromStructure(name string, s synth.Structure) *File {
	f := New(name, s.Cell, s.Group)
	f.Description = fmt.Sprintf("synthetic, %d atoms in the asymmetric unit", len(s.Atoms))
	f.Atoms = s.Atoms
	f.SetAmplitudes(s.FObs)
	return f
}

// SetAmplitudes replaces the reflections with the amplitudes of set.
func (p *File) SetAmplitudes(set *reciprocal.Set) {
	amps := set.Amplitudes()
	p.Reflections = make([]Reflection, set.Len())
	for i := range p.Reflections {
		h := set.Index(i)
		p.Reflections[i] = Reflection{H: h[0], K: h[1], L: h[2], F: amps[i]}
	}
	p.Modified = time.Now()
}

// Load loads a job from a JSON file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var proj File
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if proj.Name == "" {
		proj.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &proj, nil
}

// Save saves the job to a file.
func (p *File) Save(path string) error {
	p.Modified = time.Now()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Group resolves the job's space group.
func (p *File) Group() (crystal.SpaceGroup, error) {
	if len(p.SymOps) > 0 {
		symbol := p.SpaceGroup
		if symbol == "" {
			symbol = "custom"
		}
		return crystal.NewSpaceGroup(symbol, p.SymOps...)
	}
	if p.SpaceGroup == "" {
		return crystal.P1(), nil
	}
	return crystal.Lookup(p.SpaceGroup)
}

// ReciprocalData returns the observed amplitudes as a reciprocal set.
func (p *File) ReciprocalData() (*reciprocal.Set, error) {
	if len(p.Reflections) == 0 {
		return nil, ErrNoReflections
	}
	group, err := p.Group()
	if err != nil {
		return nil, err
	}
	indices := make([]crystal.Miller, len(p.Reflections))
	amps := make([]float64, len(p.Reflections))
	for i, r := range p.Reflections {
		if r.F < 0 || math.IsNaN(r.F) {
			return nil, fmt.Errorf("reflection %d %d %d: bad amplitude %g", r.H, r.K, r.L, r.F)
		}
		indices[i] = crystal.Miller{r.H, r.K, r.L}
		amps[i] = r.F
	}
	return reciprocal.FromAmplitudes(p.Cell, group, indices, amps)
}

// Result is a phased solution written by cflip solve.
type Result struct {
	Job      string           `json:"job"`
	RunID    string           `json:"run_id"`
	Created  time.Time        `json:"created"`
	Cell     crystal.UnitCell `json:"cell"`
	Strategy string           `json:"strategy"`
	Seed     int64            `json:"seed"`
	Success  bool             `json:"success"`
	R1       float64          `json:"r1"`
	Delta    float64          `json:"delta"`
	F000     float64          `json:"f000"`
	Origin   [3]float64       `json:"origin_shift"`
	Phased   []PhasedRef      `json:"reflections"`
}

// PhasedRef is a reflection with its phase in degrees.
type PhasedRef struct {
	H   int     `json:"h"`
	K   int     `json:"k"`
	L   int     `json:"l"`
	F   float64 `json:"f"`
	Phi float64 `json:"phi"`
}

// SetPhased fills the reflections from a phased set.
func (r *Result) SetPhased(set *reciprocal.Set) {
	r.Phased = make([]PhasedRef, set.Len())
	for i := range r.Phased {
		h := set.Index(i)
		f := set.Value(i)
		r.Phased[i] = PhasedRef{H: h[0], K: h[1], L: h[2], F: cmplx.Abs(f), Phi: cmplx.Phase(f) * 180 / math.Pi}
	}
}

// PhasedSet rebuilds the phased P1 structure factors.
func (r *Result) PhasedSet() (*reciprocal.Set, error) {
	if len(r.Phased) == 0 {
		return nil, ErrNoReflections
	}
	indices := make([]crystal.Miller, len(r.Phased))
	data := make([]complex128, len(r.Phased))
	for i, p := range r.Phased {
		indices[i] = crystal.Miller{p.H, p.K, p.L}
		data[i] = cmplx.Rect(p.F, p.Phi*math.Pi/180)
	}
	return reciprocal.New(r.Cell, crystal.P1(), indices, data)
}

// LoadResult reads a result written by Save.
func LoadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &r, nil
}

// Save writes the result as indented JSON.
func (r *Result) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
