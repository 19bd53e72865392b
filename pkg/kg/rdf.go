package kg

import (
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/knakk/rdf"
)

// Vocabulary IRIs
const (
	RDFType     = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	KPIOnto     = "http://w3id.org/kpionto/"
	DefaultBase = "http://kdmg.dii.univpm.it/test/"

	kpiDimension   = KPIOnto + "Dimension"
	kpiLevel       = KPIOnto + "Level"
	kpiMember      = KPIOnto + "Member"
	kpiInDimension = KPIOnto + "inDimension"
	kpiInLevel     = KPIOnto + "inLevel"
	kpiRollup      = KPIOnto + "rollup"
	kpiMRollup     = KPIOnto + "mRollup"
)

// Format is an RDF serialisation understood by Parse
type Format int

const (
	FormatNTriples Format = iota
	FormatTurtle
)

func (f Format) String() string {
	if f == FormatTurtle {
		return "turtle"
	}
	return "ntriples"
}

func (f Format) rdf() rdf.Format {
	if f == FormatTurtle {
		return rdf.Turtle
	}
	return rdf.NTriples
}

// FormatOf picks the format from a file extension: .ttl and .turtle are
// Turtle, everything else N-Triples.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ttl", ".turtle":
		return FormatTurtle
	default:
		return FormatNTriples
	}
}

// ParseNTriples reads a reference model written in N-Triples
func ParseNTriples(r io.Reader) (*Model, error) {
	return Parse(r, FormatNTriples)
}

// ParseTurtle reads a reference model written in Turtle
func ParseTurtle(r io.Reader) (*Model, error) {
	return Parse(r, FormatTurtle)
}

// Parse reads a reference model expressed with the KPIOnto vocabulary.
// Entities are identified by the fragment of their IRI. Triples outside the
// vocabulary, literal objects and blank nodes are ignored.
func Parse(r io.Reader, format Format) (*Model, error) {
	types := make(map[string]string)
	inDimension := make(map[string]string)
	inLevel := make(map[string]string)
	rollup := make(map[string]string)
	mRollup := make(map[string]string)

	dec := rdf.NewTripleDecoder(r, format.rdf())
	for {
		t, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", format)
		}
		if t.Subj.Type() != rdf.TermIRI || t.Obj.Type() != rdf.TermIRI {
			continue
		}
		o := t.Obj.String()
		subject, object := Fragment(t.Subj.String()), Fragment(o)
		switch t.Pred.String() {
		case RDFType:
			switch o {
			case kpiDimension, kpiLevel, kpiMember:
				types[subject] = o
			}
		case kpiInDimension:
			inDimension[subject] = object
		case kpiInLevel:
			inLevel[subject] = object
		case kpiRollup:
			rollup[subject] = object
		case kpiMRollup:
			mRollup[subject] = object
		}
	}

	ids := make([]string, 0, len(types))
	for id := range types {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	b := NewBuilder()
	for _, id := range ids {
		switch types[id] {
		case kpiDimension:
			b.AddDimension(id)
		case kpiLevel:
			b.AddLevel(id, inDimension[id], rollup[id])
		case kpiMember:
			b.AddMember(id, inLevel[id], mRollup[id])
		}
	}
	return b.Build()
}

// WriteNTriples serialises m with entity IRIs under base
func WriteNTriples(w io.Writer, m *Model, base string) error {
	if base == "" {
		base = DefaultBase
	}
	enc := rdf.NewTripleEncoder(w, rdf.NTriples)
	emit := func(s, p, o string) error {
		subj, err := rdf.NewIRI(s)
		if err != nil {
			return errors.Wrapf(err, "subject %s", s)
		}
		pred, err := rdf.NewIRI(p)
		if err != nil {
			return errors.Wrapf(err, "predicate %s", p)
		}
		obj, err := rdf.NewIRI(o)
		if err != nil {
			return errors.Wrapf(err, "object %s", o)
		}
		return enc.Encode(rdf.Triple{Subj: subj, Pred: pred, Obj: obj})
	}

	for _, d := range m.Dimensions() {
		if err := emit(base+d.ID, RDFType, kpiDimension); err != nil {
			return err
		}
	}
	levels, err := m.Levels("")
	if err != nil {
		return err
	}
	for _, l := range levels {
		if err := emit(base+l.ID, RDFType, kpiLevel); err != nil {
			return err
		}
		if err := emit(base+l.ID, kpiInDimension, base+l.Dimension); err != nil {
			return err
		}
		if l.Rollup != "" {
			if err := emit(base+l.ID, kpiRollup, base+l.Rollup); err != nil {
				return err
			}
		}
	}
	for _, l := range levels {
		members, err := m.Members(l.ID)
		if err != nil {
			return err
		}
		for _, mem := range members {
			if err := emit(base+mem.ID, RDFType, kpiMember); err != nil {
				return err
			}
			if err := emit(base+mem.ID, kpiInLevel, base+mem.Level); err != nil {
				return err
			}
			if mem.Rollup != "" {
				if err := emit(base+mem.ID, kpiMRollup, base+mem.Rollup); err != nil {
					return err
				}
			}
		}
	}
	return enc.Close()
}
