package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/liliang-cn/semlake/internal/encoding"
	"github.com/liliang-cn/semlake/pkg/core"
	"github.com/liliang-cn/semlake/pkg/graph"
)

// Node and edge types of the catalog in the graph store
const (
	NodeSource  = "dl_source"
	NodeDomain  = "dl_domain"
	NodeProfile = "dl_profile"

	EdgeContains          = "contains"
	EdgeHasProfileElement = "hasProfileElement"
)

var catalogNodeTypes = []string{NodeSource, NodeDomain, NodeProfile}

// GraphPersister stores the catalog as a subgraph of a graph store. Every
// Save replaces the whole catalog subgraph in one transaction.
type GraphPersister struct {
	g *graph.GraphStore
}

// NewGraphPersister creates a persister on g
func NewGraphPersister(g *graph.GraphStore) *GraphPersister {
	return &GraphPersister{g: g}
}

// Save implements Persister
func (p *GraphPersister) Save(ctx context.Context, sources []Source) error {
	var nodes []*graph.GraphNode
	var edges []*graph.GraphEdge

	for _, s := range sources {
		props := map[string]interface{}{
			"location": s.Location,
			"items":    s.Items,
			"date":     s.Date.UTC().Format(time.RFC3339Nano),
			"domains":  len(s.Domains),
		}
		if s.Signature != nil {
			slots, err := encoding.SlotsToString(s.Signature.Slots)
			if err != nil {
				return core.PersistenceError(err, "encode signature of "+s.ID)
			}
			props["signature"] = map[string]interface{}{
				"levels":  s.Signature.Levels,
				"seed":    strconv.FormatInt(s.Signature.Seed, 10),
				"slots":   slots,
				"size":    s.Signature.Size,
				"rows":    s.Signature.Rows,
			}
		}
		sourceID := "source:" + s.ID
		nodes = append(nodes, &graph.GraphNode{ID: sourceID, Content: s.ID, NodeType: NodeSource, Properties: props})

		for i, d := range s.Domains {
			domainID := "domain:" + s.ID + ":" + d.Key
			dprops := map[string]interface{}{
				"name":     d.Name,
				"key":      d.Key,
				"position": i,
			}
			if d.Level != "" {
				dprops["mapped_level"] = d.Level
			}
			nodes = append(nodes, &graph.GraphNode{ID: domainID, Content: d.Key, NodeType: NodeDomain, Properties: dprops})
			edges = append(edges, &graph.GraphEdge{
				ID:         uuid.NewString(),
				FromNodeID: sourceID,
				ToNodeID:   domainID,
				EdgeType:   EdgeContains,
			})

			for _, e := range d.Profile {
				elementID := uuid.NewString()
				nodes = append(nodes, &graph.GraphNode{
					ID:       elementID,
					NodeType: NodeProfile,
					Properties: map[string]interface{}{
						"member":    e.Member,
						"frequency": e.Frequency,
					},
				})
				edges = append(edges, &graph.GraphEdge{
					ID:         uuid.NewString(),
					FromNodeID: domainID,
					ToNodeID:   elementID,
					EdgeType:   EdgeHasProfileElement,
				})
			}
		}
	}

	return p.g.ReplaceSubgraph(ctx, catalogNodeTypes, nodes, edges)
}

// Load implements Persister. Domains are reached from their source and
// profile elements from their domain by following out edges.
func (p *GraphPersister) Load(ctx context.Context) ([]Source, error) {
	nodes, err := p.g.GetAllNodes(ctx, &graph.GraphFilter{NodeTypes: []string{NodeSource}})
	if err != nil {
		return nil, err
	}

	var sources []Source
	for _, n := range nodes {
		s, err := sourceFromNode(n)
		if err != nil {
			return nil, core.PersistenceError(err, "decode source "+n.Content)
		}

		domains, err := p.g.Neighbors(ctx, n.ID, graph.TraversalOptions{
			Direction: graph.DirectionOut,
			EdgeTypes: []string{EdgeContains},
			NodeTypes: []string{NodeDomain},
		})
		if err != nil {
			return nil, core.PersistenceError(err, "load domains of "+s.ID)
		}
		sort.Slice(domains, func(i, j int) bool {
			pi, _ := domains[i].IntProp("position")
			pj, _ := domains[j].IntProp("position")
			return pi < pj
		})

		for _, dn := range domains {
			elements, err := p.g.Neighbors(ctx, dn.ID, graph.TraversalOptions{
				Direction: graph.DirectionOut,
				EdgeTypes: []string{EdgeHasProfileElement},
				NodeTypes: []string{NodeProfile},
			})
			if err != nil {
				return nil, core.PersistenceError(err, "load profile of "+dn.Content)
			}
			d := Domain{
				Name:  dn.StringProp("name"),
				Key:   dn.StringProp("key"),
				Level: dn.StringProp("mapped_level"),
			}
			for _, e := range elements {
				freq, _ := e.IntProp("frequency")
				d.Profile = append(d.Profile, ProfileElement{Member: e.StringProp("member"), Frequency: freq})
			}
			sortProfile(d.Profile)
			s.Domains = append(s.Domains, d)
		}
		sources = append(sources, s)
	}
	return sources, nil
}

func sourceFromNode(n *graph.GraphNode) (Source, error) {
	s := Source{ID: n.Content, Location: n.StringProp("location")}
	s.Items, _ = n.IntProp("items")

	if raw := n.StringProp("date"); raw != "" {
		date, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return s, errors.Wrap(err, "parse date")
		}
		s.Date = date
	}

	raw, ok := n.Properties["signature"].(map[string]interface{})
	if !ok {
		return s, nil
	}
	sig := &graph.GraphNode{Properties: raw}
	slots, err := encoding.SlotsFromString(sig.StringProp("slots"))
	if err != nil {
		return s, errors.Wrap(err, "decode signature")
	}
	seed, err := strconv.ParseInt(sig.StringProp("seed"), 10, 64)
	if err != nil {
		return s, errors.Wrap(err, "decode signature seed")
	}
	size, _ := sig.IntProp("size")
	rows, _ := sig.IntProp("rows")
	var levels []string
	if list, ok := raw["levels"].([]interface{}); ok {
		for _, c := range list {
			if name, ok := c.(string); ok {
				levels = append(levels, name)
			}
		}
	}
	s.Signature = &Signature{
		Levels: levels,
		Seed:   seed,
		Slots:  slots,
		Size:   size,
		Rows:   rows,
	}
	return s, nil
}

// FilePersister stores the catalog as one JSON document. Saves write a
// temporary file in the same directory and rename it over the target.
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister writing to path
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

const fileFormat = "semlake-catalog-v1"

type fileDocument struct {
	Format  string       `json:"format"`
	Sources []fileSource `json:"sources"`
}

type fileSource struct {
	Source
	Signature *fileSignature `json:"signature,omitempty"`
}

type fileSignature struct {
	Levels []string `json:"levels"`
	Seed   int64    `json:"seed"`
	Slots  string   `json:"slots"` // base64 of the encoded slots
	Size   int      `json:"size"`
	Rows   int      `json:"rows"`
}

// Save implements Persister
func (p *FilePersister) Save(ctx context.Context, sources []Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := fileDocument{Format: fileFormat, Sources: make([]fileSource, 0, len(sources))}
	for _, s := range sources {
		fs := fileSource{Source: s}
		fs.Source.Signature = nil
		if s.Signature != nil {
			slots, err := encoding.SlotsToString(s.Signature.Slots)
			if err != nil {
				return core.PersistenceError(err, "encode signature of "+s.ID)
			}
			fs.Signature = &fileSignature{
				Levels: s.Signature.Levels,
				Seed:   s.Signature.Seed,
				Slots:  slots,
				Size:   s.Signature.Size,
				Rows:   s.Signature.Rows,
			}
		}
		doc.Sources = append(doc.Sources, fs)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return core.PersistenceError(err, "encode catalog")
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return core.PersistenceError(err, "create temporary catalog file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return core.PersistenceError(err, "write catalog")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return core.PersistenceError(err, "sync catalog")
	}
	if err := tmp.Close(); err != nil {
		return core.PersistenceError(err, "close catalog")
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return core.PersistenceError(err, "replace catalog")
	}
	return nil
}

// Load implements Persister. A missing file is an empty catalog.
func (p *FilePersister) Load(ctx context.Context) ([]Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, core.PersistenceError(err, "read catalog")
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, core.PersistenceError(err, "decode catalog")
	}
	if doc.Format != fileFormat {
		return nil, core.PersistenceError(errors.Newf("unexpected format %q", doc.Format), "decode catalog")
	}

	sources := make([]Source, 0, len(doc.Sources))
	for _, fs := range doc.Sources {
		s := fs.Source
		if fs.Signature != nil {
			slots, err := encoding.SlotsFromString(fs.Signature.Slots)
			if err != nil {
				return nil, core.PersistenceError(err, "decode signature of "+s.ID)
			}
			s.Signature = &Signature{
				Levels:  fs.Signature.Levels,
				Seed:    fs.Signature.Seed,
				Slots:   slots,
				Size:    fs.Signature.Size,
				Rows:    fs.Signature.Rows,
			}
		}
		sources = append(sources, s)
	}
	return sources, nil
}
