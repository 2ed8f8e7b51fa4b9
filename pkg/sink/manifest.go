package sink

import (
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/gatehits/pkg/compression"
	"github.com/ajitpratap0/gatehits/pkg/formats/columnar"
	"github.com/ajitpratap0/gatehits/pkg/hits"
	"github.com/ajitpratap0/gatehits/pkg/json"
)

// ManifestVersion is bumped when the manifest layout changes.
const ManifestVersion = 1

// Manifest lists the segment files of a simulation in consolidated row order.
// Segment paths are relative to the manifest's directory when possible.
type Manifest struct {
	Version            int              `json:"version"`
	Collection         string           `json:"collection"`
	Schema             []hits.Attribute `json:"schema"`
	Rows               int64            `json:"rows"`
	Order              []hits.WorkerID  `json:"order"`
	SegmentFormat      columnar.Format  `json:"segment_format"`
	SegmentCompression string           `json:"segment_compression"`
	Segments           []SegmentInfo    `json:"segments"`
	CreatedAt          time.Time        `json:"created_at"`

	dir string
}

func writeManifest(path string, algo compression.Algorithm, out *ConsolidatedOutput) error {
	dir := filepath.Dir(path)
	m := Manifest{
		Version:            ManifestVersion,
		Collection:         out.Collection,
		Schema:             out.Schema,
		Rows:               out.Rows,
		Order:              out.Order,
		SegmentFormat:      columnar.ArrowStream,
		SegmentCompression: string(algo),
		Segments:           make([]SegmentInfo, len(out.Segments)),
		CreatedAt:          out.CreatedAt,
	}
	for i, seg := range out.Segments {
		if rel, err := filepath.Rel(dir, seg.Path); err == nil {
			seg.Path = rel
		}
		m.Segments[i] = seg
	}
	return json.WriteFile(path, &m)
}

// ReadManifest loads a manifest written in manifest merge mode.
func ReadManifest(path string) (*Manifest, error) {
	var m Manifest
	if err := json.ReadFile(path, &m); err != nil {
		return nil, err
	}
	m.dir = filepath.Dir(path)
	return &m, nil
}

// SegmentPath resolves the i-th segment path.
func (m *Manifest) SegmentPath(i int) string {
	p := m.Segments[i].Path
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.dir, p)
}

// HitSchema rebuilds the hit schema recorded in the manifest.
func (m *Manifest) HitSchema() (*hits.Schema, error) {
	return hits.NewSchema(m.Schema...)
}

// Records decodes every segment in manifest order. The caller releases them.
func (m *Manifest) Records(mem memory.Allocator) ([]arrow.Record, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	algo, err := compression.Parse(m.SegmentCompression)
	if err != nil {
		return nil, err
	}
	var out []arrow.Record
	for i := range m.Segments {
		recs, err := ReadSegment(m.SegmentPath(i), algo, mem)
		if err != nil {
			for _, r := range out {
				r.Release()
			}
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}
