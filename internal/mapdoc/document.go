// Package mapdoc holds a parsed OSM XML document and repairs topologically
// invalid way geometry in it.
package mapdoc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/paulmach/osm"
)

// ErrMalformed is returned when a tile document cannot be parsed as OSM XML.
var ErrMalformed = errors.New("malformed tile document")

// XMLHeader is the declaration expected at the start of every serialized
// document. Empty-result tiles arrive from the fetch transport without it,
// and the extraction engine rejects headerless input.
const XMLHeader = `<?xml version="1.0" encoding="UTF-8"?>`

// Coord is a node position in WGS84 degrees. Coords compare by exact
// floating-point equality, matching how repeated way points are detected.
type Coord struct {
	Lat, Lon float64
}

// Document is a parsed OSM XML document: a node table keyed by id and the
// ordered list of ways referencing those nodes. It is owned exclusively by
// the repair pass and mutated in place.
type Document struct {
	root  *osm.OSM
	nodes map[osm.NodeID]Coord
}

// Parse decodes OSM XML into a Document.
func Parse(data []byte) (*Document, error) {
	var root osm.OSM
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	nodes := make(map[osm.NodeID]Coord, len(root.Nodes))
	for _, node := range root.Nodes {
		nodes[node.ID] = Coord{Lat: node.Lat, Lon: node.Lon}
	}

	return &Document{root: &root, nodes: nodes}, nil
}

// NodeCount returns the number of nodes in the document.
func (d *Document) NodeCount() int {
	return len(d.nodes)
}

// Ways returns the document's ways in file order.
func (d *Document) Ways() osm.Ways {
	return d.root.Ways
}

// WayCoords realizes a way's node references into a point sequence.
// References to nodes missing from the document are skipped.
func (d *Document) WayCoords(way *osm.Way) []Coord {
	coords := make([]Coord, 0, len(way.Nodes))
	for _, wn := range way.Nodes {
		if c, ok := d.nodes[wn.ID]; ok {
			coords = append(coords, c)
		}
	}
	return coords
}

// Marshal serializes the document back to OSM XML with the standard
// declaration header prepended.
func (d *Document) Marshal() ([]byte, error) {
	data, err := xml.Marshal(d.root)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return EnsureXMLHeader(data), nil
}

// EnsureXMLHeader prepends the standard XML declaration if it is missing.
func EnsureXMLHeader(data []byte) []byte {
	if bytes.HasPrefix(data, []byte(XMLHeader)) {
		return data
	}
	out := make([]byte, 0, len(XMLHeader)+1+len(data))
	out = append(out, XMLHeader...)
	out = append(out, '\n')
	return append(out, data...)
}
