package tracker

import (
	"fmt"
	"strings"
	"sync/atomic"
	"unicode"
)

// Node is a storage device that can hold replicas.
type Node struct {
	// DevID uniquely identifies the device within the cluster
	DevID int64 `mapstructure:"dev_id" yaml:"dev_id" json:"dev_id" validate:"gt=0"`

	// URL is the base location of the device, e.g. "http://10.0.0.5:7500"
	// or "s3://bucket/prefix"
	URL string `mapstructure:"url" yaml:"url" json:"url" validate:"required"`
}

// Placement orders storage nodes into write destination lists.
//
// Successive calls rotate the starting node so that new files are spread
// across devices; the remaining nodes follow in configuration order and act as
// fallbacks for the write retry strategy.
type Placement struct {
	nodes []Node
	next  atomic.Uint64
}

// NewPlacement validates nodes and returns a Placement over them.
//
// An empty node list is valid: such a placement yields no destinations and
// trackers report ErrNoDestinations.
func NewPlacement(nodes []Node) (*Placement, error) {
	seen := make(map[int64]bool, len(nodes))
	for i, n := range nodes {
		if n.DevID <= 0 {
			return nil, fmt.Errorf("nodes[%d]: dev_id must be positive, got %d", i, n.DevID)
		}
		if n.URL == "" {
			return nil, fmt.Errorf("nodes[%d]: url is required", i)
		}
		if seen[n.DevID] {
			return nil, fmt.Errorf("nodes[%d]: duplicate dev_id %d", i, n.DevID)
		}
		seen[n.DevID] = true
	}

	return &Placement{nodes: append([]Node(nil), nodes...)}, nil
}

// Nodes returns a copy of the configured nodes.
func (p *Placement) Nodes() []Node {
	return append([]Node(nil), p.nodes...)
}

// Node returns the node with the given device id.
func (p *Placement) Node(devID int64) (Node, bool) {
	for _, n := range p.nodes {
		if n.DevID == devID {
			return n, true
		}
	}
	return Node{}, false
}

// Destinations returns one destination per node for file id fid.
func (p *Placement) Destinations(fid int64) []Destination {
	if len(p.nodes) == 0 {
		return nil
	}

	start := int(p.next.Add(1)-1) % len(p.nodes)
	dests := make([]Destination, 0, len(p.nodes))
	for i := range p.nodes {
		n := p.nodes[(start+i)%len(p.nodes)]
		dests = append(dests, Destination{
			URL:   DestinationURL(n, fid),
			DevID: n.DevID,
			FID:   fid,
		})
	}
	return dests
}

// DestinationURL returns the location of file fid on node n.
func DestinationURL(n Node, fid int64) string {
	return fmt.Sprintf("%s/dev%d/%010d.fid", strings.TrimRight(n.URL, "/"), n.DevID, fid)
}

// ValidateKey checks that domain and key are usable identifiers.
//
// Both must be non-empty and free of whitespace and control characters, which
// the tracker protocol uses as separators.
func ValidateKey(domain, key string) error {
	if domain == "" {
		return fmt.Errorf("%w: empty domain", ErrInvalidKey)
	}
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, s := range []string{domain, key} {
		if strings.IndexFunc(s, func(r rune) bool {
			return unicode.IsSpace(r) || unicode.IsControl(r)
		}) >= 0 {
			return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidKey, s)
		}
	}
	return nil
}
