package tracker

import "time"

// DefaultPendingTTL is how long an open write may stay unfinalized before a
// tracker forgets it.
const DefaultPendingTTL = time.Hour

// FileRecord is the committed state of a key, shared by tracker implementations.
type FileRecord struct {
	FID          int64   `json:"fid"`
	StorageClass string  `json:"storage_class,omitempty"`
	Length       int64   `json:"length"`
	Devices      []int64 `json:"devices"`
}

// PendingOpen is an open write that has not been finalized yet.
type PendingOpen struct {
	Domain       string    `json:"domain"`
	Key          string    `json:"key"`
	StorageClass string    `json:"storage_class,omitempty"`
	Opened       time.Time `json:"opened"`
}

// Expired reports whether the open is older than ttl at now.
func (o PendingOpen) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(o.Opened) > ttl
}

// Supersedes reports whether an open with fid for domain/key replaces the
// pending open other with otherFID: same key, opened earlier.
func Supersedes(domain, key string, fid int64, other PendingOpen, otherFID int64) bool {
	return other.Domain == domain && other.Key == key && otherFID < fid
}

// Attributes converts the record into the public attribute view.
func (r *FileRecord) Attributes(domain, key string) *Attributes {
	return &Attributes{
		Domain:       domain,
		Key:          key,
		StorageClass: r.StorageClass,
		Length:       r.Length,
		DeviceCount:  len(r.Devices),
		FID:          r.FID,
	}
}

// ReadDestinations resolves the record's devices against p.
// Devices no longer present in the placement are skipped.
func (r *FileRecord) ReadDestinations(p *Placement) []Destination {
	dests := make([]Destination, 0, len(r.Devices))
	for _, devID := range r.Devices {
		n, ok := p.Node(devID)
		if !ok {
			continue
		}
		dests = append(dests, Destination{
			URL:   DestinationURL(n, r.FID),
			DevID: devID,
			FID:   r.FID,
		})
	}
	return dests
}

// Paths returns the replica URLs of the record.
func (r *FileRecord) Paths(p *Placement) []string {
	dests := r.ReadDestinations(p)
	paths := make([]string, len(dests))
	for i, d := range dests {
		paths[i] = d.URL
	}
	return paths
}
