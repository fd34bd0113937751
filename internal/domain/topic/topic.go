// Package topic defines the fixed set of orthopaedic domains and their
// topical neighbourhood, used for interleaving and next-domain suggestions.
package topic

import (
	"slices"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
)

// Domain identifies one orthopaedic subject area.
type Domain string

const (
	Trauma        Domain = "trauma"
	Hip           Domain = "hip"
	Knee          Domain = "knee"
	FootAnkle     Domain = "foot-ankle"
	HandWrist     Domain = "hand-wrist"
	ShoulderElbow Domain = "shoulder-elbow"
	Spine         Domain = "spine"
	Sports        Domain = "sports"
	Tumor         Domain = "tumor"
	Pediatric     Domain = "pediatric"
)

// all is ordered so that iteration is deterministic.
var all = []Domain{
	Trauma, Hip, Knee, FootAnkle, HandWrist, ShoulderElbow, Spine, Sports, Tumor, Pediatric,
}

var labels = map[Domain]string{
	Trauma:        "Trauma",
	Hip:           "Hip",
	Knee:          "Knee",
	FootAnkle:     "Foot and ankle",
	HandWrist:     "Hand and wrist",
	ShoulderElbow: "Shoulder and elbow",
	Spine:         "Spine",
	Sports:        "Sports medicine",
	Tumor:         "Tumour",
	Pediatric:     "Paediatric orthopaedics",
}

var neighbors = map[Domain][]Domain{
	Trauma:        {Hip, HandWrist, ShoulderElbow},
	Hip:           {Trauma, Knee, Spine},
	Knee:          {Hip, Sports, FootAnkle},
	FootAnkle:     {Knee, Trauma, Sports},
	HandWrist:     {ShoulderElbow, Trauma},
	ShoulderElbow: {HandWrist, Sports, Trauma},
	Spine:         {Hip, Tumor, Pediatric},
	Sports:        {Knee, ShoulderElbow, FootAnkle},
	Tumor:         {Spine, Pediatric},
	Pediatric:     {Trauma, Spine, Tumor},
}

// All returns every domain in catalogue order.
func All() []Domain {
	return slices.Clone(all)
}

// IsValid reports whether d belongs to the catalogue.
func (d Domain) IsValid() bool {
	_, ok := labels[d]
	return ok
}

// String returns the identifier.
func (d Domain) String() string {
	return string(d)
}

// Label returns a display name.
func (d Domain) Label() string {
	if l, ok := labels[d]; ok {
		return l
	}
	return string(d)
}

// Neighbors returns the topically adjacent domains. Unknown domains have none.
func (d Domain) Neighbors() []Domain {
	return slices.Clone(neighbors[d])
}

// Parse validates a domain identifier.
func Parse(s string) (Domain, error) {
	d := Domain(s)
	if !d.IsValid() {
		return "", shared.WrapError("topic", "Parse", shared.ErrInvalidInput, "unknown domain "+s, shared.ErrUnknownDomain)
	}
	return d, nil
}

// Set is an unordered collection of domains.
type Set map[Domain]struct{}

// NewSet builds a Set from a slice.
func NewSet(ds ...Domain) Set {
	s := make(Set, len(ds))
	for _, d := range ds {
		s[d] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set) Has(d Domain) bool {
	_, ok := s[d]
	return ok
}

// Sorted returns the members in catalogue order.
func (s Set) Sorted() []Domain {
	out := make([]Domain, 0, len(s))
	for _, d := range all {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}
