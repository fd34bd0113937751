// Package band implements the difficulty-band controller. Bands run from A
// (most supportive) to E (hardest) and move one step at a time based on
// rolling performance.
package band

import (
	"strings"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
)

// Band is an ordinal difficulty level. A < B < C < D < E.
type Band int

const (
	A Band = iota
	B
	C
	D
	E
)

// Lowest and Highest bound the ladder.
const (
	Lowest  = A
	Highest = E
)

var bandNames = [...]string{"A", "B", "C", "D", "E"}

// IsValid reports whether b lies on the ladder.
func (b Band) IsValid() bool {
	return b >= Lowest && b <= Highest
}

// String returns the letter of the band.
func (b Band) String() string {
	if !b.IsValid() {
		return "?"
	}
	return bandNames[b]
}

// Easier returns the band one step down, floored at A.
func (b Band) Easier() Band {
	if b <= Lowest {
		return Lowest
	}
	return b - 1
}

// Harder returns the band one step up, capped at E.
func (b Band) Harder() Band {
	if b >= Highest {
		return Highest
	}
	return b + 1
}

// Distance returns the number of steps between two bands.
func (b Band) Distance(other Band) int {
	d := int(b) - int(other)
	if d < 0 {
		return -d
	}
	return d
}

// ParseBand parses a band letter. Anything outside A–E is a configuration defect.
func ParseBand(s string) (Band, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return A, nil
	case "B":
		return B, nil
	case "C":
		return C, nil
	case "D":
		return D, nil
	case "E":
		return E, nil
	}
	return 0, shared.WrapError("band", "ParseBand", shared.ErrConfiguration, "unknown band "+s, shared.ErrUnknownBand)
}

// MarshalText implements encoding.TextMarshaler.
func (b Band) MarshalText() ([]byte, error) {
	if !b.IsValid() {
		return nil, shared.ErrUnknownBand
	}
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Band) UnmarshalText(text []byte) error {
	parsed, err := ParseBand(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Definition describes how content at a band is presented.
type Definition struct {
	Band              Band
	Label             string
	MinDecisionPoints int
	MaxDecisionPoints int
	HintDensity       string
	PitfallDensity    string
	TimeConstraint    string
	SupportLevel      string
}

var definitions = map[Band]Definition{
	A: {A, "Foundation", 1, 1, "many", "none", "untimed", "full scaffolding"},
	B: {B, "Guided", 1, 2, "frequent", "occasional", "generous", "guided"},
	C: {C, "Applied", 2, 3, "moderate", "some", "standard", "partial"},
	D: {D, "Advanced", 3, 4, "sparse", "frequent", "brisk", "light"},
	E: {E, "Expert", 4, 5, "minimal", "dense", "tight", "none"},
}

// Definitions returns all band definitions from A to E.
func Definitions() []Definition {
	out := make([]Definition, 0, len(definitions))
	for b := Lowest; b <= Highest; b++ {
		out = append(out, definitions[b])
	}
	return out
}

// Definition returns the presentation profile of b.
func (b Band) Definition() Definition {
	return definitions[b]
}

// EducationLevel is a learner's declared seniority.
type EducationLevel string

const (
	LevelStudent              EducationLevel = "student"
	LevelIntern               EducationLevel = "intern"
	LevelResident1            EducationLevel = "resident-1"
	LevelResident2            EducationLevel = "resident-2"
	LevelResident3            EducationLevel = "resident-3"
	LevelResident4            EducationLevel = "resident-4"
	LevelResident5            EducationLevel = "resident-5"
	LevelSpecialistOrthopedic EducationLevel = "specialist-orthopaedics"
	LevelSpecialistOther      EducationLevel = "specialist-other"
)

var startingBands = map[EducationLevel]Band{
	LevelStudent:              A,
	LevelIntern:               B,
	LevelResident1:            B,
	LevelResident2:            C,
	LevelResident3:            C,
	LevelResident4:            D,
	LevelResident5:            D,
	LevelSpecialistOrthopedic: E,
	LevelSpecialistOther:      D,
}

// StartingBand returns the initial band for an education level. Unknown
// levels are a configuration defect and are never defaulted.
func StartingBand(level EducationLevel) (Band, error) {
	b, ok := startingBands[level]
	if !ok {
		return 0, shared.WrapError("band", "StartingBand", shared.ErrConfiguration, "no starting band for "+string(level), shared.ErrUnknownEducation)
	}
	return b, nil
}

// EducationLevels lists every level with a starting band.
func EducationLevels() []EducationLevel {
	return []EducationLevel{
		LevelStudent, LevelIntern,
		LevelResident1, LevelResident2, LevelResident3, LevelResident4, LevelResident5,
		LevelSpecialistOrthopedic, LevelSpecialistOther,
	}
}
