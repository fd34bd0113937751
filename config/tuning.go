package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/himo777777/Ortokompanion-sub000/internal/domain/policy"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TUNING FILE
// A tuning file is a partial policy in YAML. Keys that are present replace
// the default; everything else keeps policy.Default().
//
//	mix:
//	  new_content_ratio: 0.5
//	  interleaving_ratio: 0.25
//	  review_ratio: 0.25
//	gate:
//	  stability_floor: 0.75
// ══════════════════════════════════════════════════════════════════════════════

// LoadTuning reads the tuning file at path and overlays it on the default
// policy. An empty path returns the defaults.
func LoadTuning(path string) (policy.Policy, error) {
	if path == "" {
		return policy.Default(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return policy.Policy{}, shared.WrapError("config", "LoadTuning", shared.ErrConfiguration,
			fmt.Sprintf("cannot open tuning file %s", path), err)
	}
	defer f.Close()

	return ParseTuning(f)
}

// ParseTuning overlays the YAML document in r on the default policy and
// validates the result. Unknown keys are rejected so a typo cannot silently
// keep a default.
func ParseTuning(r io.Reader) (policy.Policy, error) {
	p := policy.Default()

	data, err := io.ReadAll(r)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("config: failed to read tuning: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return p, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return policy.Policy{}, shared.WrapError("config", "ParseTuning", shared.ErrConfiguration, "invalid tuning file", err)
	}

	if err := p.Validate(); err != nil {
		return policy.Policy{}, err
	}
	return p, nil
}

// MarshalTuning renders p as a complete tuning file.
func MarshalTuning(p policy.Policy) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("config: failed to encode tuning: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("config: failed to encode tuning: %w", err)
	}
	return buf.Bytes(), nil
}
