package models

import (
	"encoding/json"
	"fmt"

	"github.com/model-bridge/backend/pkg/utils"
)

type Variant struct {
	Key    string
	Config json.RawMessage
}

// Variants keeps declaration order; it encodes as a JSON object in that order.
type Variants []Variant

func (v Variants) Keys() []string {
	keys := make([]string, len(v))
	for i, variant := range v {
		keys[i] = variant.Key
	}
	return keys
}

func (v Variants) Get(key string) (Variant, bool) {
	for _, variant := range v {
		if variant.Key == key {
			return variant, true
		}
	}
	return Variant{}, false
}

func (v Variants) MarshalJSON() ([]byte, error) {
	var b utils.ObjectBuilder
	for _, variant := range v {
		cfg := variant.Config
		if len(cfg) == 0 {
			cfg = json.RawMessage("null")
		}
		b.Add(variant.Key, cfg)
	}
	return b.Bytes()
}

func (v *Variants) UnmarshalJSON(data []byte) error {
	out := Variants{}
	seen := make(map[string]bool)
	err := utils.DecodeObject(data, func(key string, value json.RawMessage) error {
		if seen[key] {
			return fmt.Errorf("duplicate variant %q", key)
		}
		seen[key] = true
		out = append(out, Variant{Key: key, Config: append(json.RawMessage(nil), value...)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to decode variants: %w", err)
	}
	*v = out
	return nil
}

type Split struct {
	Variant string
	Weight  float64
}

// TrafficSplit assigns each variant a share of traffic. Order matters: the
// assigner walks it cumulatively.
type TrafficSplit []Split

func (s TrafficSplit) Keys() []string {
	keys := make([]string, len(s))
	for i, entry := range s {
		keys[i] = entry.Variant
	}
	return keys
}

func (s TrafficSplit) Total() float64 {
	var total float64
	for _, entry := range s {
		total += entry.Weight
	}
	return total
}

func (s TrafficSplit) MarshalJSON() ([]byte, error) {
	var b utils.ObjectBuilder
	for _, entry := range s {
		b.Add(entry.Variant, entry.Weight)
	}
	return b.Bytes()
}

func (s *TrafficSplit) UnmarshalJSON(data []byte) error {
	out := TrafficSplit{}
	seen := make(map[string]bool)
	err := utils.DecodeObject(data, func(key string, value json.RawMessage) error {
		if seen[key] {
			return fmt.Errorf("duplicate traffic split entry %q", key)
		}
		seen[key] = true

		var weight float64
		if err := json.Unmarshal(value, &weight); err != nil {
			return fmt.Errorf("weight for %q must be a number: %w", key, err)
		}
		out = append(out, Split{Variant: key, Weight: weight})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to decode traffic split: %w", err)
	}
	*s = out
	return nil
}
