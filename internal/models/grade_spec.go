package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	appErrors "github.com/noah-isme/sma-exam-api/pkg/errors"
)

// WeightMap is a name→weight mapping that tolerates the legacy persisted
// encodings: a plain JSON object, an array of [key, value] pairs, and an
// array of {"key":…, "value":…} objects. All three converge on the same
// in-memory representation.
type WeightMap map[string]float64

// UnmarshalJSON implements the normalizing decoder.
func (m *WeightMap) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*m = WeightMap{}
		return nil
	}

	switch trimmed[0] {
	case '{':
		var plain map[string]float64
		if err := json.Unmarshal(trimmed, &plain); err != nil {
			return err
		}
		*m = plain
		return nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return err
		}
		result := make(WeightMap, len(elems))
		for _, elem := range elems {
			key, value, err := decodeWeightEntry(elem)
			if err != nil {
				return err
			}
			result[key] = value
		}
		*m = result
		return nil
	default:
		return fmt.Errorf("weight map: unsupported encoding %q", string(trimmed))
	}
}

func decodeWeightEntry(raw json.RawMessage) (string, float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", 0, fmt.Errorf("weight map: empty entry")
	}
	if trimmed[0] == '[' {
		var pair [2]json.RawMessage
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return "", 0, fmt.Errorf("weight map: malformed pair entry: %w", err)
		}
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return "", 0, fmt.Errorf("weight map: pair key: %w", err)
		}
		var value float64
		if err := json.Unmarshal(pair[1], &value); err != nil {
			return "", 0, fmt.Errorf("weight map: pair value: %w", err)
		}
		return key, value, nil
	}
	var entry struct {
		Key   string  `json:"key"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(trimmed, &entry); err != nil {
		return "", 0, fmt.Errorf("weight map: malformed object entry: %w", err)
	}
	if entry.Key == "" {
		return "", 0, fmt.Errorf("weight map: entry missing key")
	}
	return entry.Key, entry.Value, nil
}

// GradeSpecDocument is the serialized form of a GradeSpec. Marshalling
// always produces the canonical plain-object encoding; unmarshalling
// accepts the legacy ones through WeightMap.
type GradeSpecDocument struct {
	Goals    WeightMap `json:"goals"`
	Concepts WeightMap `json:"concepts"`
}

// GradeSpec is an immutable weighted-average specification: every goal
// carries a weight, every concept grade maps to a numeric value. Instances
// are only created through NewGradeSpec, which copies its inputs, so a
// constructed spec can be shared freely across goroutines.
type GradeSpec struct {
	goalWeights    map[string]float64
	conceptWeights map[string]float64
}

// NewGradeSpec validates and copies the weight maps. A goal-weight map
// summing to zero is a configuration error and fails immediately.
func NewGradeSpec(goalWeights, conceptWeights map[string]float64) (*GradeSpec, error) {
	total := 0.0
	for _, w := range goalWeights {
		total += w
	}
	if total == 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidWeights, "goal weights must not sum to zero")
	}

	goals := make(map[string]float64, len(goalWeights))
	for goal, w := range goalWeights {
		goals[goal] = w
	}
	concepts := make(map[string]float64, len(conceptWeights))
	for concept, w := range conceptWeights {
		concepts[concept] = w
	}

	return &GradeSpec{goalWeights: goals, conceptWeights: concepts}, nil
}

// NewGradeSpecFromDocument reconstructs a spec from its serialized form.
func NewGradeSpecFromDocument(doc GradeSpecDocument) (*GradeSpec, error) {
	return NewGradeSpec(doc.Goals, doc.Concepts)
}

// DecodeGradeSpec parses raw JSON in any supported encoding.
func DecodeGradeSpec(raw []byte) (*GradeSpec, error) {
	var doc GradeSpecDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed grade specification")
	}
	return NewGradeSpecFromDocument(doc)
}

// Calc computes the weighted average for the evaluated goals. The divisor
// is the weight sum of the goals actually present in the input, so a
// partially evaluated student is averaged only over evaluated goals. An
// empty input yields 0.
func (s *GradeSpec) Calc(goalToConcept map[string]string) (float64, error) {
	if len(goalToConcept) == 0 {
		return 0, nil
	}
	sum := 0.0
	weightSum := 0.0
	for goal, concept := range goalToConcept {
		goalWeight, ok := s.goalWeights[goal]
		if !ok {
			return 0, appErrors.Clone(appErrors.ErrUnknownGoal, fmt.Sprintf("goal %q not present in grade specification", goal))
		}
		conceptWeight, ok := s.conceptWeights[concept]
		if !ok {
			return 0, appErrors.Clone(appErrors.ErrUnknownConcept, fmt.Sprintf("concept %q not present in grade specification", concept))
		}
		sum += goalWeight * conceptWeight
		weightSum += goalWeight
	}
	if weightSum == 0 {
		return 0, nil
	}
	return sum / weightSum, nil
}

// Document exports the spec in its canonical serialized form.
func (s *GradeSpec) Document() GradeSpecDocument {
	return GradeSpecDocument{
		Goals:    s.GoalWeights(),
		Concepts: s.ConceptWeights(),
	}
}

// GoalWeights returns a copy of the goal→weight map.
func (s *GradeSpec) GoalWeights() WeightMap {
	out := make(WeightMap, len(s.goalWeights))
	for goal, w := range s.goalWeights {
		out[goal] = w
	}
	return out
}

// ConceptWeights returns a copy of the concept→weight map.
func (s *GradeSpec) ConceptWeights() WeightMap {
	out := make(WeightMap, len(s.conceptWeights))
	for concept, w := range s.conceptWeights {
		out[concept] = w
	}
	return out
}

// HasGoal reports whether the goal carries a weight in this spec.
func (s *GradeSpec) HasGoal(goal string) bool {
	_, ok := s.goalWeights[goal]
	return ok
}

// ConceptWeight returns the numeric value of a concept grade.
func (s *GradeSpec) ConceptWeight(concept string) (float64, bool) {
	w, ok := s.conceptWeights[concept]
	return w, ok
}

// GoalCount returns how many goals the spec weighs.
func (s *GradeSpec) GoalCount() int {
	return len(s.goalWeights)
}
