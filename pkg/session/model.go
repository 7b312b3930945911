package session

import "strings"

// Model is one of the two conversational models the backend serves.
type Model int

const (
	// ModelA is the default model.
	ModelA Model = iota
	ModelB
)

var modelInfo = map[Model]struct {
	name     string
	label    string
	keywords []string
}{
	ModelA: {name: "Orange Cat", label: "橘猫", keywords: []string{"橘猫", "orange"}},
	ModelB: {name: "Exotic Shorthair", label: "黑猫", keywords: []string{"黑猫", "exotic"}},
}

// Name returns the canonical backend name sent on the wire.
func (m Model) Name() string {
	if info, ok := modelInfo[m]; ok {
		return info.name
	}
	return modelInfo[ModelA].name
}

// Label returns the user-facing display label.
func (m Model) Label() string {
	if info, ok := modelInfo[m]; ok {
		return info.label
	}
	return modelInfo[ModelA].label
}

func (m Model) String() string {
	return m.Name()
}

// Valid reports whether m is ModelA or ModelB.
func (m Model) Valid() bool {
	_, ok := modelInfo[m]
	return ok
}

// ResolveModel maps a free-form keyword to a model by case-insensitive
// substring match. ModelA is tested first.
func ResolveModel(keyword string) (Model, bool) {
	lowered := strings.ToLower(strings.TrimSpace(keyword))
	if lowered == "" {
		return ModelA, false
	}
	for _, m := range []Model{ModelA, ModelB} {
		for _, kw := range modelInfo[m].keywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				return m, true
			}
		}
	}
	return ModelA, false
}
