package manifest

import "time"

// ParamType is the declared type of an action parameter.
type ParamType string

// ParamType constants.
const (
	ParamBoolean ParamType = "boolean"
	ParamInteger ParamType = "integer"
	ParamFloat   ParamType = "float"
	ParamString  ParamType = "string"
	ParamEnum    ParamType = "enum"
)

// AllParamTypes returns all valid parameter type values.
func AllParamTypes() []ParamType {
	return []ParamType{
		ParamBoolean, ParamInteger, ParamFloat, ParamString, ParamEnum,
	}
}

// Valid reports whether the type is one of the recognised parameter types.
func (p ParamType) Valid() bool {
	switch p {
	case ParamBoolean, ParamInteger, ParamFloat, ParamString, ParamEnum:
		return true
	default:
		return false
	}
}

// Parameter describes one input an action accepts.
//
// Min, Max and Step apply to integer and float parameters; Values applies
// to enum parameters. Default, when present, must conform to the declared
// constraints (enforced at parse time).
type Parameter struct {
	Name    string    `json:"name"`
	Type    ParamType `json:"type"`
	Min     *float64  `json:"min,omitempty"`
	Max     *float64  `json:"max,omitempty"`
	Step    *float64  `json:"step,omitempty"`
	Default any       `json:"default,omitempty"`
	Values  []string  `json:"values,omitempty"`
}

// ActionSchema describes one action a device exposes: the route commands
// are POSTed to, the parameters callers must supply, and the hazards the
// caller has to acknowledge before dispatch.
//
// Params preserves the device's declaration order; argument validation
// reports problems in this order.
type ActionSchema struct {
	Name        string      `json:"name"`
	Route       string      `json:"route"`
	Description string      `json:"description,omitempty"`
	Params      []Parameter `json:"params,omitempty"`
	Hazards     []Hazard    `json:"hazards,omitempty"`
}

// Hazardous reports whether the action declares at least one hazard.
func (a *ActionSchema) Hazardous() bool {
	return len(a.Hazards) > 0
}

// Param returns the declared parameter with the given name, or nil.
func (a *ActionSchema) Param(name string) *Parameter {
	for i := range a.Params {
		if a.Params[i].Name == name {
			return &a.Params[i]
		}
	}
	return nil
}

// Manifest is a device's parsed capability document.
//
// A Manifest is built once by Parse and never mutated afterwards; the
// registry swaps whole *Manifest pointers, so readers holding an old
// pointer keep a consistent view.
type Manifest struct {
	DeviceID  string         `json:"-"`
	Kind      string         `json:"kind"`
	Actions   []ActionSchema `json:"actions"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// Action returns the schema for the named action, or nil if the device
// does not expose it.
func (m *Manifest) Action(name string) *ActionSchema {
	for i := range m.Actions {
		if m.Actions[i].Name == name {
			return &m.Actions[i]
		}
	}
	return nil
}

// ActionNames returns the names of all actions in declaration order.
func (m *Manifest) ActionNames() []string {
	names := make([]string, len(m.Actions))
	for i := range m.Actions {
		names[i] = m.Actions[i].Name
	}
	return names
}

// UnknownHazards returns the hazard tags in the manifest that are not in
// the catalogue, deduplicated, in first-appearance order.
func (m *Manifest) UnknownHazards() []Hazard {
	var unknown []Hazard
	seen := make(map[Hazard]struct{})
	for i := range m.Actions {
		for _, h := range m.Actions[i].Hazards {
			if h.Known() {
				continue
			}
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			unknown = append(unknown, h)
		}
	}
	return unknown
}
