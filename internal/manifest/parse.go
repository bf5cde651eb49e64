package manifest

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Parse decodes and validates a capability document fetched from a device.
//
// Validation enforces the structural rules every consumer downstream
// relies on:
//   - action names are non-empty and unique
//   - parameter names are non-empty and unique within their action
//   - parameter types are recognised
//   - numeric constraints are coherent (min <= max, step > 0, whole
//     numbers for integer parameters)
//   - enum parameters carry a non-empty, duplicate-free value list
//   - defaults conform to their own declared constraints
//
// Hazard tags are not validated against the catalogue: unknown tags are
// preserved so the caller can flag them (see Manifest.UnknownHazards).
//
// Any violation returns a *MalformedError wrapping ErrMalformed; the
// document can only be fixed on the device side, so callers must not
// retry the fetch.
func Parse(deviceID string, data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, malformedf("invalid JSON: %v", err)
	}

	m.DeviceID = deviceID
	m.FetchedAt = time.Now().UTC()

	if m.Actions == nil {
		m.Actions = []ActionSchema{}
	}

	seenActions := make(map[string]struct{}, len(m.Actions))
	for i := range m.Actions {
		action := &m.Actions[i]

		if strings.TrimSpace(action.Name) == "" {
			return nil, malformedf("action %d: empty name", i)
		}
		if _, dup := seenActions[action.Name]; dup {
			return nil, malformedf("action %q: duplicate name", action.Name)
		}
		seenActions[action.Name] = struct{}{}

		action.Route = normaliseRoute(action.Route, action.Name)

		if err := validateParams(action); err != nil {
			return nil, err
		}
	}

	return &m, nil
}

// normaliseRoute gives every action an absolute route. Devices may omit
// the route entirely, in which case the action name doubles as the path.
func normaliseRoute(route, name string) string {
	route = strings.TrimSpace(route)
	if route == "" {
		route = name
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return route
}

// validateParams checks every parameter of one action.
func validateParams(action *ActionSchema) error {
	seen := make(map[string]struct{}, len(action.Params))
	for i := range action.Params {
		p := &action.Params[i]

		if strings.TrimSpace(p.Name) == "" {
			return malformedf("action %q: parameter %d: empty name", action.Name, i)
		}
		if _, dup := seen[p.Name]; dup {
			return malformedf("action %q: duplicate parameter %q", action.Name, p.Name)
		}
		seen[p.Name] = struct{}{}

		if !p.Type.Valid() {
			return malformedf("action %q: parameter %q: unrecognised type %q", action.Name, p.Name, p.Type)
		}

		if err := validateConstraints(action.Name, p); err != nil {
			return err
		}

		if p.Default != nil {
			if err := validateDefault(action.Name, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateConstraints checks that range and enum constraints fit the
// declared type and are internally coherent.
func validateConstraints(actionName string, p *Parameter) error {
	numeric := p.Type == ParamInteger || p.Type == ParamFloat

	if !numeric && (p.Min != nil || p.Max != nil || p.Step != nil) {
		return malformedf("action %q: parameter %q: range constraints on non-numeric type %q",
			actionName, p.Name, p.Type)
	}

	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		return malformedf("action %q: parameter %q: min %v greater than max %v",
			actionName, p.Name, *p.Min, *p.Max)
	}

	if p.Step != nil && *p.Step <= 0 {
		return malformedf("action %q: parameter %q: step must be positive, got %v",
			actionName, p.Name, *p.Step)
	}

	if p.Type == ParamInteger {
		for _, bound := range []struct {
			label string
			value *float64
		}{
			{"min", p.Min},
			{"max", p.Max},
			{"step", p.Step},
		} {
			if bound.value != nil && !isWhole(*bound.value) {
				return malformedf("action %q: parameter %q: %s %v is not a whole number",
					actionName, p.Name, bound.label, *bound.value)
			}
		}
	}

	if p.Type == ParamEnum {
		if len(p.Values) == 0 {
			return malformedf("action %q: parameter %q: enum with no values", actionName, p.Name)
		}
		seen := make(map[string]struct{}, len(p.Values))
		for _, v := range p.Values {
			if v == "" {
				return malformedf("action %q: parameter %q: empty enum value", actionName, p.Name)
			}
			if _, dup := seen[v]; dup {
				return malformedf("action %q: parameter %q: duplicate enum value %q", actionName, p.Name, v)
			}
			seen[v] = struct{}{}
		}
	} else if len(p.Values) > 0 {
		return malformedf("action %q: parameter %q: value list on non-enum type %q",
			actionName, p.Name, p.Type)
	}

	return nil
}

// validateDefault checks that a declared default satisfies the
// parameter's own type and constraints.
func validateDefault(actionName string, p *Parameter) error {
	switch p.Type {
	case ParamBoolean:
		if _, ok := p.Default.(bool); !ok {
			return malformedf("action %q: parameter %q: default is not a boolean", actionName, p.Name)
		}

	case ParamInteger:
		f, ok := p.Default.(float64)
		if !ok || !isWhole(f) {
			return malformedf("action %q: parameter %q: default is not an integer", actionName, p.Name)
		}
		if err := checkRange(actionName, p, f); err != nil {
			return err
		}

	case ParamFloat:
		f, ok := p.Default.(float64)
		if !ok {
			return malformedf("action %q: parameter %q: default is not a number", actionName, p.Name)
		}
		if err := checkRange(actionName, p, f); err != nil {
			return err
		}

	case ParamString:
		if _, ok := p.Default.(string); !ok {
			return malformedf("action %q: parameter %q: default is not a string", actionName, p.Name)
		}

	case ParamEnum:
		s, ok := p.Default.(string)
		if !ok {
			return malformedf("action %q: parameter %q: default is not a string", actionName, p.Name)
		}
		found := false
		for _, v := range p.Values {
			if v == s {
				found = true
				break
			}
		}
		if !found {
			return malformedf("action %q: parameter %q: default %q not in enum values", actionName, p.Name, s)
		}
	}

	return nil
}

// checkRange verifies a numeric value against optional min/max bounds.
func checkRange(actionName string, p *Parameter, v float64) error {
	if p.Min != nil && v < *p.Min {
		return malformedf("action %q: parameter %q: default %v below min %v", actionName, p.Name, v, *p.Min)
	}
	if p.Max != nil && v > *p.Max {
		return malformedf("action %q: parameter %q: default %v above max %v", actionName, p.Name, v, *p.Max)
	}
	return nil
}

// isWhole reports whether a float64 carries no fractional part.
func isWhole(f float64) bool {
	return f == math.Trunc(f)
}
