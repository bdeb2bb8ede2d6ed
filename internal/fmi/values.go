package fmi

import (
	"fmt"

	"github.com/san-kum/hybridsim/internal/dynamo"
)

func (in *Instance) refsCheck(op string, nRefs, nValues int) error {
	if nRefs != nValues {
		return fmt.Errorf("unit %q: %s got %d refs and %d values: %w", in.name, op, nRefs, nValues, dynamo.ErrDimensionMismatch)
	}
	return nil
}

func (in *Instance) GetReal(refs []ValueRef) ([]float64, error) {
	if err := in.check("getReal", valueModes...); err != nil {
		return nil, err
	}
	out := make([]float64, len(refs))
	return out, in.status("getReal", in.unit.GetReal(refs, out))
}

func (in *Instance) GetInteger(refs []ValueRef) ([]int, error) {
	if err := in.check("getInteger", valueModes...); err != nil {
		return nil, err
	}
	out := make([]int, len(refs))
	return out, in.status("getInteger", in.unit.GetInteger(refs, out))
}

func (in *Instance) GetBoolean(refs []ValueRef) ([]bool, error) {
	if err := in.check("getBoolean", valueModes...); err != nil {
		return nil, err
	}
	out := make([]bool, len(refs))
	return out, in.status("getBoolean", in.unit.GetBoolean(refs, out))
}

func (in *Instance) GetString(refs []ValueRef) ([]string, error) {
	if err := in.check("getString", valueModes...); err != nil {
		return nil, err
	}
	out := make([]string, len(refs))
	return out, in.status("getString", in.unit.GetString(refs, out))
}

func (in *Instance) SetReal(refs []ValueRef, values []float64) error {
	if err := in.check("setReal", valueModes...); err != nil {
		return err
	}
	if err := in.refsCheck("setReal", len(refs), len(values)); err != nil {
		return err
	}
	return in.status("setReal", in.unit.SetReal(refs, values))
}

func (in *Instance) SetInteger(refs []ValueRef, values []int) error {
	if err := in.check("setInteger", valueModes...); err != nil {
		return err
	}
	if err := in.refsCheck("setInteger", len(refs), len(values)); err != nil {
		return err
	}
	return in.status("setInteger", in.unit.SetInteger(refs, values))
}

func (in *Instance) SetBoolean(refs []ValueRef, values []bool) error {
	if err := in.check("setBoolean", valueModes...); err != nil {
		return err
	}
	if err := in.refsCheck("setBoolean", len(refs), len(values)); err != nil {
		return err
	}
	return in.status("setBoolean", in.unit.SetBoolean(refs, values))
}

func (in *Instance) SetString(refs []ValueRef, values []string) error {
	if err := in.check("setString", valueModes...); err != nil {
		return err
	}
	if err := in.refsCheck("setString", len(refs), len(values)); err != nil {
		return err
	}
	return in.status("setString", in.unit.SetString(refs, values))
}

func (in *Instance) lookup(name string) (*ScalarVariable, error) {
	v, ok := in.desc.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unit %q has no variable %q", in.name, name)
	}
	return v, nil
}

// GetValue reads a variable by name. The result is float64, int, bool or
// string according to the variable's kind.
func (in *Instance) GetValue(name string) (any, error) {
	v, err := in.lookup(name)
	if err != nil {
		return nil, err
	}
	refs := []ValueRef{v.Ref}
	switch v.Kind {
	case Integer:
		vals, err := in.GetInteger(refs)
		if err != nil {
			return nil, err
		}
		return vals[0], nil
	case Boolean:
		vals, err := in.GetBoolean(refs)
		if err != nil {
			return nil, err
		}
		return vals[0], nil
	case String:
		vals, err := in.GetString(refs)
		if err != nil {
			return nil, err
		}
		return vals[0], nil
	default:
		vals, err := in.GetReal(refs)
		if err != nil {
			return nil, err
		}
		return vals[0], nil
	}
}

// SetValue writes a variable by name, converting numeric values to the
// variable's kind.
func (in *Instance) SetValue(name string, value any) error {
	v, err := in.lookup(name)
	if err != nil {
		return err
	}
	refs := []ValueRef{v.Ref}
	switch v.Kind {
	case String:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("unit %q: variable %q expects a string, got %T", in.name, name, value)
		}
		return in.SetString(refs, []string{s})
	case Boolean:
		b, err := toBool(value)
		if err != nil {
			return fmt.Errorf("unit %q: variable %q: %w", in.name, name, err)
		}
		return in.SetBoolean(refs, []bool{b})
	case Integer:
		f, err := toFloat(value)
		if err != nil {
			return fmt.Errorf("unit %q: variable %q: %w", in.name, name, err)
		}
		return in.SetInteger(refs, []int{int(f)})
	default:
		f, err := toFloat(value)
		if err != nil {
			return fmt.Errorf("unit %q: variable %q: %w", in.name, name, err)
		}
		return in.SetReal(refs, []float64{f})
	}
}

// GetFloat reads a numeric variable as float64. Booleans read as 0 or 1.
func (in *Instance) GetFloat(name string) (float64, error) {
	v, err := in.GetValue(name)
	if err != nil {
		return 0, err
	}
	return toFloat(v)
}

// SetFloat writes a numeric variable from a float64.
func (in *Instance) SetFloat(name string, value float64) error {
	return in.SetValue(name, value)
}

// ApplyStartValues writes the description's start values for parameters,
// inputs and locals, then the overrides. Overrides may not target outputs.
func (in *Instance) ApplyStartValues(overrides map[string]any) error {
	if err := in.check("applyStartValues", ModeInstantiated); err != nil {
		return err
	}
	for i := range in.desc.Variables {
		v := &in.desc.Variables[i]
		if v.Start == nil || !settable(v) {
			continue
		}
		if err := in.SetValue(v.Name, v.Start); err != nil {
			return err
		}
	}
	for name, value := range overrides {
		v, err := in.lookup(name)
		if err != nil {
			return err
		}
		if !settable(v) {
			return fmt.Errorf("unit %q: variable %q has causality %s and cannot be given a start value", in.name, name, v.Causality)
		}
		if err := in.SetValue(name, value); err != nil {
			return err
		}
	}
	return nil
}

func settable(v *ScalarVariable) bool {
	switch v.Causality {
	case Parameter, Input, Local:
		return v.Variability != Constant
	}
	return false
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot use %T as a number", v)
	}
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	default:
		f, err := toFloat(v)
		if err != nil {
			return false, err
		}
		return f != 0, nil
	}
}
