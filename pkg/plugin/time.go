package starlarklib

import (
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Times cross the script boundary as RFC 3339 strings, the format entities
// are serialised with.
func makeTimeModule() *starlarkstruct.Module {
	return module("time", map[string]builtinFunc{
		"now":    timeNow,
		"parse":  timeParse,
		"format": timeFormat,
		"unix":   timeUnix,
		"add":    timeAdd,
		"day":    timeDay,
	})
}

func parseRFC3339(fn *starlark.Builtin, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	return t, nil
}

func location(fn *starlark.Builtin, name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid timezone: %w", fn.Name(), err)
	}
	return loc, nil
}

func timeNow(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return starlark.String(time.Now().UTC().Format(time.RFC3339)), nil
}

// timeParse reads value with a Go layout, interpreting it in timezone when
// the layout carries no zone.
func timeParse(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var layout, value string
	timezone := "UTC"
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "layout", &layout, "value", &value, "timezone?", &timezone); err != nil {
		return nil, err
	}

	loc, err := location(fn, timezone)
	if err != nil {
		return nil, err
	}
	t, err := time.ParseInLocation(layout, value, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	return starlark.String(t.Format(time.RFC3339)), nil
}

func timeFormat(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value, layout string
	timezone := "UTC"
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "value", &value, "layout", &layout, "timezone?", &timezone); err != nil {
		return nil, err
	}

	t, err := parseRFC3339(fn, value)
	if err != nil {
		return nil, err
	}
	loc, err := location(fn, timezone)
	if err != nil {
		return nil, err
	}
	return starlark.String(t.In(loc).Format(layout)), nil
}

func timeUnix(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "value?", &value); err != nil {
		return nil, err
	}
	if value == "" {
		return starlark.MakeInt64(time.Now().Unix()), nil
	}
	t, err := parseRFC3339(fn, value)
	if err != nil {
		return nil, err
	}
	return starlark.MakeInt64(t.Unix()), nil
}

func timeAdd(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value, duration string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "value", &value, "duration", &duration); err != nil {
		return nil, err
	}
	t, err := parseRFC3339(fn, value)
	if err != nil {
		return nil, err
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	return starlark.String(t.Add(d).Format(time.RFC3339)), nil
}

// timeDay truncates value to midnight in timezone, the granularity event
// dates are keyed by.
func timeDay(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value string
	timezone := "UTC"
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "value", &value, "timezone?", &timezone); err != nil {
		return nil, err
	}
	t, err := parseRFC3339(fn, value)
	if err != nil {
		return nil, err
	}
	loc, err := location(fn, timezone)
	if err != nil {
		return nil, err
	}
	t = t.In(loc)
	return starlark.String(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc).Format(time.RFC3339)), nil
}
