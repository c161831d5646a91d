package cli

import (
	"reflect"

	"github.com/alecthomas/kong"

	"go.hackfix.me/monarch/xtime"
)

// DurationMapper parses durations that may use day and week units, e.g. "2d".
type DurationMapper struct{}

var _ kong.Mapper = (*DurationMapper)(nil)

// Decode implements the kong.Mapper interface.
func (DurationMapper) Decode(kctx *kong.DecodeContext, target reflect.Value) error {
	var value string
	err := kctx.Scan.PopValueInto("duration", &value)
	if err != nil {
		return err
	}

	dur, err := xtime.ParsePositiveDuration(value)
	if err != nil {
		return err
	}

	target.Set(reflect.ValueOf(dur))

	return nil
}
