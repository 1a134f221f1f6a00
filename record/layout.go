package record

import (
	"encoding/binary"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Field describes one fixed-point value in a payload. A stored value is
// round(value * Scale) clamped to the range of Width bytes.
type Field struct {
	Name   string
	Offset int
	Width  int
	Signed bool
	Scale  float64
}

type Layout struct {
	Kind   Kind
	Name   string
	Fields []Field
}

// Changed bits used in the trailing "changed" field of group kinds.
const (
	ChangedFirst uint8 = 1 << iota
	ChangedSecond
	ChangedThird
	ChangedFourth
	ChangedFifth
	ChangedSixth
)

var defaultLayouts = map[Kind]Layout{
	KindEngine: {KindEngine, "engine", []Field{
		{"rpm", 0, 2, false, 1},
		{"throttle", 2, 2, false, 10},
		{"load", 4, 2, false, 10},
		{"wheel_speed", 6, 2, false, 10},
		{"changed", 8, 1, false, 1},
	}},
	KindFuel: {KindFuel, "fuel", []Field{
		{"econ_short", 0, 2, false, 100},
		{"econ_medium", 2, 2, false, 100},
		{"trim_short", 4, 2, true, 10},
		{"trim_long", 6, 2, true, 10},
		{"changed", 8, 1, false, 1},
	}},
	KindTemps: {KindTemps, "temps", []Field{
		{"coolant", 0, 2, true, 10},
		{"intake", 2, 2, true, 10},
		{"oil", 4, 2, true, 10},
		{"battery", 6, 2, false, 100},
		{"changed", 8, 1, false, 1},
	}},
	KindInertial: {KindInertial, "inertial", []Field{
		{"ax", 0, 2, true, 1},
		{"ay", 2, 2, true, 1},
		{"az", 4, 2, true, 1},
		{"gx", 6, 2, true, 1},
		{"gy", 8, 2, true, 1},
		{"gz", 10, 2, true, 1},
		{"changed", 12, 1, false, 1},
	}},
	KindMagnetic: {KindMagnetic, "magnetic", []Field{
		{"mx", 0, 2, true, 1},
		{"my", 2, 2, true, 1},
		{"mz", 4, 2, true, 1},
	}},
	KindGPS: {KindGPS, "gps", []Field{
		{"speed", 0, 2, false, 10},
		{"track", 2, 2, true, 10},
	}},
	KindPosition: {KindPosition, "position", []Field{
		{"lat", 0, 4, true, 1e7},
		{"lon", 4, 4, true, 1e7},
		{"alt", 8, 4, true, 10},
	}},
	KindTimeSync: {KindTimeSync, "timesync", []Field{
		{"gps_time", 0, 8, true, 1},
	}},
	KindDTC: {KindDTC, "dtc", []Field{
		{"code", 0, 2, false, 1},
		{"index", 2, 1, false, 1},
		{"count", 3, 1, false, 1},
	}},
	// any mode 01 parameter without a kind of its own
	KindOBD: {KindOBD, "obd", []Field{
		{"pid", 0, 1, false, 1},
		{"value", 1, 4, true, 100},
	}},
}

// DefaultLayouts returns a copy of the built-in kind table ordered by kind.
func DefaultLayouts() []Layout {
	kinds := make([]int, 0, len(defaultLayouts))
	for k := range defaultLayouts {
		kinds = append(kinds, int(k))
	}
	sort.Ints(kinds)
	out := make([]Layout, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, defaultLayouts[Kind(k)].clone())
	}
	return out
}

func (l Layout) clone() Layout {
	c := l
	c.Fields = append([]Field(nil), l.Fields...)
	return c
}

func (l Layout) field(name string) (Field, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Codec encodes and decodes records with a set of layouts.
type Codec struct {
	layouts map[Kind]Layout
}

// NewCodec builds a codec from the default layouts. scales overrides field
// scales by "kind.field" name, e.g. "engine.rpm".
func NewCodec(scales map[string]float64) (*Codec, error) {
	c := &Codec{layouts: make(map[Kind]Layout, len(defaultLayouts))}
	byName := map[string]Kind{}
	for k, l := range defaultLayouts {
		c.layouts[k] = l.clone()
		byName[l.Name] = k
	}
	for key, scale := range scales {
		parts := strings.SplitN(key, ".", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("scale key %q is not kind.field", key)
		}
		k, ok := byName[parts[0]]
		if !ok {
			return nil, errors.Errorf("scale key %q: unknown kind", key)
		}
		if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
			return nil, errors.Errorf("scale key %q: invalid scale %v", key, scale)
		}
		l := c.layouts[k]
		found := false
		for i := range l.Fields {
			if l.Fields[i].Name == parts[1] {
				l.Fields[i].Scale = scale
				found = true
			}
		}
		if !found {
			return nil, errors.Errorf("scale key %q: unknown field", key)
		}
	}
	return c, nil
}

func (c *Codec) Layout(kind Kind) (Layout, bool) {
	l, ok := c.layouts[kind]
	return l, ok
}

// Encode builds a record for kind. values are given in field order; missing
// trailing values encode as zero.
func (c *Codec) Encode(kind Kind, stamp int64, values ...float64) (Record, error) {
	l, ok := c.layouts[kind]
	if !ok {
		return Record{}, errors.Wrapf(ErrUnknownKind, "0x%02x", uint8(kind))
	}
	if len(values) > len(l.Fields) {
		return Record{}, errors.Errorf("%s: %d values for %d fields", l.Name, len(values), len(l.Fields))
	}
	r := newRecord(kind, stamp)
	for i, v := range values {
		putField(r[payloadOffset:], l.Fields[i], v)
	}
	return r, nil
}

// Decoded is a record expanded into named values.
type Decoded struct {
	Stamp  int64
	Kind   Kind
	Name   string
	Values map[string]float64
}

func (d Decoded) Value(name string) float64 {
	return d.Values[name]
}

func (c *Codec) Decode(r Record) (Decoded, error) {
	l, ok := c.layouts[r.Kind()]
	if !ok {
		return Decoded{}, errors.Wrapf(ErrUnknownKind, "0x%02x", uint8(r.Kind()))
	}
	d := Decoded{
		Stamp:  r.Stamp(),
		Kind:   r.Kind(),
		Name:   l.Name,
		Values: make(map[string]float64, len(l.Fields)),
	}
	for _, f := range l.Fields {
		d.Values[f.Name] = getField(r[payloadOffset:], f)
	}
	return d, nil
}

// Value decodes a single field.
func (c *Codec) Value(r Record, name string) (float64, bool) {
	l, ok := c.layouts[r.Kind()]
	if !ok {
		return 0, false
	}
	f, ok := l.field(name)
	if !ok {
		return 0, false
	}
	return getField(r[payloadOffset:], f), true
}

func fieldRange(f Field) (float64, float64) {
	bits := uint(f.Width * 8)
	if f.Signed {
		return -math.Ldexp(1, int(bits-1)), math.Ldexp(1, int(bits-1)) - 1
	}
	return 0, math.Ldexp(1, int(bits)) - 1
}

func putField(p []byte, f Field, v float64) {
	if math.IsNaN(v) {
		v = 0
	}
	scaled := math.Round(v * f.Scale)
	lo, hi := fieldRange(f)
	if scaled < lo {
		scaled = lo
	}
	if scaled > hi {
		scaled = hi
	}
	var raw uint64
	if f.Signed {
		if f.Width == 8 {
			// float64 cannot represent MaxInt64 exactly
			if scaled >= math.MaxInt64 {
				raw = uint64(math.MaxInt64)
			} else {
				raw = uint64(int64(scaled))
			}
		} else {
			raw = uint64(int64(scaled))
		}
	} else {
		if f.Width == 8 && scaled >= math.MaxUint64 {
			raw = math.MaxUint64
		} else {
			raw = uint64(scaled)
		}
	}
	b := p[f.Offset : f.Offset+f.Width]
	switch f.Width {
	case 1:
		b[0] = uint8(raw)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(raw))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(raw))
	case 8:
		binary.LittleEndian.PutUint64(b, raw)
	}
}

func getField(p []byte, f Field) float64 {
	b := p[f.Offset : f.Offset+f.Width]
	var v float64
	switch f.Width {
	case 1:
		if f.Signed {
			v = float64(int8(b[0]))
		} else {
			v = float64(b[0])
		}
	case 2:
		u := binary.LittleEndian.Uint16(b)
		if f.Signed {
			v = float64(int16(u))
		} else {
			v = float64(u)
		}
	case 4:
		u := binary.LittleEndian.Uint32(b)
		if f.Signed {
			v = float64(int32(u))
		} else {
			v = float64(u)
		}
	case 8:
		u := binary.LittleEndian.Uint64(b)
		if f.Signed {
			v = float64(int64(u))
		} else {
			v = float64(u)
		}
	}
	return v / f.Scale
}
