package operators

import (
	"fmt"
	"strconv"
	"strings"
)

// Dim is one dimension of a symbolic shape: static (Param == "" and Value >= 0),
// symbolic (Param != ""), or unknown (Value < 0 and no Param).
type Dim struct {
	Value int64
	Param string
}

// StaticDim returns a static dimension.
func StaticDim(v int64) Dim { return Dim{Value: v} }

// SymbolicDim returns a named dynamic dimension.
func SymbolicDim(name string) Dim { return Dim{Param: name} }

// UnknownDim returns a dimension inference could not determine.
func UnknownDim() Dim { return Dim{Value: -1} }

// IsStatic reports whether the dimension has a fixed value.
func (d Dim) IsStatic() bool { return d.Param == "" && d.Value >= 0 }

// IsSymbolic reports whether the dimension is a named dynamic dimension.
func (d Dim) IsSymbolic() bool { return d.Param != "" }

// Compatible reports whether two dims may describe the same extent.
// Unknown dims are compatible with anything.
func (d Dim) Compatible(o Dim) bool {
	switch {
	case !d.IsStatic() && !d.IsSymbolic(), !o.IsStatic() && !o.IsSymbolic():
		return true
	case d.IsStatic() && o.IsStatic():
		return d.Value == o.Value
	case d.IsSymbolic() && o.IsSymbolic():
		return d.Param == o.Param
	default:
		return false
	}
}

func (d Dim) String() string {
	switch {
	case d.IsSymbolic():
		return d.Param
	case d.IsStatic():
		return strconv.FormatInt(d.Value, 10)
	default:
		return "?"
	}
}

// Shape is a symbolic tensor shape.
type Shape []Dim

// StaticShape builds a fully static shape.
func StaticShape(dims ...int64) Shape {
	s := make(Shape, len(dims))
	for i, d := range dims {
		s[i] = StaticDim(d)
	}
	return s
}

// Compatible reports whether two shapes have the same rank and compatible dims.
func (s Shape) Compatible(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].Compatible(o[i]) {
			return false
		}
	}
	return true
}

// Product multiplies dims. A single symbolic dim times static ones equal to 1 stays
// symbolic; any other mix of non-static dims gives an unknown dim.
func (s Shape) Product() Dim {
	prod := int64(1)
	var symbolic []Dim
	for _, d := range s {
		switch {
		case d.IsStatic():
			prod *= d.Value
		case d.IsSymbolic():
			symbolic = append(symbolic, d)
		default:
			return UnknownDim()
		}
	}
	switch {
	case len(symbolic) == 0:
		return StaticDim(prod)
	case len(symbolic) == 1 && prod == 1:
		return symbolic[0]
	default:
		return UnknownDim()
	}
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// broadcastShapes applies ONNX multidirectional (numpy) broadcasting.
func broadcastShapes(a, b Shape) (Shape, error) {
	rank := max(len(a), len(b))
	out := make(Shape, rank)
	for i := 0; i < rank; i++ {
		da, db := StaticDim(1), StaticDim(1)
		if j := len(a) - rank + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - rank + i; j >= 0 {
			db = b[j]
		}
		switch {
		case da.IsStatic() && da.Value == 1:
			out[i] = db
		case db.IsStatic() && db.Value == 1:
			out[i] = da
		case da.Compatible(db):
			if da.IsStatic() || da.IsSymbolic() {
				out[i] = da
			} else {
				out[i] = db
			}
		default:
			return nil, fmt.Errorf("cannot broadcast %v with %v", a, b)
		}
	}
	return out, nil
}
