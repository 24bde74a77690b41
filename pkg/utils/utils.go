package utils

import (
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer | constraints.Float
}

// SetDefaultNum sets *p to d if *p is zero.
func SetDefaultNum[T Number](p *T, d T) {
	if *p == 0 {
		*p = d
	}
}

// CheckNumRange reports whether min <= n <= max.
func CheckNumRange[T Number](n, min, max T) bool {
	return n >= min && n <= max
}
