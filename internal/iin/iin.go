// Package iin validates Kazakhstan individual identification numbers.
//
// The result is used to route lookups: a valid IIN triggers DMED enrichment,
// anything else is treated as an opaque local key.
package iin

import (
	"errors"
)

const Length = 12

var (
	ErrFormat       = errors.New("iin: must be exactly 12 digits")
	ErrBusinessID   = errors.New("iin: business identification number")
	ErrNoCheckDigit = errors.New("iin: no valid check digit exists")
	ErrChecksum     = errors.New("iin: check digit mismatch")
)

var (
	firstWeights  = [11]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	secondWeights = [11]int{3, 4, 5, 6, 7, 8, 9, 10, 11, 1, 2}
)

// Validate returns nil for a valid IIN, otherwise the reason it is rejected.
func Validate(v string) error {
	if len(v) != Length {
		return ErrFormat
	}
	for i := 0; i < Length; i++ {
		if v[i] < '0' || v[i] > '9' {
			return ErrFormat
		}
	}
	// 4, 5, 6 in the fifth position mark a BIN.
	switch v[4] {
	case '4', '5', '6':
		return ErrBusinessID
	}

	want, err := Checksum(v)
	if err != nil {
		return err
	}
	if int(v[11]-'0') != want {
		return ErrChecksum
	}
	return nil
}

func Valid(v string) bool {
	return Validate(v) == nil
}

// Checksum computes the check digit over the first 11 digits of v.
// v must already be known to hold at least 11 ASCII digits.
func Checksum(v string) (int, error) {
	first := weighted(v, firstWeights) % 11
	if first != 10 {
		return first, nil
	}
	second := weighted(v, secondWeights) % 11
	if second >= 10 {
		return 0, ErrNoCheckDigit
	}
	return second, nil
}

func weighted(v string, w [11]int) int {
	sum := 0
	for i := 0; i < 11; i++ {
		sum += int(v[i]-'0') * w[i]
	}
	return sum
}
