// Package geo provides geohash cell encoding for location cache keys.
package geo

import "strings"

const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// CellPrecision is the default geohash precision used for location cache
// keys. Seven characters is roughly a 150m x 150m cell, coarse enough to
// group repeat visits to the same merchant without merging neighbours.
const CellPrecision = 7

// Encode returns the geohash of the given coordinates at the requested
// precision (number of base32 characters).
func Encode(lat, lon float64, precision int) string {
	if precision <= 0 {
		precision = CellPrecision
	}

	var sb strings.Builder
	sb.Grow(precision)

	latMin, latMax := -90.0, 90.0
	lonMin, lonMax := -180.0, 180.0

	even := true
	bit := 0
	idx := 0

	for sb.Len() < precision {
		if even {
			mid := (lonMin + lonMax) / 2
			if lon >= mid {
				idx = idx<<1 | 1
				lonMin = mid
			} else {
				idx <<= 1
				lonMax = mid
			}
		} else {
			mid := (latMin + latMax) / 2
			if lat >= mid {
				idx = idx<<1 | 1
				latMin = mid
			} else {
				idx <<= 1
				latMax = mid
			}
		}
		even = !even

		bit++
		if bit == 5 {
			sb.WriteByte(base32[idx])
			bit = 0
			idx = 0
		}
	}

	return sb.String()
}

// Cell returns the geohash cell for the coordinates at CellPrecision.
func Cell(lat, lon float64) string {
	return Encode(lat, lon, CellPrecision)
}
