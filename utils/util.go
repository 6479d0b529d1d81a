package utils

// FloorDiv divides rounding toward negative infinity
func FloorDiv(a int, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// CeilDiv divides non-negative numbers rounding up
func CeilDiv(a int, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func MinInt(a int, b int) int {
	if a < b {
		return a
	}
	return b
}

func MaxInt(a int, b int) int {
	if a > b {
		return a
	}
	return b
}
