package ring

// Difference returns a - b, i.e. the keys in `a` that are not in `b`
func Difference[T comparable, V1, V2 any](a map[T]V1, b map[T]V2) []T {
	var ret []T
	for k := range a {
		if _, ok := b[k]; ok {
			continue
		}
		ret = append(ret, k)
	}
	return ret
}

// Intersect returns the keys that are in `a` and `b`
func Intersect[T comparable, V1, V2 any](a map[T]V1, b map[T]V2) []T {
	var ret []T
	for k := range a {
		if _, ok := b[k]; !ok {
			continue
		}
		ret = append(ret, k)
	}
	return ret
}

// SymmetricDifference returns the keys that are in exactly one of `a` and `b`
func SymmetricDifference[T comparable, V1, V2 any](a map[T]V1, b map[T]V2) []T {
	return append(Difference(a, b), Difference(b, a)...)
}

// IsSuperset returns true if every key in `b` is also in `a`
func IsSuperset[T comparable, V1, V2 any](a map[T]V1, b map[T]V2) bool {
	if len(a) < len(b) {
		return false
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}
