package maps

// Keys returns the keys of m in unspecified order.
func Keys[K comparable, V any, M ~map[K]V](m M) []K {
	if len(m) == 0 {
		return nil
	}

	res := make([]K, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	return res
}

// Values returns the values of m in unspecified order.
func Values[K comparable, V any, M ~map[K]V](m M) []V {
	if len(m) == 0 {
		return nil
	}

	res := make([]V, 0, len(m))
	for _, v := range m {
		res = append(res, v)
	}
	return res
}

// Select returns a new map containing the entries of m for which the selector
// returns true.
func Select[K comparable, V any, M ~map[K]V](m M, selector func(K, V) bool) M {
	res := make(M)
	for k, v := range m {
		if selector(k, v) {
			res[k] = v
		}
	}
	return res
}
