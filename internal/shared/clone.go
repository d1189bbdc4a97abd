package shared

// Clone performs a deep clone of the value.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		return Value{kind: KindList, list: cloneValues(v.list)}
	case KindMap:
		return Value{kind: KindMap, m: CloneValueMap(v.m)}
	default:
		return v
	}
}

// CloneValueMap performs a deep clone of a map[string]Value.
func CloneValueMap(source map[string]Value) map[string]Value {
	if source == nil {
		return nil
	}
	cloned := make(map[string]Value, len(source))
	for k, v := range source {
		cloned[k] = v.Clone()
	}
	return cloned
}

// CloneStrings returns a copy of a string slice, preserving nil.
func CloneStrings(source []string) []string {
	if source == nil {
		return nil
	}
	cloned := make([]string, len(source))
	copy(cloned, source)
	return cloned
}

// CloneStringMap returns a copy of a map[string]string.
func CloneStringMap(source map[string]string) map[string]string {
	if source == nil {
		return nil
	}
	cloned := make(map[string]string, len(source))
	for k, v := range source {
		cloned[k] = v
	}
	return cloned
}

// CloneFloatMap returns a copy of a map[string]float64.
func CloneFloatMap(source map[string]float64) map[string]float64 {
	if source == nil {
		return nil
	}
	cloned := make(map[string]float64, len(source))
	for k, v := range source {
		cloned[k] = v
	}
	return cloned
}

func cloneValues(source []Value) []Value {
	if source == nil {
		return nil
	}
	cloned := make([]Value, len(source))
	for i, v := range source {
		cloned[i] = v.Clone()
	}
	return cloned
}
