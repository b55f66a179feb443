package workflow

// TransformData builds the target record from a source record. Mapped fields
// are renamed and take precedence; a mapped field missing from src is
// skipped. Every unmapped field is copied under its own name unless the
// mapping already produced that name.
func TransformData(src map[string]any, mapping map[string]string) map[string]any {
	out := make(map[string]any, len(src))
	for from, to := range mapping {
		if v, ok := src[from]; ok {
			out[to] = v
		}
	}
	for k, v := range src {
		if _, mapped := mapping[k]; mapped {
			continue
		}
		if _, taken := out[k]; !taken {
			out[k] = v
		}
	}
	return out
}
