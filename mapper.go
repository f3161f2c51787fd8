package corral

// MapOut converts a raw backend document into the public entity shape: the id
// attribute is synthesized from the backend identity, reserved metadata keys
// are dropped, and the projection (when present) keeps only the requested
// attributes. Hidden keys stay hidden even when projected explicitly.
func (c *Config) MapOut(raw Document, backendID string, projection []string) Document {
	if len(projection) == 0 {
		out := make(Document, len(raw)+1)
		for k, v := range raw {
			if c.IsHidden(k) {
				continue
			}
			out[k] = v
		}
		out[c.IDKey] = backendID
		return out
	}

	out := make(Document, len(projection))
	for _, k := range projection {
		if k == c.IDKey {
			out[c.IDKey] = backendID
			continue
		}
		if c.IsHidden(k) {
			continue
		}
		if v, ok := raw[k]; ok {
			out[k] = v
		}
	}
	return out
}
