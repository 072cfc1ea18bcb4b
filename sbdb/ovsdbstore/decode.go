package ovsdbstore

// OVSDB encodes atomic values directly as JSON scalars, but uuid, set, and
// map columns are wrapped in a two-element ["<type>", <value>] envelope
// (RFC 7047 §5.1). These helpers unwrap that envelope; every row decoder in
// this package goes through them rather than unmarshaling columns directly
// into Go structs, since a plain struct tag cannot express the envelope.

func decodeUUID(v interface{}) (string, bool) {
	pair, ok := v.([]interface{})
	if !ok || len(pair) != 2 {
		return "", false
	}
	tag, _ := pair[0].(string)
	if tag != "uuid" {
		return "", false
	}
	id, _ := pair[1].(string)
	return id, id != ""
}

func decodeUUIDSet(v interface{}) []string {
	pair, ok := v.([]interface{})
	if !ok || len(pair) != 2 {
		return nil
	}

	// A single uuid is encoded bare; a set of zero-or-more is wrapped again.
	if id, ok := decodeUUID(v); ok {
		return []string{id}
	}

	tag, _ := pair[0].(string)
	if tag != "set" {
		return nil
	}
	items, ok := pair[1].([]interface{})
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		if id, ok := decodeUUID(it); ok {
			out = append(out, id)
		}
	}
	return out
}

func decodeStringSet(v interface{}) []string {
	if s, ok := v.(string); ok {
		return []string{s}
	}
	pair, ok := v.([]interface{})
	if !ok || len(pair) != 2 {
		return nil
	}
	tag, _ := pair[0].(string)
	if tag != "set" {
		return nil
	}
	items, _ := pair[1].([]interface{})
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeStringMap(v interface{}) map[string]string {
	pair, ok := v.([]interface{})
	if !ok || len(pair) != 2 {
		return nil
	}
	tag, _ := pair[0].(string)
	if tag != "map" {
		return nil
	}
	pairs, _ := pair[1].([]interface{})

	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		kv, ok := p.([]interface{})
		if !ok || len(kv) != 2 {
			continue
		}
		k, _ := kv[0].(string)
		val, _ := kv[1].(string)
		out[k] = val
	}
	return out
}

func decodeInt(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}

func decodeBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func decodeString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func column(row map[string]interface{}, name string) interface{} {
	return row[name]
}
