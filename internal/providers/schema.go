package providers

// ToolSchemaForWire returns a copy of tool.Schema with additionalProperties
// set to false on every object schema, per the spec's tool-injection rule
// ("applied to every object schema to prevent free-form extensions").
func ToolSchemaForWire(schema map[string]any) map[string]any {
	return lockObjectSchema(schema)
}

func lockObjectSchema(node map[string]any) map[string]any {
	if node == nil {
		return nil
	}
	out := make(map[string]any, len(node)+1)
	for k, v := range node {
		out[k] = lockValue(v)
	}
	if t, _ := out["type"].(string); t == "object" {
		if _, set := out["additionalProperties"]; !set {
			out["additionalProperties"] = false
		}
	}
	return out
}

func lockValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return lockObjectSchema(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = lockValue(e)
		}
		return out
	default:
		return val
	}
}
