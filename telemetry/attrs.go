package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// attrsFromKV converts alternating key/value pairs into OpenTelemetry
// string attributes, formatting every value with fmt.Sprint. Pairs whose
// key is not a string are skipped, as is a trailing unpaired key.
func attrsFromKV(kv []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, attribute.String(key, fmt.Sprint(kv[i+1])))
	}
	return attrs
}
