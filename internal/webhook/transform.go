package webhook

import "strings"

// intentFields are the payload keys the ingress forwards into strategy
// params. Anything else in the payload is dropped.
var intentFields = []string{
	"symbol", "side", "lots", "lot_size", "price",
	"order_type", "exchange", "group_id", "mode",
}

// applyTransform maps an inbound payload onto intent fields. transform maps
// intent field -> payload field; an empty transform is the identity mapping
// over the known fields.
func applyTransform(transform map[string]string, payload map[string]any) map[string]any {
	out := make(map[string]any)
	if len(transform) == 0 {
		for _, field := range intentFields {
			if v, ok := payload[field]; ok {
				out[field] = v
			}
		}
	} else {
		for field, source := range transform {
			if v, ok := payload[source]; ok {
				out[field] = v
			}
		}
	}

	// TradingView-style action values arrive in lower case.
	if side, ok := out["side"].(string); ok {
		out["side"] = strings.ToUpper(strings.TrimSpace(side))
	}
	return out
}
