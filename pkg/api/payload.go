package api

import "encoding/json"

// encodePayload round-trips v through JSON into a map, the shape
// eventlog.Envelope.Payload requires — the same approach pkg/replay
// uses to turn a typed role payload into an envelope's untyped map.
func encodePayload(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
