package retry

import "encoding/json"

func remarshal(in map[string]any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// ToPayload converts a RetryEnvelope into the map[string]any an
// eventlog.Envelope carries as Payload.
func ToPayload(re RetryEnvelope) (map[string]any, error) {
	body, err := json.Marshal(re)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return m, nil
}
