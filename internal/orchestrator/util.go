package orchestrator

import "encoding/json"

// jsonUnmarshalBestEffort decodes raw into v, swallowing errors: event
// bodies are advisory context for cache population, never load-bearing for
// correctness, so a malformed or absent body degrades gracefully to a zero
// value rather than failing the whole operation.
func jsonUnmarshalBestEffort(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
