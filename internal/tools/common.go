package tools

import "encoding/json"

// decodeArgs unmarshals a tool call's raw JSON arguments into dst.
func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
