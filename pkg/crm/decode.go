package crm

import (
	"bytes"
	"encoding/json"
)

// decodeEither decodes a JSON array into list or an object into obj
func decodeEither(data []byte, list, obj interface{}) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	if data[0] == '[' {
		return json.Unmarshal(data, list)
	}
	return json.Unmarshal(data, obj)
}
