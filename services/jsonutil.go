package services

import "encoding/json"

// mustJSON marshals a merge snapshot for storage in a MergeDetails column.
// The input types are fixed, compile-time-known structs, so a marshal error
// here would mean a programming bug, not bad input.
func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func unmarshalSnapshot2(raw json.RawMessage, out interface{}) error {
	return json.Unmarshal(raw, out)
}
