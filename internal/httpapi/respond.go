package httpapi

import (
	"io"

	"github.com/goccy/go-json"
)

func encodeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
