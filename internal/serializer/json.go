package serializer

import (
	"encoding/json"
	"io"
)

// FormatAPI is the structured export consumed by API clients.
const FormatAPI = "api"

type JSONSerializer struct {
	Indent bool
}

func (s *JSONSerializer) ContentType() string {
	return "application/json"
}

func (s *JSONSerializer) Encode(doc *Document, output io.Writer) error {
	enc := json.NewEncoder(output)
	if s.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(doc)
}

func init() {
	Register(FormatAPI, &JSONSerializer{})
}
