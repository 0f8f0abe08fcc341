package serializer

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dangerclosesec/strategist/internal/model"
)

var (
	mu          sync.RWMutex
	serializers = make(Serializers)
)

// Document is the exportable view of a completed analysis.
type Document struct {
	Analysis   *model.Analysis      `json:"analysis"`
	Outputs    []*model.AgentOutput `json:"outputs"`
	ExportedAt time.Time            `json:"exported_at"`
}

type Serializers map[string]Serializer

// Serializer is the interface that wraps the basic export method
type Serializer interface {
	// ContentType is the media type written by Encode
	ContentType() string

	// Encode writes doc to output
	Encode(doc *Document, output io.Writer) error
}

// Register registers a serializer for an export format
func Register(format string, serializer Serializer) {
	mu.Lock()
	defer mu.Unlock()
	serializers[format] = serializer
}

// Lookup returns the serializer registered for format, if any. Formats
// without one are rendered outside this service.
func Lookup(format string) (Serializer, bool) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := serializers[format]
	return s, ok
}

func Encode(format string, doc *Document, output io.Writer) error {
	if s, ok := Lookup(format); ok {
		return s.Encode(doc, output)
	}

	return fmt.Errorf("no serializer found for format %q", format)
}

// Formats lists the registered formats in sorted order.
func Formats() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(serializers))
	for f := range serializers {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
