package serializer_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/serializer"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSerializer struct{}

func (s *failingSerializer) ContentType() string { return "text/plain" }

func (s *failingSerializer) Encode(doc *serializer.Document, output io.Writer) error {
	return errors.New("boom")
}

func TestAPIFormatRegistered(t *testing.T) {
	s, ok := serializer.Lookup(serializer.FormatAPI)
	require.True(t, ok)
	assert.Equal(t, "application/json", s.ContentType())
	assert.Contains(t, serializer.Formats(), serializer.FormatAPI)
}

func TestEncodeAPI(t *testing.T) {
	doc := &serializer.Document{
		Analysis: &model.Analysis{
			ID:      uuid.New(),
			OrgID:   uuid.New(),
			Status:  model.AnalysisCompleted,
			Problem: "where should we grow?",
			Summary: "expand into the midwest",
		},
		Outputs: []*model.AgentOutput{
			{ID: uuid.New(), AgentID: "market", Stage: model.StageAnalysis, Status: model.OutputSucceeded},
		},
		ExportedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	var buf bytes.Buffer
	require.NoError(t, serializer.Encode(serializer.FormatAPI, doc, &buf))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "2026-01-02T03:04:05Z", decoded["exported_at"])

	analysis := decoded["analysis"].(map[string]interface{})
	assert.Equal(t, "completed", analysis["status"])
	assert.Len(t, decoded["outputs"], 1)
}

func TestEncodeUnknownFormat(t *testing.T) {
	err := serializer.Encode("pptx", &serializer.Document{}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "no serializer found")
}

func TestRegisterOverrides(t *testing.T) {
	serializer.Register("test-failing", &failingSerializer{})

	err := serializer.Encode("test-failing", &serializer.Document{}, &bytes.Buffer{})
	assert.EqualError(t, err, "boom")
}
