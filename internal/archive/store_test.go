package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/store"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte // key -> body
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{
		bucket: *input.Bucket,
		key:    *input.Key,
		body:   body,
	})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &notFoundError{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "NoSuchKey: key not found" }

func TestStoreArchiveAttempt(t *testing.T) {
	mock := newMockS3()
	archive := NewStore(mock, "test-bucket", nil)

	now := time.Date(2026, 8, 12, 15, 0, 0, 0, time.UTC)
	record := &AttemptRecord{
		ConversationID: "chat-1",
		TraceID:        "trace-123",
		SuggestionID:   "sugg-123",
		AttemptNo:      1,
		Phase:          "initial",
		Accepted:       true,
		RawOutput:      `{"schema": "scambait.llm.v1"}`,
		Suggestion:     "Which exchange are you using?",
		ArchivedAt:     now,
	}

	err := archive.ArchiveAttempt(context.Background(), record)
	require.NoError(t, err)

	// Conversation object + manifest line.
	assert.Len(t, mock.putCalls, 2)
	assert.Contains(t, mock.putCalls[0].key, "attempts/v1/by-date/2026/08/12/trace-123-1.json")

	var decoded AttemptRecord
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &decoded))
	assert.Equal(t, "trace-123", decoded.TraceID)
	assert.Equal(t, "1.0", decoded.Version)

	assert.Contains(t, mock.putCalls[1].key, "attempts/v1/manifests/")
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry))
	assert.Equal(t, "trace-123", entry.TraceID)
	assert.True(t, entry.Accepted)
}

func TestStoreDisabled(t *testing.T) {
	archive := NewStore(nil, "", nil)
	assert.False(t, archive.Enabled())

	err := archive.ArchiveAttempt(context.Background(), &AttemptRecord{})
	assert.NoError(t, err) // no-op, no error
}

func TestStoreManifestAppend(t *testing.T) {
	mock := newMockS3()
	archive := NewStore(mock, "test-bucket", nil)

	entry1 := ManifestEntry{TraceID: "trace-1", Accepted: true}
	entry2 := ManifestEntry{TraceID: "trace-2", RejectReason: "parse_failed"}

	require.NoError(t, archive.AppendManifest(context.Background(), entry1))
	require.NoError(t, archive.AppendManifest(context.Background(), entry2))

	// The second append should contain both entries
	lastPut := mock.putCalls[len(mock.putCalls)-1]
	lines := bytes.Split(bytes.TrimSpace(lastPut.body), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestTeeArchivesSavedAttempts(t *testing.T) {
	mock := newMockS3()
	archive := NewStore(mock, "test-bucket", nil)
	inner := store.NewMemoryStore(nil)
	teed := Tee(inner, archive, nil)

	_, err := teed.SaveAttempt(context.Background(), core.GenerationAttempt{
		ConversationID: "chat-1",
		AttemptNo:      1,
		Phase:          core.PhaseInitial,
		Accepted:       true,
		TraceID:        "trace-9",
		RawExcerpt:     `{"schema": "scambait.llm.v1"}`,
	})
	require.NoError(t, err)

	// Durable row first.
	attempts, err := inner.ListAttempts(context.Background(), "chat-1", 10)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)

	// Then the S3 object keyed by trace id.
	require.NotEmpty(t, mock.putCalls)
	assert.Contains(t, mock.putCalls[0].key, "trace-9-1.json")
}

func TestTeeFallsBackToInnerWhenDisabled(t *testing.T) {
	inner := store.NewMemoryStore(nil)
	teed := Tee(inner, NewStore(nil, "", nil), nil)
	assert.Equal(t, inner, teed)
}

func TestTeeKeysRejectedAttemptsByRow(t *testing.T) {
	mock := newMockS3()
	archive := NewStore(mock, "test-bucket", nil)
	teed := Tee(store.NewMemoryStore(nil), archive, nil)

	// Rejected attempts have no minted trace id.
	_, err := teed.SaveAttempt(context.Background(), core.GenerationAttempt{
		ConversationID: "chat-1",
		AttemptNo:      1,
		Phase:          core.PhaseInitial,
		RejectReason:   "parse_failed",
	})
	require.NoError(t, err)
	require.NotEmpty(t, mock.putCalls)
	assert.Contains(t, mock.putCalls[0].key, "attempt-chat-1-")
}
