package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestFS_PutOpenDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	key, err := s.Put(ctx, "report.pdf", "application/pdf", strings.NewReader("pdf-bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasSuffix(key, "/report.pdf") {
		t.Errorf("key %q should end with the file name", key)
	}

	data, err := ReadAll(ctx, s, key)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "pdf-bytes" {
		t.Errorf("content: got %q", data)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Open(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open after delete: got %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}
}

func TestFS_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	for _, key := range []string{"../etc/passwd", "/etc/passwd", ""} {
		if _, err := s.Open(context.Background(), key); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("Open(%q): expected an invalid key error, got %v", key, err)
		}
	}
}

func TestNewKey_StripsDirectories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filename string
		suffix   string
	}{
		{"a.txt", "/a.txt"},
		{"../../a.txt", "/a.txt"},
		{`C:\Users\me\b.doc`, "/b.doc"},
		{"", "/file"},
	}
	for _, tt := range tests {
		key := newKey("attachments", tt.filename)
		if !strings.HasPrefix(key, "attachments/") || !strings.HasSuffix(key, tt.suffix) {
			t.Errorf("newKey(%q) = %q", tt.filename, key)
		}
	}
}

// mockS3Client implements S3API for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *mockS3Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Key)] = data
	m.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3_PutOpenDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := newMockS3Client()
	s := NewS3WithClient(client, "bucket", "")

	key, err := s.Put(ctx, "notes.txt", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(key, "attachments/") {
		t.Errorf("key %q should use the default prefix", key)
	}
	if client.types[key] != "text/plain" {
		t.Errorf("content type: got %q", client.types[key])
	}

	data, err := ReadAll(ctx, s, key)
	if err != nil || string(data) != "hello" {
		t.Fatalf("ReadAll: %q, %v", data, err)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Open(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open after delete: got %v, want ErrNotFound", err)
	}
}
