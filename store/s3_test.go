package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// fakeS3 is an in-memory s3API for exercising key mapping and pagination
// without a network.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte

	pageSize int
	putErr   error
	listErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, pageSize: 2}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = body
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	body, ok := f.objects[aws.ToString(in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "no such key"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	f.mu.Unlock()
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k > *in.ContinuationToken {
				start = i
				break
			}
			start = i + 1
		}
	}
	end := min(start+f.pageSize, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestS3Store_KeyMapping(t *testing.T) {
	fake := newFakeS3()
	s := NewS3StoreWithClient(fake, S3Config{Bucket: "content", Prefix: "meta"})
	ctx := context.Background()

	if err := s.Put(ctx, "docs/a", map[string]any{"title": "a"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, ok := fake.objects["meta/docs/a.json"]; !ok {
		t.Fatalf("expected object key meta/docs/a.json, have %v", fake.objects)
	}

	if got := s.contentID("meta/docs/a.json"); got != "docs/a" {
		t.Errorf("contentID round-trip: got %q", got)
	}
	if got := s.contentID("meta/docs/.cairn/journal"); got != "" {
		t.Errorf("non-envelope key should map to empty ID, got %q", got)
	}
	if got := s.contentID("other/docs/a.json"); got != "" {
		t.Errorf("foreign prefix should map to empty ID, got %q", got)
	}
}

func TestS3Store_ListPagination(t *testing.T) {
	fake := newFakeS3()
	s := NewS3StoreWithClient(fake, S3Config{Bucket: "content"})
	ctx := context.Background()

	for _, id := range []string{"docs/a", "docs/b", "docs/c", "docs/d", "docs/e", "img/z"} {
		if err := s.Put(ctx, id, map[string]any{}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	// A journal blob under the listed base must not surface as an ID.
	if err := s.PutBlob(ctx, "docs/.cairn/journal", []byte{0x90}); err != nil {
		t.Fatalf("put blob: %v", err)
	}

	pager := s.List(ctx, "docs/")
	var ids []string
	pages := 0
	for {
		page, err := pager.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if len(page) == 0 {
			break
		}
		pages++
		ids = append(ids, page...)
	}

	sort.Strings(ids)
	want := []string{"docs/a", "docs/b", "docs/c", "docs/d", "docs/e"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
	if pages < 3 {
		t.Errorf("expected multi-page listing with page size 2, got %d pages", pages)
	}
}

func TestS3Store_Delete(t *testing.T) {
	fake := newFakeS3()
	s := NewS3StoreWithClient(fake, S3Config{Bucket: "content"})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, id, map[string]any{}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := s.Delete(ctx, []string{"a", "c"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(fake.objects) != 1 {
		t.Errorf("expected 1 object left, got %d", len(fake.objects))
	}
	if _, ok := fake.objects["b.json"]; !ok {
		t.Error("b.json should survive")
	}
}

func TestS3Store_ErrorClassification(t *testing.T) {
	fake := newFakeS3()
	s := NewS3StoreWithClient(fake, S3Config{Bucket: "content"})
	ctx := context.Background()

	fake.putErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	err := s.Put(ctx, "x", map[string]any{})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}

	fake.listErr = &smithy.GenericAPIError{Code: "SlowDown", Message: "slow down"}
	_, err = s.List(ctx, "").Next(ctx)
	if !errors.Is(err, ErrThrottled) {
		t.Errorf("expected ErrThrottled, got %v", err)
	}

	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %T", err)
	}
	if storageErr.Op != "list" {
		t.Errorf("expected op list, got %s", storageErr.Op)
	}

	_, err = s.GetBlob(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
