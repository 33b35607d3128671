package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
	putErr  error
}

type storedObject struct {
	body        string
	contentType string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string]storedObject)}
}

func (f *fakeObjectStore) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(params.Key)] = storedObject{
		body:        string(body),
		contentType: aws.ToString(params.ContentType),
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectStore) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(params.Prefix)
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	contents := make([]types.Object, 0, len(keys))
	for _, key := range keys {
		contents = append(contents, types.Object{Key: aws.String(key)})
	}
	return &s3.ListObjectsV2Output{Contents: contents, IsTruncated: aws.Bool(false)}, nil
}

func (f *fakeObjectStore) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, object := range params.Delete.Objects {
		delete(f.objects, aws.ToString(object.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeObjectStore) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestUploadDirPreservesPathsAndTypes(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"index.html":     "<html></html>",
		"assets/app.js":  "console.log(1)",
		"assets/app.css": "body{}",
		"data.bin":       "\x00\x01",
	})
	store := newFakeObjectStore()
	pub := NewWithClient(store, "pier-sites", 4)

	count, err := pub.UploadDir(context.Background(), dir, "projects/myapp")
	if err != nil {
		t.Fatalf("UploadDir: %v", err)
	}
	if count != 4 {
		t.Fatalf("uploaded %d files, want 4", count)
	}

	wantKeys := []string{
		"projects/myapp/assets/app.css",
		"projects/myapp/assets/app.js",
		"projects/myapp/data.bin",
		"projects/myapp/index.html",
	}
	got := store.keys()
	if len(got) != len(wantKeys) {
		t.Fatalf("keys = %v, want %v", got, wantKeys)
	}
	for i := range wantKeys {
		if got[i] != wantKeys[i] {
			t.Errorf("key %d = %q, want %q", i, got[i], wantKeys[i])
		}
	}

	store.mu.Lock()
	html := store.objects["projects/myapp/index.html"]
	bin := store.objects["projects/myapp/data.bin"]
	store.mu.Unlock()
	if !strings.HasPrefix(html.contentType, "text/html") {
		t.Errorf("index.html content type = %q", html.contentType)
	}
	if bin.contentType != "application/octet-stream" {
		t.Errorf("data.bin content type = %q", bin.contentType)
	}
}

func TestUploadDirMissingDirectory(t *testing.T) {
	pub := NewWithClient(newFakeObjectStore(), "pier-sites", 1)
	_, err := pub.UploadDir(context.Background(), filepath.Join(t.TempDir(), "missing"), "projects/x")
	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %v", err)
	}
}

func TestUploadDirPropagatesPutFailure(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"index.html": "x"})
	store := newFakeObjectStore()
	store.putErr = errors.New("access denied")
	pub := NewWithClient(store, "pier-sites", 2)

	_, err := pub.UploadDir(context.Background(), dir, "projects/x")
	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %v", err)
	}
}

func TestDeleteAllRemovesPrefixAndIsIdempotent(t *testing.T) {
	store := newFakeObjectStore()
	store.objects["projects/myapp/index.html"] = storedObject{}
	store.objects["projects/myapp/assets/app.js"] = storedObject{}
	store.objects["projects/other/index.html"] = storedObject{}
	pub := NewWithClient(store, "pier-sites", 1)

	if err := pub.DeleteAll(context.Background(), "projects/myapp"); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	keys := store.keys()
	if len(keys) != 1 || keys[0] != "projects/other/index.html" {
		t.Fatalf("unexpected remaining keys: %v", keys)
	}
	// Deleting an empty prefix is a no-op.
	if err := pub.DeleteAll(context.Background(), "projects/myapp"); err != nil {
		t.Fatalf("repeat DeleteAll: %v", err)
	}
}
