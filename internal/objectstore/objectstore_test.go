package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestJoinKey(t *testing.T) {
	cases := []struct{ prefix, key, want string }{
		{"", "requirements/r1/extracted.txt", "requirements/r1/extracted.txt"},
		{"tenant-a/", "/requirements/r1/extracted.txt", "tenant-a/requirements/r1/extracted.txt"},
	}
	for _, tc := range cases {
		if got := JoinKey(tc.prefix, tc.key); got != tc.want {
			t.Fatalf("JoinKey(%q, %q) = %q, want %q", tc.prefix, tc.key, got, tc.want)
		}
	}
}

func TestMemoryRoundTripsJSON(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.UploadJSON(ctx, "a.json", map[string]int{"n": 2}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	var got map[string]int
	if err := m.DownloadJSON(ctx, "a.json", &got); err != nil || got["n"] != 2 {
		t.Fatalf("download: %v %v", got, err)
	}
	if m.ContentType("a.json") != ContentTypeJSON {
		t.Fatalf("unexpected content type %q", m.ContentType("a.json"))
	}
	if _, err := m.Download(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type fakeS3 struct {
	objects map[string][]byte
	puts    []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = body
	f.puts = append(f.puts, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestS3AppliesPrefixAndMapsMissingKeys(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	store := NewS3WithClient(fake, "docs", "sherpa")

	if err := store.Upload(ctx, "requirements/r1/extracted.txt", []byte("hello"), "text/plain"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(fake.puts) != 1 || fake.puts[0] != "docs/sherpa/requirements/r1/extracted.txt" {
		t.Fatalf("unexpected puts %v", fake.puts)
	}
	body, err := store.Download(ctx, "requirements/r1/extracted.txt")
	if err != nil || string(body) != "hello" {
		t.Fatalf("download: %q %v", body, err)
	}
	if _, err := store.Download(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
