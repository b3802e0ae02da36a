package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func roundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Put(ctx, "dmsviz-jsons/a.json", strings.NewReader("{}"), PutOptions{ContentType: "application/json"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, "metadata/dmsviz_summary.csv", strings.NewReader("old"), PutOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, "metadata/dmsviz_summary.csv", strings.NewReader("new"), PutOptions{}); err != nil {
		t.Fatal(err)
	}

	_, rc, err := s.Get(ctx, "metadata/dmsviz_summary.csv")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "new" {
		t.Errorf("expected overwritten content new, got %s", data)
	}

	infos, err := s.List(ctx, "dmsviz-jsons/")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Key != "dmsviz-jsons/a.json" {
		t.Errorf("unexpected listing %+v", infos)
	}

	// keys are cleaned the same way on write and read
	if _, err := s.Put(ctx, "metadata//notes.txt", strings.NewReader("notes"), PutOptions{}); err != nil {
		t.Fatal(err)
	}
	_, rc, err = s.Get(ctx, "metadata//notes.txt")
	if err != nil {
		t.Fatalf("get with unclean key: %v", err)
	}
	data, _ = io.ReadAll(rc)
	rc.Close()
	if string(data) != "notes" {
		t.Errorf("expected notes, got %s", data)
	}

	if _, err := s.Put(ctx, "../escape", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Error("expected error for key escaping the root")
	}
}

func TestFilesystem(t *testing.T) {
	root := t.TempDir()
	s, err := NewFilesystem(root)
	if err != nil {
		t.Fatal(err)
	}
	roundTrip(t, s)

	if _, err := os.Stat(filepath.Join(root, "dmsviz-jsons", "a.json")); err != nil {
		t.Errorf("expected file on disk: %v", err)
	}
	if _, _, err := s.Get(context.Background(), "missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not exist, got %v", err)
	}
}

func TestMemory(t *testing.T) {
	s := NewMemory()
	roundTrip(t, s)
	if _, _, err := s.Get(context.Background(), "missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not exist, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "memory://", S3Config{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Driver() != DriverMemory {
		t.Errorf("expected memory driver, got %s", s.Driver())
	}

	dir := filepath.Join(t.TempDir(), "out")
	s, err = Open(ctx, dir, S3Config{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Driver() != DriverFilesystem {
		t.Errorf("expected fs driver, got %s", s.Driver())
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected output dir to be created: %v", err)
	}

	t.Setenv("AWS_ACCESS_KEY_ID", "")
	s, err = Open(ctx, "s3://bucket/some/prefix/", S3Config{Region: "eu-west-1", AccessKeyID: "id", SecretAccessKey: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	s3s, ok := s.(*S3)
	if !ok {
		t.Fatalf("expected *S3, got %T", s)
	}
	if s3s.bucket != "bucket" || s3s.prefix != "some/prefix" {
		t.Errorf("unexpected bucket %q prefix %q", s3s.bucket, s3s.prefix)
	}
	client, ok := s3s.client.(*s3.Client)
	if !ok {
		t.Fatalf("expected *s3.Client, got %T", s3s.client)
	}
	creds, err := client.Options().Credentials.Retrieve(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessKeyID != "id" || creds.SecretAccessKey != "secret" {
		t.Errorf("expected static credentials, got %q", creds.AccessKeyID)
	}

	if _, err := Open(ctx, "s3:///nobucket", S3Config{}); err == nil {
		t.Error("expected error for s3 target without bucket")
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.dmsviz.json": "application/json",
		"x/b.CSV":       "text/csv",
		"c.pdb":         "application/octet-stream",
	}
	for path, want := range tests {
		if got := ContentType(path); got != want {
			t.Errorf("%s: expected %s, got %s", path, want, got)
		}
	}
}

// fakeS3 keeps objects in memory and pages listings two keys at a time.
type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(f.types[aws.ToString(in.Key)]),
	}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	out := &s3.ListObjectsV2Output{}
	end := start + 2
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	return out, nil
}

func TestS3(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	s := newS3WithClient(fake, "bucket", "/runs/")
	roundTrip(t, s)

	if _, ok := fake.objects["runs/dmsviz-jsons/a.json"]; !ok {
		t.Errorf("expected prefixed object key, got %v", fake.objects)
	}

	ctx := context.Background()
	for _, k := range []string{"metadata/b", "metadata/c", "metadata/d"} {
		if _, err := s.Put(ctx, k, strings.NewReader(k), PutOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	infos, err := s.List(ctx, "metadata/")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 5 {
		t.Fatalf("expected 5 objects across pages, got %d", len(infos))
	}
	if infos[0].Key != "metadata/b" {
		t.Errorf("expected keys without prefix, got %s", infos[0].Key)
	}

	info, rc, err := s.Get(ctx, "dmsviz-jsons/a.json")
	if err != nil {
		t.Fatal(err)
	}
	rc.Close()
	if info.ContentType != "application/json" || info.Size != 2 {
		t.Errorf("unexpected info %+v", info)
	}
	if _, _, err := s.Get(ctx, "missing"); err == nil {
		t.Error("expected error for missing object")
	}
}
