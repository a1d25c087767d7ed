package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"repobatch/internal/blob/core"
)

func TestMockStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	if store.Driver() != core.DriverS3 {
		t.Fatalf("expected s3 driver")
	}
	info, err := store.Put(ctx, "contacts/1.json", bytes.NewReader([]byte(`{"id":1}`)), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "contacts/1.json" || info.Size != 8 || info.ETag != "mock-etag" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "contacts/1.json", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected exists error, got %v", err)
	}
	if _, err := store.Put(ctx, "contacts/1.json", bytes.NewReader([]byte(`{"id":2}`)), core.PutOptions{Overwrite: true}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	_, rc, err := store.Get(ctx, "contacts/1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"id":2}` {
		t.Fatalf("unexpected body %q", body)
	}
	if _, err := store.Put(ctx, "other/1.json", strings.NewReader("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, err := store.List(ctx, "contacts/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "contacts/1.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	ok, err := store.Delete(ctx, "contacts/1.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "contacts/1.json")
	if err != nil || ok {
		t.Fatalf("second delete should report false: %v %v", ok, err)
	}
}

func TestMockStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found from get, got %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("REPOBATCH_BLOB_S3_BUCKET", "")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	t.Setenv("REPOBATCH_BLOB_S3_BUCKET", "records")
	t.Setenv("REPOBATCH_BLOB_S3_REGION", "eu-west-1")
	t.Setenv("REPOBATCH_BLOB_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("REPOBATCH_BLOB_S3_PATH_STYLE", "TRUE")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Bucket != "records" || cfg.Region != "eu-west-1" || cfg.Endpoint != "http://minio:9000" || !cfg.PathStyle {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestNewWithStaticCredentials(t *testing.T) {
	store, err := New(context.Background(), Config{Bucket: "b", Endpoint: "http://localhost:9000", PathStyle: true, AccessKeyID: "id", SecretAccessKey: "secret"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if store.bucket != "b" {
		t.Fatalf("unexpected bucket %s", store.bucket)
	}
}

func TestDecodeChunked(t *testing.T) {
	if out, ok := decodeChunked([]byte("5\r\nhello\r\n0\r\n\r\n")); !ok || string(out) != "hello" {
		t.Fatalf("expected decoded body, got %q %v", out, ok)
	}
	if _, ok := decodeChunked([]byte("plain")); ok {
		t.Fatalf("plain payload must not decode")
	}
}
