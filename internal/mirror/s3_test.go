package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"svld/internal/config"
	"svld/internal/fs"
	"svld/internal/svld"
)

// fakeS3 is an in-memory bucket. ListObjectsV2 pages by pageSize keys.
type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string][]byte
	pageSize  int
	putErr    error
	deleteErr error
	deletes   int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageSize: 1000}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	keys := f.keys(aws.ToString(in.Prefix))
	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		fmt.Sscan(tok, &start)
	}
	end := min(start+f.pageSize, len(keys))

	out := &s3.ListObjectsV2Output{}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(fmt.Sprint(end))
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) keys(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func writeSnapshot(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, data := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "empty"), 0755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestMirror(client Client, prefix string) *S3Mirror {
	return NewS3Mirror(client, "saves", prefix, fs.NewWalker(2, nil), svld.NewNopLogger())
}

func TestS3Mirror_PutSnapshot(t *testing.T) {
	client := newFakeS3()
	m := newTestMirror(client, "/pc1/")
	dir := writeSnapshot(t, map[string]string{
		"persistent/player.dat": "hp=3",
		"world/level.dat":       "seed=42",
		"stats.json":            "{}",
	})

	if err := m.PutSnapshot(context.Background(), "backup_abc", dir); err != nil {
		t.Fatalf("PutSnapshot() error = %v", err)
	}

	want := []string{
		"pc1/backup_abc/persistent/player.dat",
		"pc1/backup_abc/stats.json",
		"pc1/backup_abc/world/level.dat",
	}
	if got := client.keys(""); !slices.Equal(got, want) {
		t.Errorf("keys = %v, want %v", got, want)
	}
	if got := string(client.objects["pc1/backup_abc/world/level.dat"]); got != "seed=42" {
		t.Errorf("level.dat = %q, want %q", got, "seed=42")
	}
}

func TestS3Mirror_PutSnapshot_UploadFails(t *testing.T) {
	client := newFakeS3()
	client.putErr = errors.New("access denied")
	m := newTestMirror(client, "")
	dir := writeSnapshot(t, map[string]string{"a": "a"})

	err := m.PutSnapshot(context.Background(), "backup_abc", dir)
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("PutSnapshot() error = %v, want access denied", err)
	}
}

func TestS3Mirror_PutFile(t *testing.T) {
	client := newFakeS3()
	m := newTestMirror(client, "pc1")
	local := filepath.Join(t.TempDir(), "catalog.db")
	if err := os.WriteFile(local, []byte("sqlite"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := m.PutFile(context.Background(), "catalog/host.db", local); err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}
	if got := string(client.objects["pc1/catalog/host.db"]); got != "sqlite" {
		t.Errorf("object = %q, want %q", got, "sqlite")
	}

	if err := m.PutFile(context.Background(), "x", filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("PutFile() expected error for missing local file")
	}
}

func TestS3Mirror_DeleteSnapshot(t *testing.T) {
	t.Run("removes only the named snapshot", func(t *testing.T) {
		client := newFakeS3()
		client.pageSize = 2
		for _, k := range []string{
			"pc1/backup_abc/a", "pc1/backup_abc/b", "pc1/backup_abc/c/d",
			"pc1/backup_abcd/a", "pc1/backup_xyz/a",
		} {
			client.objects[k] = []byte("x")
		}
		m := newTestMirror(client, "pc1")

		if err := m.DeleteSnapshot(context.Background(), "backup_abc"); err != nil {
			t.Fatalf("DeleteSnapshot() error = %v", err)
		}
		want := []string{"pc1/backup_abcd/a", "pc1/backup_xyz/a"}
		if got := client.keys(""); !slices.Equal(got, want) {
			t.Errorf("remaining keys = %v, want %v", got, want)
		}
	})

	t.Run("batches large snapshots", func(t *testing.T) {
		client := newFakeS3()
		for i := range deleteBatchSize + 5 {
			client.objects[fmt.Sprintf("backup_big/f%04d", i)] = nil
		}
		m := newTestMirror(client, "")

		if err := m.DeleteSnapshot(context.Background(), "backup_big"); err != nil {
			t.Fatalf("DeleteSnapshot() error = %v", err)
		}
		if n := len(client.keys("")); n != 0 {
			t.Errorf("%d objects remain", n)
		}
		if client.deletes != 2 {
			t.Errorf("DeleteObjects calls = %d, want 2", client.deletes)
		}
	})

	t.Run("missing snapshot is not an error", func(t *testing.T) {
		client := newFakeS3()
		m := newTestMirror(client, "")
		if err := m.DeleteSnapshot(context.Background(), "backup_none"); err != nil {
			t.Errorf("DeleteSnapshot() error = %v", err)
		}
		if client.deletes != 0 {
			t.Errorf("DeleteObjects calls = %d, want 0", client.deletes)
		}
	})

	t.Run("delete failure", func(t *testing.T) {
		client := newFakeS3()
		client.objects["backup_abc/a"] = nil
		client.deleteErr = errors.New("throttled")
		m := newTestMirror(client, "")
		if err := m.DeleteSnapshot(context.Background(), "backup_abc"); err == nil {
			t.Error("DeleteSnapshot() expected error")
		}
	})
}

func TestNewMirrorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.MirrorConfig
		wantNil bool
		wantErr bool
	}{
		{name: "empty type disables", cfg: config.MirrorConfig{}, wantNil: true},
		{name: "none disables", cfg: config.MirrorConfig{Type: "none"}, wantNil: true},
		{name: "s3 without bucket", cfg: config.MirrorConfig{Type: "s3"}, wantNil: true, wantErr: true},
		{name: "unknown type", cfg: config.MirrorConfig{Type: "ftp"}, wantNil: true, wantErr: true},
		{
			name: "s3 with static credentials",
			cfg: config.MirrorConfig{
				Type:            "s3",
				S3Bucket:        "saves",
				S3Region:        "us-east-1",
				S3Endpoint:      "http://localhost:9000",
				AccessKeyID:     "key",
				SecretAccessKey: "secret",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewMirrorFromConfig(context.Background(), tt.cfg, fs.NewWalker(1, nil), nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMirrorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (got == nil) != tt.wantNil {
				t.Fatalf("NewMirrorFromConfig() = %v, wantNil %v", got, tt.wantNil)
			}
			if got != nil && got.Bucket() != tt.cfg.S3Bucket {
				t.Errorf("Bucket() = %q, want %q", got.Bucket(), tt.cfg.S3Bucket)
			}
		})
	}
}
