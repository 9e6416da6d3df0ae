package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"google.golang.org/api/option"

	"github.com/fpang/guest-avatar/internal/metrics"
)

func init() {
	metrics.SetOutput(io.Discard)
}

type fakeUploader struct {
	uploads   int
	grants    int
	uploadErr error
	grantErr  error
	gotMime   string
}

func (f *fakeUploader) Upload(ctx context.Context, localPath, name, mimeType string) (string, string, error) {
	f.uploads++
	f.gotMime = mimeType
	if f.uploadErr != nil {
		return "", "", f.uploadErr
	}
	return "obj-1", "https://cdn.example/obj-1", nil
}

func (f *fakeUploader) GrantPublicRead(ctx context.Context, objectID string) error {
	f.grants++
	return f.grantErr
}

func TestPublish(t *testing.T) {
	tests := []struct {
		name          string
		destination   string
		uploader      *fakeUploader
		wantPublic    bool
		wantAttempted bool
		wantLocation  string
		wantUploads   int
		wantGrants    int
	}{
		{
			name:          "public",
			destination:   "folder-1",
			uploader:      &fakeUploader{},
			wantPublic:    true,
			wantAttempted: true,
			wantLocation:  "https://cdn.example/obj-1",
			wantUploads:   1,
			wantGrants:    1,
		},
		{
			name:         "destination unset never uploads",
			uploader:     &fakeUploader{},
			wantLocation: "/work/video.mp4",
		},
		{
			name:          "upload failure degrades",
			destination:   "folder-1",
			uploader:      &fakeUploader{uploadErr: errors.New("quota")},
			wantAttempted: true,
			wantLocation:  "/work/video.mp4",
			wantUploads:   1,
		},
		{
			name:          "grant failure degrades",
			destination:   "folder-1",
			uploader:      &fakeUploader{grantErr: errors.New("forbidden")},
			wantAttempted: true,
			wantLocation:  "/work/video.mp4",
			wantUploads:   1,
			wantGrants:    1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.uploader, tt.destination)
			art := p.Publish(context.Background(), "/work/video.mp4", "王小明.mp4")

			if art.Public != tt.wantPublic || art.Attempted != tt.wantAttempted {
				t.Errorf("public=%v attempted=%v, want %v/%v", art.Public, art.Attempted, tt.wantPublic, tt.wantAttempted)
			}
			if art.Location() != tt.wantLocation {
				t.Errorf("location = %q, want %q", art.Location(), tt.wantLocation)
			}
			if tt.uploader.uploads != tt.wantUploads || tt.uploader.grants != tt.wantGrants {
				t.Errorf("uploads=%d grants=%d, want %d/%d", tt.uploader.uploads, tt.uploader.grants, tt.wantUploads, tt.wantGrants)
			}
			if art.Degraded() != (tt.wantAttempted && !tt.wantPublic) {
				t.Errorf("Degraded() = %v", art.Degraded())
			}
			if art.Degraded() && art.Err == nil {
				t.Error("degraded artifact should carry its cause")
			}
		})
	}
}

func TestPublishPassesMimeType(t *testing.T) {
	u := &fakeUploader{}
	New(u, "x").Publish(context.Background(), "/work/video.mp4", "v.mp4")
	if u.gotMime != "video/mp4" {
		t.Errorf("mime = %q", u.gotMime)
	}
}

type fakeS3 struct {
	put    *s3.PutObjectInput
	acl    *s3.PutObjectAclInput
	putErr error
	body   string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	if in.Body != nil {
		b, _ := io.ReadAll(in.Body)
		f.body = string(b)
	}
	return &s3.PutObjectOutput{}, f.putErr
}

func (f *fakeS3) PutObjectAcl(ctx context.Context, in *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error) {
	f.acl = in
	return &s3.PutObjectAclOutput{}, nil
}

func writeVideo(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "video_tok.mp4")
	if err := os.WriteFile(p, []byte("mp4-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestS3Uploader(t *testing.T) {
	fake := &fakeS3{}
	u := NewS3Uploader(fake, "wedding-videos", "us-west-2", "/videos/")
	path := writeVideo(t)

	key, link, err := u.Upload(context.Background(), path, "王 小明.mp4", "video/mp4")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if key != "videos/王 小明.mp4" {
		t.Errorf("key = %q", key)
	}
	if *fake.put.ContentType != "video/mp4" || *fake.put.Bucket != "wedding-videos" || fake.body != "mp4-bytes" {
		t.Errorf("unexpected PutObject input: %+v body=%q", fake.put, fake.body)
	}
	if fake.put.Tagging == nil || *fake.put.Tagging != "Project=guest-avatar" {
		t.Errorf("Tagging = %v", fake.put.Tagging)
	}
	if !strings.HasPrefix(link, "https://wedding-videos.s3.us-west-2.amazonaws.com/videos/") || strings.Contains(link, " ") {
		t.Errorf("link = %q", link)
	}

	if err := u.GrantPublicRead(context.Background(), key); err != nil {
		t.Fatalf("GrantPublicRead: %v", err)
	}
	if fake.acl.ACL != types.ObjectCannedACLPublicRead || *fake.acl.Key != key {
		t.Errorf("unexpected ACL input: %+v", fake.acl)
	}
}

func TestS3UploaderMissingFile(t *testing.T) {
	u := NewS3Uploader(&fakeS3{}, "b", "r", "")
	if _, _, err := u.Upload(context.Background(), "/nonexistent/video.mp4", "v.mp4", "video/mp4"); err == nil {
		t.Error("expected error for missing file")
	}
}

// fakeDrive answers file creation and permission creation.
type fakeDrive struct {
	mu          sync.Mutex
	created     int
	permissions []map[string]string
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/permissions"):
		var perm map[string]string
		json.NewDecoder(r.Body).Decode(&perm)
		f.permissions = append(f.permissions, perm)
		json.NewEncoder(w).Encode(map[string]string{"id": "perm-1", "role": perm["role"], "type": perm["type"]})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/files"):
		io.Copy(io.Discard, r.Body)
		f.created++
		json.NewEncoder(w).Encode(map[string]string{
			"id":          "file-1",
			"webViewLink": "https://drive.google.com/file/d/file-1/view",
		})
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotFound)
	}
}

func TestDriveUploader(t *testing.T) {
	fake := &fakeDrive{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	svc, err := NewDriveService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("NewDriveService: %v", err)
	}
	p := New(NewDriveUploader(svc, "folder-1"), "folder-1")

	art := p.Publish(context.Background(), writeVideo(t), "guest.mp4")
	if !art.Public {
		t.Fatalf("artifact not public: %+v", art)
	}
	if art.URL != "https://drive.google.com/file/d/file-1/view" || art.ObjectID != "file-1" {
		t.Errorf("artifact = %+v", art)
	}
	if fake.created != 1 || len(fake.permissions) != 1 {
		t.Fatalf("created=%d permissions=%d", fake.created, len(fake.permissions))
	}
	if fake.permissions[0]["role"] != "reader" || fake.permissions[0]["type"] != "anyone" {
		t.Errorf("permission = %v", fake.permissions[0])
	}
}
