package publish

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriveUploader stores videos in a Google Drive folder.
type DriveUploader struct {
	svc      *drive.Service
	folderID string
}

var _ Uploader = (*DriveUploader)(nil)

// NewDriveService creates a Drive client with full Drive scope, which the
// fetcher also uses to download form uploads.
func NewDriveService(ctx context.Context, opts ...option.ClientOption) (*drive.Service, error) {
	opts = append([]option.ClientOption{option.WithScopes(drive.DriveScope)}, opts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return svc, nil
}

// NewDriveUploader uploads into folderID.
func NewDriveUploader(svc *drive.Service, folderID string) *DriveUploader {
	return &DriveUploader{svc: svc, folderID: folderID}
}

func (d *DriveUploader) Upload(ctx context.Context, localPath, name, mimeType string) (string, string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", "", fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	meta := &drive.File{Name: name, MimeType: mimeType}
	if d.folderID != "" {
		meta.Parents = []string{d.folderID}
	}
	created, err := d.svc.Files.Create(meta).
		Media(f, googleapi.ContentType(mimeType)).
		SupportsAllDrives(true).
		Fields("id", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return "", "", fmt.Errorf("drive create %s: %w", name, err)
	}
	return created.Id, created.WebViewLink, nil
}

func (d *DriveUploader) GrantPublicRead(ctx context.Context, objectID string) error {
	_, err := d.svc.Permissions.Create(objectID, &drive.Permission{
		Role: "reader",
		Type: "anyone",
	}).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive permission %s: %w", objectID, err)
	}
	return nil
}
