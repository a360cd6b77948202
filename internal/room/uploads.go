package room

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
)

type rawUpload struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ByteSize    int64  `json:"byte_size"`
	ContentType string `json:"content_type"`
	FullURL     string `json:"full_url"`
	RoomID      int64  `json:"room_id"`
	UserID      int64  `json:"user_id"`
	CreatedAt   string `json:"created_at"`
}

func (u rawUpload) toUpload() (Upload, error) {
	upload := Upload{
		ID:          u.ID,
		Name:        u.Name,
		ByteSize:    u.ByteSize,
		ContentType: u.ContentType,
		FullURL:     u.FullURL,
		RoomID:      u.RoomID,
		UserID:      u.UserID,
	}
	if u.CreatedAt == "" {
		return upload, nil
	}
	createdAt, err := parseTimestamp(u.CreatedAt)
	if err != nil {
		return Upload{}, err
	}
	upload.CreatedAt = createdAt
	return upload, nil
}

// Upload attaches a file to the room. An empty contentType is guessed from
// the file extension.
func (r *Room) Upload(ctx context.Context, filename, contentType string, content io.Reader) (*Upload, error) {
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}
	var response struct {
		Upload rawUpload `json:"upload"`
	}
	path := r.path("uploads", "json")
	if err := r.session.PostMultipart(ctx, path, "upload", filepath.Base(filename), contentType, content, &response); err != nil {
		return nil, fmt.Errorf("room %d upload: %w", r.id, err)
	}
	upload, err := response.Upload.toUpload()
	if err != nil {
		return nil, fmt.Errorf("room %d upload: %w", r.id, err)
	}
	return &upload, nil
}

// Uploads lists the most recent files attached to the room.
func (r *Room) Uploads(ctx context.Context) ([]Upload, error) {
	var response struct {
		Uploads []rawUpload `json:"uploads"`
	}
	if err := r.session.Get(ctx, r.path("uploads", "json"), &response); err != nil {
		return nil, fmt.Errorf("room %d uploads: %w", r.id, err)
	}
	uploads := make([]Upload, 0, len(response.Uploads))
	for _, raw := range response.Uploads {
		upload, err := raw.toUpload()
		if err != nil {
			return nil, fmt.Errorf("room %d uploads: %w", r.id, err)
		}
		uploads = append(uploads, upload)
	}
	return uploads, nil
}

// Files returns the download URLs of the room's recent uploads.
func (r *Room) Files(ctx context.Context) ([]string, error) {
	uploads, err := r.Uploads(ctx)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(uploads))
	for _, upload := range uploads {
		urls = append(urls, upload.FullURL)
	}
	return urls, nil
}
