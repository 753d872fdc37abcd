package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/mytube/apiserver/config"
	"github.com/mytube/apiserver/types"
)

// CloudinaryClient uploads media to Cloudinary. Public IDs it returns are
// prefixed with the resource type ("image:folder/abc") because Cloudinary
// needs the type to destroy an asset.
type CloudinaryClient struct {
	cld    *cloudinary.Cloudinary
	folder string
}

// NewCloudinaryClient constructs a Cloudinary client from config.
func NewCloudinaryClient(cfg config.CloudinaryConfig) (*CloudinaryClient, error) {
	if strings.TrimSpace(cfg.CloudName) == "" {
		return nil, errors.New("cloudinary cloud name is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, errors.New("cloudinary api key and secret are required")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, err
	}
	return &CloudinaryClient{cld: cld, folder: cfg.Folder}, nil
}

// Upload sends the file at localPath with automatic resource detection.
func (c *CloudinaryClient) Upload(ctx context.Context, localPath string) (types.MediaRef, error) {
	if strings.TrimSpace(localPath) == "" {
		return types.MediaRef{}, errors.New("local path is required")
	}

	resp, err := c.cld.Upload.Upload(ctx, localPath, uploader.UploadParams{
		ResourceType: "auto",
		Folder:       c.folder,
	})
	if err != nil {
		return types.MediaRef{}, fmt.Errorf("cloudinary upload: %w", err)
	}
	if resp.Error.Message != "" {
		return types.MediaRef{}, fmt.Errorf("cloudinary upload: %s", resp.Error.Message)
	}
	if resp.PublicID == "" || resp.SecureURL == "" {
		return types.MediaRef{}, errors.New("cloudinary upload: empty response")
	}

	return types.MediaRef{
		URL:          resp.SecureURL,
		PublicID:     joinPublicID(resp.ResourceType, resp.PublicID),
		ResourceType: resp.ResourceType,
	}, nil
}

// Delete destroys a previously uploaded asset.
func (c *CloudinaryClient) Delete(ctx context.Context, publicID string) error {
	resourceType, id := splitPublicID(publicID)
	if id == "" {
		return errors.New("public id is required")
	}

	resp, err := c.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     id,
		ResourceType: resourceType,
	})
	if err != nil {
		return fmt.Errorf("cloudinary destroy: %w", err)
	}
	if resp.Error.Message != "" {
		return fmt.Errorf("cloudinary destroy: %s", resp.Error.Message)
	}
	return nil
}

func joinPublicID(resourceType, id string) string {
	if resourceType == "" {
		resourceType = "image"
	}
	return resourceType + ":" + id
}

func splitPublicID(publicID string) (resourceType, id string) {
	resourceType, id, ok := strings.Cut(strings.TrimSpace(publicID), ":")
	if !ok {
		return "image", resourceType
	}
	return resourceType, id
}
