// Package blob persists finalized scope documents and export artifacts.
package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// Store is a flat byte store keyed by blob path. Download returns nil bytes
// and a nil error when the blob does not exist.
type Store interface {
	Upload(ctx context.Context, path string, data []byte) error
	Download(ctx context.Context, path string) ([]byte, error)
}

// AzureStore stores blobs in an Azure Storage container under a
// projects/<id>/... path layout.
type AzureStore struct {
	client    *azblob.Client
	container string
}

// NewAzureStore connects to the given storage account using the default
// credential chain.
func NewAzureStore(accountURL, container string) (*AzureStore, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &AzureStore{client: client, container: container}, nil
}

// NewAzureStoreFromConnectionString connects with a storage connection string.
func NewAzureStoreFromConnectionString(connectionString, container string) (*AzureStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &AzureStore{client: client, container: container}, nil
}

// Upload writes data to path, overwriting any existing blob.
func (s *AzureStore) Upload(ctx context.Context, path string, data []byte) error {
	if _, err := s.client.UploadBuffer(ctx, s.container, path, data, nil); err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", path, err)
	}
	return nil
}

// Download reads the blob at path; a missing blob is not an error.
func (s *AzureStore) Download(ctx context.Context, path string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, path, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to download blob %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", path, err)
	}
	return data, nil
}
