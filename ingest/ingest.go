package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-elytra/elytra/client"
	"github.com/go-elytra/elytra/logging"
)

// Ingestor runs the full conversion path: convert an upload to parquet,
// publish it to object storage, register the dataset with the control
// plane.
type Ingestor struct {
	publisher *Publisher
	api       *client.Client
	opts      ConvertOptions
	log       *slog.Logger
}

// NewIngestor wires an Ingestor to a storage publisher and the control
// plane API
func NewIngestor(publisher *Publisher, api *client.Client, opts ConvertOptions) *Ingestor {
	return &Ingestor{
		publisher: publisher,
		api:       api,
		opts:      opts,
		log:       logging.Component("ingest"),
	}
}

// IngestFile converts, publishes and registers one upload. name defaults
// to the upload's base name.
func (ing *Ingestor) IngestFile(ctx context.Context, path, name string) (*client.RegisterDatasetResponse, error) {
	if name == "" {
		name = filepath.Base(path)
	}
	artifact, err := ConvertFile(path, ing.opts)
	if err != nil {
		return nil, err
	}
	defer os.Remove(artifact.Path)
	ing.log.Info("converted upload", "upload", path, "rows", artifact.Rows, "row_groups", len(artifact.RowGroups))

	published, err := ing.publisher.Publish(ctx, artifact.Path, path)
	if err != nil {
		return nil, err
	}
	ing.log.Info("published artifact", "key", published.StorageKey, "bytes", published.Bytes)

	resp, err := ing.api.RegisterDataset(ctx, client.RegisterDatasetRequest{
		Name:       name,
		StorageKey: published.StorageKey,
		Bucket:     published.Bucket,
		PublicURL:  published.PublicURL,
		Format:     "parquet",
		RowGroups:  artifact.RowGroups,
	})
	if err != nil {
		return nil, err
	}
	ing.log.Info("registered dataset", "dataset_id", resp.DatasetID)
	return resp, nil
}
