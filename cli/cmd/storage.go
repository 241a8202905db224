package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/cairnstack/cairn/adapter"
	adapterredis "github.com/cairnstack/cairn/adapter/redis"
	adapterwebhook "github.com/cairnstack/cairn/adapter/webhook"
	"github.com/cairnstack/cairn/cli/config"
	"github.com/cairnstack/cairn/store"
)

// storageChoice holds the merged storage settings from config file and
// CLI flags. Flags win.
type storageChoice struct {
	backend   string
	bucket    string
	prefix    string
	region    string
	endpoint  string
	pathStyle bool
}

// storageFlags returns the flags shared by commands that open the store.
func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "backend",
			Usage: "Storage backend: s3 or memory",
		},
		&cli.StringFlag{
			Name:  "bucket",
			Usage: "S3 bucket name",
		},
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "Key prefix within the bucket",
		},
		&cli.StringFlag{
			Name:  "region",
			Usage: "AWS region (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "S3-compatible endpoint URL (optional)",
		},
		&cli.BoolFlag{
			Name:  "s3-path-style",
			Usage: "Use path-style S3 addressing",
		},
	}
}

// resolveStorage merges file config and flags into a storage choice.
func resolveStorage(c *cli.Context, cfg *config.Config) storageChoice {
	choice := storageChoice{}
	if cfg != nil {
		choice.backend = cfg.Storage.Backend
		choice.bucket = cfg.Storage.Bucket
		choice.prefix = cfg.Storage.Prefix
		choice.region = cfg.Storage.Region
		choice.endpoint = cfg.Storage.Endpoint
		choice.pathStyle = cfg.Storage.S3PathStyle
	}
	if v := c.String("backend"); v != "" {
		choice.backend = v
	}
	if v := c.String("bucket"); v != "" {
		choice.bucket = v
	}
	if v := c.String("prefix"); v != "" {
		choice.prefix = v
	}
	if v := c.String("region"); v != "" {
		choice.region = v
	}
	if v := c.String("endpoint"); v != "" {
		choice.endpoint = v
	}
	if c.IsSet("s3-path-style") {
		choice.pathStyle = c.Bool("s3-path-style")
	}
	return choice
}

// buildStore opens the content store for a storage choice. The memory
// backend doubles as the blob store for the journal, as does S3.
func buildStore(ctx context.Context, choice storageChoice) (store.ContentStore, store.BlobStore, error) {
	switch choice.backend {
	case "", "memory":
		mem := store.NewMemoryStore()
		return mem, mem, nil
	case "s3":
		st, err := store.NewS3Store(ctx, store.S3Config{
			Bucket:       choice.bucket,
			Prefix:       choice.prefix,
			Region:       choice.region,
			Endpoint:     choice.endpoint,
			UsePathStyle: choice.pathStyle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open s3 store: %w", err)
		}
		return st, st, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q (want s3 or memory)", choice.backend)
	}
}

// buildAdapters constructs the configured completion adapters.
func buildAdapters(cfgs []config.AdapterConfig) ([]adapter.Adapter, error) {
	if len(cfgs) == 0 {
		return nil, nil
	}
	adapters := make([]adapter.Adapter, 0, len(cfgs))
	for i, ac := range cfgs {
		switch ac.Type {
		case "redis":
			retries := adapterredis.DefaultRetries
			if ac.Retries != nil {
				retries = *ac.Retries
			}
			a, err := adapterredis.New(adapterredis.Config{
				URL:     ac.URL,
				Channel: ac.Channel,
				Timeout: ac.Timeout.Duration,
				Retries: retries,
			})
			if err != nil {
				return nil, fmt.Errorf("adapter %d: %w", i, err)
			}
			adapters = append(adapters, a)
		case "webhook":
			retries := adapterwebhook.DefaultRetries
			if ac.Retries != nil {
				retries = *ac.Retries
			}
			a, err := adapterwebhook.New(adapterwebhook.Config{
				URL:     ac.URL,
				Headers: ac.Headers,
				Timeout: ac.Timeout.Duration,
				Retries: retries,
			})
			if err != nil {
				return nil, fmt.Errorf("adapter %d: %w", i, err)
			}
			adapters = append(adapters, a)
		default:
			return nil, fmt.Errorf("adapter %d has unknown type %q", i, ac.Type)
		}
	}
	return adapters, nil
}

// loadConfig reads the --config file if one was given.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	return config.Load(path)
}
