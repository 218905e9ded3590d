// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package main

import (
	"github.com/spf13/pflag"

	"github.com/cask-io/cask/api"
	"github.com/cask-io/cask/blob"
	"github.com/cask-io/cask/objcore"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Address string
}

// MetaConfig holds the metadata store settings.
type MetaConfig struct {
	// Path is the bolt database file. Empty selects the in-memory store.
	Path string
}

// Config is the complete cask server configuration.
type Config struct {
	Server      ServerConfig
	Meta        MetaConfig
	Layer       objcore.Config
	Replication api.Config
	S3          blob.S3Config
}

// Bind registers the configuration flags.
func (config *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&config.Server.Address, "address", "127.0.0.1:7777", "address to listen on")
	flags.StringVar(&config.Meta.Path, "meta.path", "", "metadata database file; empty keeps metadata in memory")
	flags.StringVar(&config.Layer.Site, "site", "cask0", "site identifier baked into version ids")
	flags.StringVar(&config.Layer.DefaultLocation, "default-location", "mem", "data backend used when a bucket names none")
	flags.StringVar(&config.Replication.AuthKey, "replication.auth-key", "", "shared key for the replication control plane")
	flags.StringVar(&config.S3.Name, "s3.name", "", "name of the external S3 data backend; empty disables it")
	flags.StringVar(&config.S3.Endpoint, "s3.endpoint", "", "endpoint of the external S3 data backend")
	flags.StringVar(&config.S3.Bucket, "s3.bucket", "", "remote bucket backing the external S3 data backend")
	flags.StringVar(&config.S3.AccessKey, "s3.access-key", "", "access key for the external S3 data backend")
	flags.StringVar(&config.S3.SecretKey, "s3.secret-key", "", "secret key for the external S3 data backend")
	flags.BoolVar(&config.S3.NoSSL, "s3.no-ssl", false, "disable TLS towards the external S3 data backend")
}
