// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package main

import (
	"net"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/cask-io/cask/api"
	"github.com/cask-io/cask/blob"
	"github.com/cask-io/cask/bucket"
	"github.com/cask-io/cask/internal/versionid"
	"github.com/cask-io/cask/meta"
	"github.com/cask-io/cask/objcore"
)

// Error is the default cask setup errs class.
var Error = errs.Class("cask setup")

var (
	// rootCmd represents the base cask command when called without any
	// subcommands.
	rootCmd = &cobra.Command{
		Use:   "cask",
		Short: "Versioning object-storage orchestration server",
		Args:  cobra.OnlyValidArgs,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the cask server",
		RunE:  cmdRun,
	}

	runCfg Config
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCfg.Bind(runCmd.Flags())
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	log, err := zap.NewProduction()
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = log.Sync() }()

	address := runCfg.Server.Address
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return Error.Wrap(err)
	}
	if host == "" {
		address = net.JoinHostPort("127.0.0.1", port)
	}

	backends := []blob.Backend{blob.NewMemory("mem")}
	if runCfg.S3.Name != "" {
		s3, err := blob.NewS3(runCfg.S3)
		if err != nil {
			return Error.Wrap(err)
		}
		backends = append(backends, s3)
	}
	blobService := blob.NewService(log.Named("blob"), backends...)

	var metaStore meta.Store
	if runCfg.Meta.Path != "" {
		boltStore, err := meta.OpenBolt(runCfg.Meta.Path, versionid.NewGenerator(runCfg.Layer.Site))
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { err = errs.Combine(err, boltStore.Close()) }()
		metaStore = boltStore
	} else {
		metaStore = meta.NewMemory(versionid.NewGenerator(runCfg.Layer.Site))
	}

	layer := objcore.Logging(
		objcore.NewLayer(log.Named("objcore"), metaStore, blobService, bucket.NewMemory(), runCfg.Layer),
		log.Named("objcore"))

	router := mux.NewRouter()
	replication := api.New(log.Named("api"), layer, metaStore, blobService, runCfg.Replication)
	replication.RegisterHandlers(router)

	log.Info("starting cask server",
		zap.String("address", address),
		zap.String("site", runCfg.Layer.Site),
		zap.String("minimum multipart part size", humanize.IBytes(5*humanize.MiByte)))

	return Error.Wrap(http.ListenAndServe(address, router))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
