package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rskv-p/nodebus/config"
	"github.com/rskv-p/nodebus/httpapi"
	"github.com/rskv-p/nodebus/keystore"
	"github.com/rskv-p/nodebus/logger"
	"github.com/rskv-p/nodebus/node"
	"github.com/rskv-p/nodebus/transport"
)

var (
	serveEmbedNATS bool
	serveMaster    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a node with the NATS remote transport and HTTP admin surface",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveEmbedNATS, "embed-nats", true, "embed an in-process NATS server instead of dialing NODE_NATS_URL")
	serveCmd.Flags().StringVar(&serveMaster, "master-key", "", "hex-encoded 32-byte keystore master key (dev: random if empty)")
}

// runServe wires the ambient config/logger, the NATS RemoteTransport, the
// demo Keystore, the Node, and the HTTP admin surface, mirroring
// the teacher's servs/s_nats/main.go construction-then-signal-wait shape.
func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.MustLoadFromEnv()
	log := logger.New(logger.Options{Level: cfg.LogLevel, Service: "nodebus", FilePath: cfg.LogFilePath})

	nt := transport.NewNATS(transport.NATSConfig{
		URL:      cfg.NATSURL,
		Embed:    serveEmbedNATS,
		NodeName: "nodebus-serve",
	})
	if err := nt.Start(); err != nil {
		return err
	}
	defer nt.Stop()

	var masterKey []byte
	if serveMaster != "" {
		decoded, err := keystore.DecodeHexKey(serveMaster)
		if err != nil {
			return err
		}
		masterKey = decoded
	} else {
		masterKey = keystore.RandomMasterKey()
	}
	ks := keystore.New(masterKey)

	n := node.New(cfg, log, nt, ks)
	if err := n.Start(); err != nil {
		return err
	}
	defer n.Stop()

	var admin *httpapi.Server
	if cfg.HTTPAdminAddr != "" {
		admin = httpapi.New(n, cfg.HTTPAdminAddr)
		if err := admin.Start(); err != nil {
			return err
		}
		log.Info().Str("addr", cfg.HTTPAdminAddr).Msg("admin http surface listening")
	}

	log.Info().Msg("node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	if admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = admin.Stop(ctx)
	}
	return nil
}
