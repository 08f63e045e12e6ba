// Command znsd wires the namedb, query engine, transport, control API,
// and signing passthrough into a running authoritative nameserver
// process.
//
// The mainloop uses signal channels for SIGINT/SIGTERM (exit) and
// SIGHUP (reload), a sync.WaitGroup, and a select loop dispatching
// between them.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	pflag "github.com/spf13/pflag"

	"github.com/kvastad/znsd/config"
	"github.com/kvastad/znsd/control"
	"github.com/kvastad/znsd/keydb"
	"github.com/kvastad/znsd/query"
	"github.com/kvastad/znsd/server"
)

func main() {
	cfgFile := pflag.StringP("config", "c", "/etc/znsd/znsd.yaml", "path to configuration file")
	verbose := pflag.BoolP("verbose", "v", false, "verbose logging")
	debug := pflag.BoolP("debug", "d", false, "debug logging")
	pflag.Parse()

	config.SetupCliLogging(*verbose, *debug)

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatalf("znsd: %v", err)
	}
	config.SetupLogging(cfg.Log)

	kdb, err := keydb.Open(cfg.Db.File)
	if err != nil {
		log.Fatalf("znsd: key store: %v", err)
	}
	defer kdb.Close()

	state, err := newServerState(cfg)
	if err != nil {
		log.Fatalf("znsd: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	engine := query.New(state.db)

	switch {
	case cfg.Sig0.SignerName != "":
		signer, keyTag, algorithm, err := keydb.LoadSigningKey(cfg.Sig0.KeyFile)
		if err != nil {
			log.Fatalf("znsd: sig0 signing key: %v", err)
		}
		engine.SetAuthenticator(keydb.NewSIG0Authenticator(kdb, cfg.Sig0.SignerName, keyTag, algorithm, signer))
	case cfg.Tsig.Enabled:
		engine.SetTSIGAuthenticator(keydb.NewTSIGAuthenticator(kdb))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(ctx, cfg.DNS.Addresses, engine); err != nil {
			log.Printf("znsd: dns server: %v", err)
		}
	}()

	apiServer := control.NewServer(func() error {
		newState, err := newServerState(cfg)
		if err != nil {
			return err
		}
		state.swap(newState)
		engine.SetDB(newState.db)
		return nil
	}, engine.Queries, cfg.API.APIKey)

	for _, addr := range cfg.API.Addresses {
		addr := addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("znsd: control api listening on %s", addr)
			if err := serveAPI(ctx, addr, apiServer); err != nil {
				log.Printf("znsd: control api: %v", err)
			}
		}()
	}

	mainloop(ctx, cancel, state, engine, cfg)
	wg.Wait()
}

// mainloop blocks on SIGINT/SIGTERM (exit) and SIGHUP (reload).
func mainloop(ctx context.Context, cancel context.CancelFunc, state *serverState, engine *query.Engine, cfg *config.Config) {
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	for {
		select {
		case <-exit:
			log.Printf("znsd: shutting down")
			cancel()
			return
		case <-hup:
			log.Printf("znsd: reloading zones")
			newState, err := newServerState(cfg)
			if err != nil {
				log.Printf("znsd: reload failed: %v", err)
				continue
			}
			state.swap(newState)
			engine.SetDB(newState.db)
		}
	}
}
