package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/kvastad/znsd/config"
	"github.com/kvastad/znsd/control"
	"github.com/kvastad/znsd/wire"
	"github.com/kvastad/znsd/zonedb"
	"github.com/kvastad/znsd/zoneload"
)

// serverState is the bulk-swappable namedb snapshot a reload produces.
type serverState struct {
	db *zonedb.DB
}

func (s *serverState) swap(newState *serverState) {
	s.db = newState.db
}

// newServerState parses every configured zone file into a fresh *zonedb.DB,
// so a reload is a full zone-list swap rather than per-RR locked mutation.
func newServerState(cfg *config.Config) (*serverState, error) {
	db := zonedb.New()
	for name, zc := range cfg.Zones {
		apexName, err := wire.NameFromString(zc.Name)
		if err != nil {
			return nil, fmt.Errorf("zone %s: %w", name, err)
		}
		zone := db.NewZone(apexName, &zonedb.ZoneConfig{Name: zc.Name, FollowDepth: zc.FollowDepth})
		if zc.Store != "file" {
			continue
		}
		f, err := os.Open(zc.File)
		if err != nil {
			return nil, fmt.Errorf("zone %s: %w", name, err)
		}
		n, err := zoneload.LoadFile(db, zone, zc.Name, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("zone %s: %w", name, err)
		}
		_ = n
	}
	return &serverState{db: db}, nil
}

// serveAPI runs the control-plane HTTP server until ctx is cancelled.
func serveAPI(ctx context.Context, addr string, s *control.Server) error {
	httpServer := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()
	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
