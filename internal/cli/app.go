package cli

import (
	"fmt"
	"time"

	"github.com/Gopher0727/PortalChat/internal/cache"
	"github.com/Gopher0727/PortalChat/internal/chatsync"
	"github.com/Gopher0727/PortalChat/internal/remote"
	"github.com/Gopher0727/PortalChat/internal/remote/mockserver"
	"github.com/Gopher0727/PortalChat/internal/store"
)

const demoHistory = 25

// app is the engine wired from the loaded config.
type app struct {
	store store.Store
	cache *cache.Manager
	ctrl  *chatsync.Controller
}

func newApp(opts *RootOptions) (*app, error) {
	cfg, log := opts.cfg, opts.log

	st, err := store.Open(cfg, store.WithLogger(log.Component("store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	cm := cache.NewManager(st,
		cache.WithGroupsTTL(cfg.Cache.GroupsTTL),
		cache.WithMessagesTTL(cfg.Cache.MessagesTTL),
		cache.WithLogger(log.Component("cache")),
	)

	var api remote.API
	if opts.Demo {
		mem := remote.NewMemoryAPI(remote.WithSender(cfg.Viewer.UserID))
		mockserver.Seed(mem, cfg.Viewer.UserID, demoHistory, time.Now())
		api = mem
	} else {
		api = remote.NewHTTPClient(&cfg.Remote, remote.WithLogger(log.Component("remote")))
	}

	ctrl, err := chatsync.New(api, cm, chatsync.ConfigFrom(cfg), chatsync.WithLogger(log.Component("chatsync")))
	if err != nil {
		st.Close()
		return nil, err
	}
	return &app{store: st, cache: cm, ctrl: ctrl}, nil
}

func (a *app) Close() error {
	a.ctrl.Close()
	return a.store.Close()
}
