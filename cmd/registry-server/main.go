package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"go.uber.org/zap"

	"github.com/BIBSYSDEV/nva-publication-api-sub010/bus"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/config"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/db"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/expand"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/index"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/objectstore"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/orgresolver"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/registry"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/registry/registryrepo"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/stream"
)

var log = logger.NewNamed("main")

var configPath = flag.String("c", "etc/config.yml", "path to the config file")

func main() {
	flag.Parse()

	conf, err := config.NewFromFile(*configPath)
	if err != nil {
		log.Fatal("can't load config", zap.Error(err))
	}

	a := new(app.App)
	a.Register(conf).
		Register(db.New()).
		Register(bus.New()).
		Register(objectstore.New()).
		Register(registryrepo.New()).
		Register(registry.New()).
		Register(orgresolver.New()).
		Register(stream.New()).
		Register(expand.New()).
		Register(index.New())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err = a.Start(ctx); err != nil {
		log.Fatal("can't start app", zap.Error(err))
	}
	log.Info("app started")

	<-ctx.Done()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err = a.Close(closeCtx); err != nil {
		log.Fatal("close error", zap.Error(err))
	}
	log.Info("app stopped")
}
