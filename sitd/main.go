package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/gin-gonic/gin"

	"github.com/golang/glog"

	"golang.org/x/sync/errgroup"

	"github.com/simrailtools/backend-sub001/sit"
)

const Version = "0.1.0"

const DefaultRecordsUrl = "http://localhost:8081/internal"

func main() {
	usage := fmt.Sprintf(
		`SimRail live events daemon.

The default urls are:
    records_url: %s

Usage:
    sitd serve [--port=<port>] [--records_url=<records_url>] [--verbose=<level>]
    sitd --version

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    --records_url=<records_url>    Base url of the authoritative records api.
    --verbose=<level>              Log verbosity [default: 0].
    -p --port=<port>               Listen port [default: 8080].`,
		DefaultRecordsUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	verbose, _ := opts.String("--verbose")
	flag.Set("logtostderr", "true")
	flag.Set("v", verbose)
	flag.CommandLine.Parse([]string{})

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

func serve(opts docopt.Opts) {
	port, _ := opts.Int("--port")

	recordsUrl := DefaultRecordsUrl
	if recordsUrlAny := opts["--records_url"]; recordsUrlAny != nil {
		recordsUrl = recordsUrlAny.(string)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	records := sit.NewRecordsApi(recordsUrl)
	cache := sit.NewSnapshotCacheWithDefaults(ctx, records)

	warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := cache.Warm(warmCtx); err != nil {
		// the cache self-heals via lazy backfill and maintenance.
		// a cold start only delays initial replays
		glog.Infof("cache warm error = %s\n", err)
	}
	warmCancel()

	manager := sit.NewSessionManagerWithDefaults(ctx, cache)
	sender := sit.NewInitialDataSender(cache)
	endpoint := sit.NewEndpointWithDefaults(ctx, manager, sender)
	maintenance := sit.NewCacheMaintenanceJobWithDefaults(ctx, records, cache, manager)
	defer maintenance.Close()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/sit-events", gin.WrapF(endpoint.Handle))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"sessions": manager.Count(),
		})
	})
	// ingestion collaborator surface: one decoded update frame per request
	router.POST("/internal/ingest", func(c *gin.Context) {
		var frame sit.UpdateFrame
		if err := c.ShouldBindJSON(&frame); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		manager.Publish(&frame)
		c.Status(http.StatusAccepted)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		glog.Infof("listening on :%d\n", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		manager.Drain()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		glog.Errorf("exit = %s\n", err)
		os.Exit(1)
	}
}
