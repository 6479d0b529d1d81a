package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync"

	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyverse/irodsfs-tilecache/cache"
	cmd_commons "github.com/cyverse/irodsfs-tilecache/cmd/commons"
	"github.com/cyverse/irodsfs-tilecache/commons"
	"github.com/cyverse/irodsfs-tilecache/imageio"
	"github.com/cyverse/irodsfs-tilecache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tilecache [flags] <image>...",
	Short: "Read images through the tile cache",
	Long:  "Read every subimage and miplevel of the given images through the tile cache and report cache statistics.",
	RunE:  processCommand,
}

func Execute() error {
	return rootCmd.Execute()
}

func processCommand(command *cobra.Command, args []string) error {
	logger := log.WithFields(log.Fields{
		"package":  "main",
		"function": "processCommand",
	})

	config, logWriter, cont, err := cmd_commons.ProcessCommonFlags(command)
	if logWriter != nil {
		defer logWriter.Close()
	}

	if err != nil {
		logger.Error(err)
		return err
	}

	if !cont {
		return nil
	}

	options, err := cmd_commons.GetRunOptions(command)
	if err != nil {
		logger.Error(err)
		return err
	}

	if len(args) == 0 {
		cmd_commons.PrintHelp(command)
		return xerrors.Errorf("no image file is given")
	}

	return run(config, options, args)
}

func main() {
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000000",
		FullTimestamp:   true,
	})

	log.SetLevel(log.InfoLevel)

	logger := log.WithFields(log.Fields{
		"package":  "main",
		"function": "main",
	})

	// attach common flags
	cmd_commons.SetCommonFlags(rootCmd)
	rootCmd.SilenceUsage = true

	err := Execute()
	if err != nil {
		logger.Fatal(err)
		os.Exit(1)
	}
}

// run reads the images through a shared tile cache
func run(config *commons.Config, options *cmd_commons.RunOptions, files []string) error {
	logger := log.WithFields(log.Fields{
		"package":  "main",
		"function": "run",
	})

	if config.Debug {
		log.SetLevel(log.DebugLevel)
	}

	versionInfo := commons.GetVersion()
	logger.Infof("TileCache version - %s, commit - %s", versionInfo.ServiceVersion, versionInfo.GitCommit)

	// profile
	if config.Profile && config.ProfileServicePort > 0 {
		go func() {
			profileServiceAddr := fmt.Sprintf(":%d", config.ProfileServicePort)

			logger.Infof("Starting profile service at %s", profileServiceAddr)
			http.ListenAndServe(profileServiceAddr, nil)
		}()

		prof := profile.Start(profile.MemProfile)
		defer prof.Stop()
	}

	var prometheusExporterServer *http.Server
	if config.PrometheusExporterPort > 0 {
		prometheusExporterAddr := fmt.Sprintf(":%d", config.PrometheusExporterPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		prometheusExporterServer = &http.Server{Addr: prometheusExporterAddr, Handler: mux}

		go func() {
			logger.Infof("Starting prometheus exporter at %s", prometheusExporterAddr)
			prometheusExporterServer.ListenAndServe()
		}()
	}

	decoder := imageio.NewImagingDecoder(config.AutoMip)
	handle, err := cache.NewSharedCacheHandle(options.Tag, false, config, decoder)
	if err != nil {
		logger.WithError(err).Error("failed to create the tile cache")
		return err
	}

	defer func() {
		if prometheusExporterServer != nil {
			prometheusExporterServer.Shutdown(context.TODO())
		}

		handle.Release()
		cache.DestroyAllSharedCaches()
	}()

	imageCache, err := handle.GetCache()
	if err != nil {
		logger.WithError(err).Error("failed to get the tile cache")
		return err
	}

	for _, filename := range files {
		printFileInfo(imageCache, filename)
	}

	for pass := 0; pass < options.Passes; pass++ {
		logger.Infof("Read pass %d of %d", pass+1, options.Passes)

		for _, filename := range files {
			err := readFile(imageCache, filename, options.Threads)
			if err != nil {
				logger.WithError(err).Errorf("failed to read %q", filename)
			}
		}

		imageCache.CollectPrometheusMetrics()
	}

	fmt.Print(imageCache.GetStats(utils.MaxInt(config.StatsLevel, 1)))

	if options.Wait {
		logger.Info("Waiting for Ctrl-C")
		waitForCtrlC()
	}

	return nil
}

func printFileInfo(imageCache *cache.ImageCache, filename string) {
	exists, _ := imageCache.GetImageInfo(filename, 0, 0, "exists")
	if exists != true {
		fmt.Printf("%s: not found\n", filename)
		return
	}

	subimages, err := imageCache.GetImageInfo(filename, 0, 0, "subimages")
	if err != nil {
		fmt.Printf("%s: %s\n", filename, imageCache.GetError(true))
		return
	}

	fmt.Printf("%s: %d subimage(s)\n", filename, subimages)
	for subimage := 0; subimage < subimages.(int); subimage++ {
		miplevels, err := imageCache.GetImageInfo(filename, subimage, 0, "miplevels")
		if err != nil {
			continue
		}

		spec, err := imageCache.GetImageSpec(filename, subimage, 0)
		if err != nil {
			continue
		}

		tileSize, _ := imageCache.GetImageInfo(filename, subimage, 0, "tilesize")
		fmt.Printf("  subimage %d: %dx%d, %d channels %v, %s, %d miplevel(s), tile %v\n", subimage,
			spec.Width, spec.Height, spec.NChannels, spec.ChannelNames, spec.Format, miplevels, tileSize)
	}
}

// readFile reads every subimage and miplevel of the file in horizontal bands, one per thread
func readFile(imageCache *cache.ImageCache, filename string, threads int) error {
	subimages, err := imageCache.GetImageInfo(filename, 0, 0, "subimages")
	if err != nil {
		return err
	}

	for subimage := 0; subimage < subimages.(int); subimage++ {
		miplevels, err := imageCache.GetImageInfo(filename, subimage, 0, "miplevels")
		if err != nil {
			return err
		}

		for miplevel := 0; miplevel < miplevels.(int); miplevel++ {
			spec, err := imageCache.GetImageSpec(filename, subimage, miplevel)
			if err != nil {
				return err
			}

			err = readLevel(imageCache, filename, subimage, miplevel, spec, threads)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func readLevel(imageCache *cache.ImageCache, filename string, subimage int, miplevel int, spec *imageio.ImageSpec, threads int) error {
	window := spec.DataWindow()
	bandHeight := utils.MaxInt((window.Height()+threads-1)/threads, 1)

	group := errgroup.Group{}
	for ybegin := window.YBegin; ybegin < window.YEnd; ybegin += bandHeight {
		band := window
		band.YBegin = ybegin
		band.YEnd = utils.MinInt(ybegin+bandHeight, window.YEnd)

		group.Go(func() error {
			threadInfo, err := imageCache.CreateThreadInfo()
			if err != nil {
				return err
			}
			defer imageCache.DestroyThreadInfo(threadInfo)

			data := make([]byte, band.NPixels()*band.NChannels()*spec.Format.Size())
			return imageCache.GetPixelsWithThreadInfo(threadInfo, filename, subimage, miplevel, band, spec.Format, data)
		})
	}

	return group.Wait()
}

func waitForCtrlC() {
	var endWaiter sync.WaitGroup

	endWaiter.Add(1)
	signalChannel := make(chan os.Signal, 1)

	signal.Notify(signalChannel, os.Interrupt)

	go func() {
		<-signalChannel
		endWaiter.Done()
	}()

	endWaiter.Wait()
}
