package commons

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cyverse/irodsfs-tilecache/commons"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

// RunOptions holds command-line parameters that are not part of the cache configuration
type RunOptions struct {
	Passes  int
	Threads int
	Tag     string
	Wait    bool
}

func SetCommonFlags(command *cobra.Command) {
	command.Flags().BoolP("version", "v", false, "Print version")
	command.Flags().BoolP("help", "h", false, "Print help")
	command.Flags().BoolP("debug", "d", false, "Enable debug mode")
	command.Flags().BoolP("profile", "", false, "Enable profiling")

	command.Flags().StringP("config", "", "", "Set config file (yaml)")
	command.Flags().StringP("log", "", "", "Set log file path")
	command.Flags().Float64P("max_memory_MB", "", 0, "Set tile memory ceiling in MB")
	command.Flags().IntP("max_open_files", "", 0, "Set max number of open image files")
	command.Flags().IntP("autotile", "", -1, "Set tile size for untiled images (0 reads untiled images as one tile)")
	command.Flags().BoolP("automip", "", false, "Synthesize MIP levels for images without them")
	command.Flags().IntP("stats_level", "", -1, "Set statistics report level")

	command.Flags().IntP("passes", "", 1, "Set number of read passes over every image")
	command.Flags().IntP("threads", "", 1, "Set number of concurrent readers")
	command.Flags().StringP("tag", "", "", "Set shared cache tag")
	command.Flags().BoolP("wait", "", false, "Wait for Ctrl-C before exit (keeps exporters alive)")

	command.Flags().IntP("profile_port", "", commons.ProfileServicePortDefault, "Set profile service port")
	command.Flags().IntP("prometheus_exporter_port", "", commons.PrometheusExporterPortDefault, "Set prometheus exporter port")
}

func lookupBool(command *cobra.Command, name string) bool {
	flag := command.Flags().Lookup(name)
	if flag == nil {
		return false
	}

	value, err := strconv.ParseBool(flag.Value.String())
	if err != nil {
		return false
	}
	return value
}

func lookupInt(command *cobra.Command, name string) (int, bool, error) {
	flag := command.Flags().Lookup(name)
	if flag == nil || !flag.Changed {
		return 0, false, nil
	}

	value, err := strconv.ParseInt(flag.Value.String(), 10, 32)
	if err != nil {
		return 0, false, xerrors.Errorf("failed to convert %q of flag %s to int: %w", flag.Value.String(), name, err)
	}
	return int(value), true, nil
}

func ProcessCommonFlags(command *cobra.Command) (*commons.Config, io.WriteCloser, bool, error) {
	logger := log.WithFields(log.Fields{
		"package":  "commons",
		"function": "ProcessCommonFlags",
	})

	debug := lookupBool(command, "debug")
	if debug {
		log.SetLevel(log.DebugLevel)
	}

	if lookupBool(command, "help") {
		PrintHelp(command)
		return nil, nil, false, nil // stop here
	}

	if lookupBool(command, "version") {
		PrintVersion(command)
		return nil, nil, false, nil // stop here
	}

	var config *commons.Config

	configFlag := command.Flags().Lookup("config")
	if configFlag != nil && len(configFlag.Value.String()) > 0 {
		configPath := configFlag.Value.String()
		yamlBytes, err := os.ReadFile(configPath)
		if err != nil {
			logger.Error(err)
			return nil, nil, false, err // stop here
		}

		yamlConfig, err := commons.NewConfigFromYAML(yamlBytes)
		if err != nil {
			logger.Error(err)
			return nil, nil, false, err // stop here
		}

		config = yamlConfig
	} else {
		envConfig, err := commons.NewConfigFromENV()
		if err != nil {
			logger.Error(err)
			return nil, nil, false, err // stop here
		}

		config = envConfig
	}

	// prioritize command-line flag over config files
	if debug {
		config.Debug = true
	}

	if lookupBool(command, "profile") {
		config.Profile = true
	}

	if lookupBool(command, "automip") {
		config.AutoMip = true
	}

	logFlag := command.Flags().Lookup("log")
	if logFlag != nil && len(logFlag.Value.String()) > 0 {
		config.LogPath = logFlag.Value.String()
	}

	maxMemoryFlag := command.Flags().Lookup("max_memory_MB")
	if maxMemoryFlag != nil && maxMemoryFlag.Changed {
		maxMemory, err := strconv.ParseFloat(maxMemoryFlag.Value.String(), 64)
		if err != nil {
			logger.WithError(err).Errorf("failed to convert input to float64")
			return nil, nil, false, err // stop here
		}

		config.MaxMemoryMB = maxMemory
	}

	intFlags := []struct {
		name  string
		field *int
	}{
		{"max_open_files", &config.MaxOpenFiles},
		{"autotile", &config.AutoTile},
		{"stats_level", &config.StatsLevel},
		{"profile_port", &config.ProfileServicePort},
		{"prometheus_exporter_port", &config.PrometheusExporterPort},
	}

	for _, intFlag := range intFlags {
		value, changed, err := lookupInt(command, intFlag.name)
		if err != nil {
			logger.Error(err)
			return nil, nil, false, err // stop here
		}

		if changed {
			*intFlag.field = value
		}
	}

	err := config.Validate()
	if err != nil {
		logger.Error(err)
		return nil, nil, false, err // stop here
	}

	if config.Debug {
		log.SetLevel(log.DebugLevel)
	}

	var logWriter io.WriteCloser
	logFilePath := config.GetLogFilePath()
	if len(logFilePath) == 0 {
		log.SetOutput(os.Stderr)
	} else {
		logWriter = getLogWriter(logFilePath)

		// use multi output - to output to file and stderr
		mw := io.MultiWriter(os.Stderr, logWriter)
		log.SetOutput(mw)

		logger.Infof("Logging to %s", logFilePath)
	}

	return config, logWriter, true, nil // continue
}

// GetRunOptions reads the flags controlling a run
func GetRunOptions(command *cobra.Command) (*RunOptions, error) {
	options := &RunOptions{
		Passes:  1,
		Threads: 1,
		Wait:    lookupBool(command, "wait"),
	}

	passes, changed, err := lookupInt(command, "passes")
	if err != nil {
		return nil, err
	}
	if changed {
		options.Passes = passes
	}

	threads, changed, err := lookupInt(command, "threads")
	if err != nil {
		return nil, err
	}
	if changed {
		options.Threads = threads
	}

	if options.Passes < 0 {
		return nil, xerrors.Errorf("passes must not be negative, got %d", options.Passes)
	}

	if options.Threads <= 0 {
		return nil, xerrors.Errorf("threads must be positive, got %d", options.Threads)
	}

	tagFlag := command.Flags().Lookup("tag")
	if tagFlag != nil {
		options.Tag = tagFlag.Value.String()
	}

	return options, nil
}

func PrintVersion(command *cobra.Command) error {
	info, err := commons.GetVersionJSON()
	if err != nil {
		return err
	}

	fmt.Println(info)
	return nil
}

func PrintHelp(command *cobra.Command) error {
	return command.Usage()
}

func getLogWriter(logPath string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    50, // 50MB
		MaxBackups: 5,
		MaxAge:     30, // 30 days
		Compress:   false,
	}
}
