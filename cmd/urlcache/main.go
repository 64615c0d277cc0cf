package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/urlcache/urlcache"
	"github.com/urlcache/urlcache/pkg/decoder"
	journal "github.com/urlcache/urlcache/pkg/fetch-journal"
	"github.com/urlcache/urlcache/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	ttlFlag            time.Duration
	formatFlag         string
	configFlag         string
	journalFlag        string
	statsFlag          bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.DurationVar(&ttlFlag, "ttl", 0, "Time to live for cache entries (overrides config file)")
	flag.StringVar(&formatFlag, "format", "", "Output: path (default), text, json, yaml, cbor, csv or html")
	flag.StringVar(&configFlag, "config", "", "Config file to use")
	flag.StringVar(&journalFlag, "journal", "", "Fetch journal DB file to use (overrides config file)")
	flag.BoolVar(&statsFlag, "stats", false, "Print fetch journal stats and exit")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stderr)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.WarnLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stderr
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stderr})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	var config Config
	if configFlag != "" {
		var err error
		if config, err = getConfig(configFlag); err != nil {
			log.Fatal().Err(err).Msg("Cannot read config file")
		}
	}

	cacheConfig := urlcache.Config{
		Logger: &log.Logger,
	}
	if config.TTLSeconds > 0 {
		cacheConfig.TTL = time.Duration(config.TTLSeconds) * time.Second
	}
	if ttlFlag > 0 {
		cacheConfig.TTL = ttlFlag
	}
	if timeout, err := config.timeout(); err != nil {
		log.Fatal().Err(err).Msg("Cannot parse timeout")
	} else if timeout > 0 {
		cacheConfig.Client = &http.Client{Timeout: timeout}
	}

	journalFilename := config.Journal
	if journalFlag != "" {
		journalFilename = journalFlag
	}
	if journalFilename != "" {
		j, err := journal.Open(journalFilename)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot open fetch journal")
		}
		defer j.Close()
		cacheConfig.Journal = j
	}

	metrics.Init()

	if statsFlag {
		printStats(cacheConfig.Journal)
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	cache := urlcache.New(cacheConfig)
	for _, locator := range flag.Args() {
		if err := output(cache, locator); err != nil {
			log.Fatal().Err(err).Str("url", locator).Msg("Cannot fetch resource")
		}
	}
}

func output(cache *urlcache.Cache, locator string) error {
	switch formatFlag {
	case "", "path":
		path, err := cache.GetLocalPath(locator)
		if err != nil {
			return err
		}
		fmt.Println(path)
	case "text":
		text, err := cache.GetText(locator)
		if err != nil {
			return err
		}
		fmt.Print(text)
	default:
		value, err := cache.GetStructured(locator, decoder.Format(formatFlag))
		if err != nil {
			return err
		}
		rendered, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			// not all decoded values are JSON-representable, e.g. CBOR
			// maps with non-string keys or HTML document trees
			fmt.Printf("%v\n", value)
			return nil
		}
		fmt.Println(string(rendered))
	}
	return nil
}

func printStats(j *journal.Journal) {
	if j == nil {
		log.Fatal().Msg("Stats need a fetch journal, use -journal or the config file")
	}
	counts, err := j.Counts()
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot read fetch journal")
	}
	for _, outcome := range []journal.Outcome{
		journal.OutcomeHit,
		journal.OutcomeRefreshed,
		journal.OutcomeNotModified,
		journal.OutcomeError,
	} {
		fmt.Printf("%-14s %d\n", outcome, counts[outcome])
	}
	recent, err := j.Recent(5)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot read fetch journal")
	}
	if len(recent) > 0 {
		fmt.Println("recent:")
		for _, url := range recent {
			fmt.Printf("  %s\n", url)
		}
	}
}
