// Package main is the entry point for kvload.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"kvload/internal/api"
	"kvload/internal/client"
	"kvload/internal/config"
	"kvload/internal/events"
	"kvload/internal/logger"
)

var (
	version = "dev"
)

const usageLine = "Usage: kvload [NUM_CLIENTS]"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options はコマンドラインで指定された値
type options struct {
	configFile  string
	addr        string
	iterations  int
	framing     string
	statusAddr  string
	logLevel    string
	logFile     string
	showVersion bool
}

// run はCLIを実行し、終了コードを返す
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("kvload", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.configFile, "config", "", "YAML/JSON config file")
	fs.StringVar(&opts.addr, "addr", "localhost:8888", "server address")
	fs.IntVar(&opts.iterations, "iterations", 10000, "commands per client")
	fs.StringVar(&opts.framing, "framing", "raw", "raw | length-prefixed")
	fs.StringVar(&opts.statusAddr, "status-addr", "", "serve /api/status, /api/metrics and /ws (disabled if empty)")
	fs.StringVar(&opts.logLevel, "log-level", "info", "debug | info | warn | error")
	fs.StringVar(&opts.logFile, "log-file", "", "also write logs to a rotating file")
	fs.BoolVar(&opts.showVersion, "version", false, "print version")

	usage := func() {
		fmt.Fprintln(stderr, usageLine)
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}
	fs.Usage = usage

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "kvload version %s\n", version)
		return 0
	}

	// NUM_CLIENTS は正の整数のみ
	numClients := 0
	if fs.NArg() > 0 {
		n, err := strconv.Atoi(fs.Arg(0))
		if err != nil || n <= 0 || fs.NArg() > 1 {
			usage()
			return 1
		}
		numClients = n
	}

	fileConfig, err := buildFileConfig(fs, opts, numClients)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}

	l, err := fileConfig.Log.NewLogger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}
	logger.SetDefault(l)
	defer func() { _ = l.Sync() }()

	clientConfig, err := fileConfig.ToClientConfig()
	if err != nil {
		logger.Error("", "Config error: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runClient(ctx, clientConfig, fileConfig.Status.Addr, stdout); err != nil {
		logger.Error("", "Run failed: %v", err)
		return 1
	}
	return 0
}

// buildFileConfig は設定ファイル、フラグ、位置引数の順に上書きした設定を返す
func buildFileConfig(fs *flag.FlagSet, opts options, numClients int) (*config.FileConfig, error) {
	fileConfig := &config.FileConfig{}
	if opts.configFile != "" {
		loaded, err := config.LoadFile(opts.configFile)
		if err != nil {
			return nil, err
		}
		fileConfig = loaded
	}

	// 明示的に指定されたフラグだけ反映する
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			fileConfig.Server.Addr = opts.addr
		case "iterations":
			fileConfig.Load.Iterations = opts.iterations
		case "framing":
			fileConfig.Server.Framing = opts.framing
		case "status-addr":
			fileConfig.Status.Addr = opts.statusAddr
		case "log-level":
			fileConfig.Log.Level = opts.logLevel
		case "log-file":
			fileConfig.Log.File = opts.logFile
		}
	})

	if numClients > 0 {
		fileConfig.Load.Clients = numClients
	}

	if err := fileConfig.Validate(); err != nil {
		return nil, err
	}
	return fileConfig, nil
}

// runClient は負荷を実行し、終了後にレポートを出力する
func runClient(ctx context.Context, cfg client.Config, statusAddr string, stdout io.Writer) error {
	c := client.New(cfg, stdout)

	if statusAddr != "" {
		bus := events.NewBus()
		defer bus.Close()
		c.SetEventBus(bus)

		serverCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		server := api.NewServer(statusAddr, c, bus)
		go func() {
			if err := server.Start(serverCtx); err != nil {
				logger.Error("", "Status server error: %v", err)
			}
		}()
	}

	err := c.Run(ctx)

	fmt.Fprintln(stdout, c.Metrics().Snapshot().Report())

	return err
}
