// Command tcprpcd runs a standalone transport.Server using the
// echoupper demonstration handler, for manual testing against the
// transport package.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/framewire/tcprpc/examples/echoupper"
	"github.com/framewire/tcprpc/internal/logging"
	"github.com/framewire/tcprpc/transport"
)

func main() {
	var (
		bindIP   = flag.String("bind", "127.0.0.1", "bind IPv4 address")
		bindPort = flag.Int("port", 9009, "bind TCP port")
		label    = flag.String("label", "tcprpcd", "server label, used in logs")
		workers  = flag.Int("workers", 4, "I/O worker count")
		logFile  = flag.String("log-file", "", "rotate logs to this file instead of stderr")
	)
	flag.Parse()

	logger := buildLogger(*logFile)
	defer logger.Sync()

	srv, err := transport.New(*bindIP, uint16(*bindPort), echoupper.Handler, nil,
		transport.WithLabel(*label),
		transport.WithWorkerCount(*workers),
		transport.WithLogger(logging.NewZap(logger)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tcprpcd: %s\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "tcprpcd: start: %s\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "tcprpcd: stop: %s\n", err)
		os.Exit(1)
	}
}

func buildLogger(path string) *zap.Logger {
	if path == "" {
		l, _ := zap.NewProduction()
		return l
	}

	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
	})
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), sink, zap.InfoLevel)
	return zap.New(core)
}
