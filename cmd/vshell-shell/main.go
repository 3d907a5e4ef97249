// Command vshell-shell embeds a POSIX shell as a long-lived child process
// and exposes a line-oriented control protocol on its own stdin for
// submitting commands to the embedded shell, printing each Result as it
// resolves.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vshell-go/vshell"
	"github.com/vshell-go/vshell/adapter/shell"
	"github.com/vshell-go/vshell/internal/logging"
)

func main() {
	var (
		interpreter = flag.String("interpreter", "/bin/sh", "Interpreter executable to embed")
		verbose     = flag.Bool("v", false, "Verbose output")
		autoRestart = flag.Bool("auto-restart", false, "Restart the interpreter automatically after a command timeout")
		timeoutSec  = flag.Float64("timeout", 5.0, "Default per-command timeout in seconds")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	params := vshell.DefaultParams(*interpreter, shell.New())
	params.AutoRestart = *autoRestart
	params.CommandTimeout = time.Duration(*timeoutSec * float64(time.Second))
	params.ProcessGroup = true

	options := &vshell.Options{Logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host, err := vshell.NewHost(ctx, params, options)
	if err != nil {
		logger.Errorf("failed to create host: %v", err)
		os.Exit(1)
	}
	defer host.Stop(true)

	logger.Infof("host created, embedding %s", *interpreter)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("received shutdown signal")
		cancel()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !host.IsAlive() {
			fmt.Fprintln(os.Stderr, "host is not running")
			break
		}

		result, err := host.Execute(ctx, line, params.CommandTimeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Print(string(result.Stdout))
		if len(result.Stderr) > 0 {
			fmt.Fprint(os.Stderr, string(result.Stderr))
		}
		if !result.Success {
			fmt.Fprintf(os.Stderr, "[exit_code=%d]\n", result.ExitCode)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("stdin read error: %v", err)
	}

	snap := host.MetricsSnapshot()
	logger.Infof("shutting down: %d commands submitted, %d completed, %d timed out",
		snap.SubmitOps, snap.CompleteOps, snap.TimeoutOps)
}
