// Command chat is an interactive demo of the sox fabric: `chat serve` runs a
// broadcast server with a selectable handler and an optional HTTP monitor,
// `chat connect` attaches an interactive client that prints every inbound
// message and sends each typed line.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/charliepilot/sox"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "chat",
		Short:         "A tiny TCP chat built on the sox messaging fabric",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		connectCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		addr        string
		poll        time.Duration
		handlerName string
		monitorAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a fabric server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			handler, err := handlerByName(handlerName)
			if err != nil {
				return err
			}

			options := []sox.ServerOption{
				sox.WithAddress(addr),
				sox.WithPollInterval(poll),
				sox.WithHandler(handler),
				sox.WithServerLogger(logger),
			}

			var monitorServer *http.Server
			if monitorAddr != "" {
				reg := prometheus.NewRegistry()
				monitor := sox.NewMonitor(reg, sox.WithMonitorLogger(logger))

				options = append(options,
					sox.WithServerMetrics(sox.NewServerMetrics(reg)),
					sox.WithTap(monitor),
				)

				monitorServer = &http.Server{Addr: monitorAddr, Handler: monitor.Handler()}
				go func() {
					logger.Info("monitor listening", slog.String("addr", monitorAddr))
					if err := monitorServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("monitor failed", slog.String("err", err.Error()))
					}
				}()
			}

			srv := sox.NewServer(options...)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			go func() {
				<-sigCh
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					logger.Error("shutdown failed", slog.String("err", err.Error()))
				}
				if monitorServer != nil {
					_ = monitorServer.Shutdown(ctx)
				}
			}()

			return srv.Serve()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":4000", "listen address")
	cmd.Flags().DurationVar(&poll, "poll", 500*time.Millisecond, "session poll interval")
	cmd.Flags().StringVar(&handlerName, "handler", "echo", "message handler: echo, broadcast or reply")
	cmd.Flags().StringVar(&monitorAddr, "monitor", "", "optional HTTP monitor address, e.g. :9090")

	return cmd
}

func handlerByName(name string) (sox.Handler, error) {
	switch name {
	case "echo":
		return sox.EchoHandler{}, nil
	case "broadcast":
		return sox.BroadcastHandler{}, nil
	case "reply":
		return sox.ReplyHandler{}, nil
	default:
		return nil, fmt.Errorf("unknown handler %q", name)
	}
}

func connectCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect an interactive client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelWarn,
			}))

			c := sox.NewClient(
				sox.WithClientAddress(addr),
				sox.WithReadTimeout(timeout),
				sox.WithClientLogger(logger),
			)
			c.RegisterObserver(&sox.WriterObserver{
				Out:   os.Stdout,
				Color: color.New(color.FgCyan),
			})

			scanner := bufio.NewScanner(os.Stdin)
			prompt := color.New(color.FgGreen)

			return c.RunForever(func(cli *sox.Client) bool {
				prompt.Fprint(os.Stdout, "> ")
				if !scanner.Scan() {
					return false
				}
				if err := cli.Send(scanner.Text()); err != nil {
					logger.Error("send failed", slog.String("err", err.Error()))
				}
				return true
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:4000", "server address")
	cmd.Flags().DurationVar(&timeout, "timeout", 500*time.Millisecond, "receive loop read timeout")

	return cmd
}
