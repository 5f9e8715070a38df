// Command duplexcat demonstrates duplex's wire protocol end to end: it
// can serve a demo async value graph over HTTP, or fetch and drain one
// from a running instance of itself, exercising the line-framing
// adapter over a real byte transport the way spec scenario 7 describes.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/streamrelay/duplex"
	"github.com/streamrelay/duplex/internal/telemetry"
)

func main() {
	app := &cli.App{
		Name:  "duplexcat",
		Usage: "stream and drain duplex async-value graphs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn, or error"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			fetchCommand(),
			demoCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "duplexcat:", err)
		os.Exit(1)
	}
}

func configFrom(c *cli.Context) duplex.Config {
	cfg := duplex.DefaultConfig()
	cfg.LogLevel = c.String("log-level")
	if path := c.String("config"); path != "" {
		if loaded, err := duplex.LoadConfig(path); err == nil {
			cfg = loaded
		}
	}
	return cfg
}

func loggerFrom(cfg duplex.Config) *telemetry.Logger {
	return telemetry.New(os.Stderr, cfg.LogLevel)
}

func demoRoot() map[string]any {
	seq := duplex.SliceSequence([]any{"hello", "world"}, "return value")
	promise := duplex.PromiseFunc(func(ctx context.Context) (any, error) {
		return "hi", nil
	})
	return map[string]any{
		"asyncIterable": seq,
		"p":             promise,
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve a demo async value graph as an NDJSON stream over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8089"},
		},
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			log := loggerFrom(cfg)
			defer log.Sync()

			http.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/x-ndjson")
				frames := duplex.Encode(r.Context(), demoRoot(), duplex.Options{Logger: log, MaxFrameBytes: cfg.MaxFrameBytes})
				flusher, _ := w.(http.Flusher)
				for {
					line, ok, err := frames(r.Context())
					if err != nil {
						log.Error("encode failed", zap.Error(err))
						return
					}
					if !ok {
						return
					}
					fmt.Fprintln(w, line)
					if flusher != nil {
						flusher.Flush()
					}
				}
			})

			log.Info("serving")
			return http.ListenAndServe(c.String("addr"), nil)
		},
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "fetch and drain an NDJSON async value graph from a duplexcat serve instance",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8089/stream"},
		},
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			log := loggerFrom(cfg)
			defer log.Sync()

			ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
			defer cancel()

			resp, err := http.Get(c.String("url"))
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			return drain(ctx, resp.Body, log, cfg)
		},
	}
}

func demoCommand() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "run the encode/decode round trip entirely in-process",
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			log := loggerFrom(cfg)
			defer log.Sync()

			pr, pw := io.Pipe()
			ctx := c.Context

			go func() {
				defer pw.Close()
				frames := duplex.Encode(ctx, demoRoot(), duplex.Options{Logger: log, MaxFrameBytes: cfg.MaxFrameBytes})
				for {
					line, ok, err := frames(ctx)
					if err != nil || !ok {
						return
					}
					fmt.Fprintln(pw, line)
				}
			}()

			return drain(ctx, pr, log, cfg)
		},
	}
}

func drain(ctx context.Context, r io.Reader, log *telemetry.Logger, cfg duplex.Config) error {
	root, err := duplex.Decode(ctx, duplex.Lines(r), duplex.DecodeOptions{Logger: log, MaxPendingPerController: cfg.MaxPendingPerController})
	if err != nil {
		return err
	}

	obj, ok := root.(map[string]any)
	if !ok {
		return fmt.Errorf("duplexcat: unexpected root shape %T", root)
	}

	if p, ok := obj["p"].(duplex.Promise); ok {
		v, err := p.Await(ctx)
		if err != nil {
			fmt.Println("p rejected:", err)
		} else {
			fmt.Println("p fulfilled:", v)
		}
	}

	if seq, ok := obj["asyncIterable"].(duplex.AsyncSequence); ok {
		for {
			r := seq.Next(ctx)
			if r.Err != nil {
				fmt.Println("sequence error:", r.Err)
				break
			}
			if r.Done {
				fmt.Println("sequence returned:", r.Ret)
				break
			}
			fmt.Println("sequence yielded:", r.Value)
		}
	}

	return nil
}
