// Command chat is a terminal client for the completions API. It paints from
// the local cache first, streams answers incrementally, and keeps the cache
// in sync with every completed turn.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/tanmaysingewar/betterindex/internal/client"
)

func main() {
	var (
		server   = flag.String("server", "http://localhost:8080", "server base URL")
		token    = flag.String("token", os.Getenv("BETTERINDEX_TOKEN"), "bearer token (optional)")
		chatID   = flag.String("chat", "", "chat id to resume (optional)")
		model    = flag.String("model", "", "model to request (optional)")
		cacheDir = flag.String("cache-dir", defaultCacheDir(), "local cache directory")
	)
	flag.Parse()

	cache, err := client.OpenCache(*cacheDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cache: %v\n", err)
		os.Exit(1)
	}
	defer cache.Close()

	api := client.NewAPI(*server, *token, deviceID(*cacheDir))

	// streaming paint: print only the bytes appended since the last snapshot
	var printed int
	ctrl := client.NewController(client.ControllerConfig{
		API:   api,
		Cache: cache,
		Model: *model,
		OnChange: func(s client.Snapshot) {
			switch s.State {
			case client.StateStreaming:
				last := s.Transcript[len(s.Transcript)-1].Content
				fmt.Print(last[printed:])
				printed = len(last)
			case client.StateReady:
				if printed > 0 {
					fmt.Println()
					printed = 0
				}
			case client.StateError:
				printed = 0
				fmt.Fprintf(os.Stderr, "\nerror: %s\n", s.Err)
			}
		},
		OnNavigate: func(id string) {
			fmt.Printf("(chat %s)\n", id)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *chatID != "" {
		if err := ctrl.Navigate(ctx, *chatID); err != nil {
			fmt.Fprintf(os.Stderr, "load: %v\n", err)
		}
		for _, e := range ctrl.Snapshot().Transcript {
			fmt.Printf("%s: %s\n", e.Role, e.Content)
		}
	}

	sc := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
		case "/quit", "/exit":
			return
		case "/quota":
			remaining, err := api.Quota(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "quota: %v\n", err)
			} else {
				fmt.Printf("remaining: %d\n", remaining)
			}
		default:
			err := ctrl.Submit(ctx, line)
			if errors.Is(err, client.ErrBusy) {
				fmt.Fprintln(os.Stderr, "still sending, hold on")
			}
			// other errors already reached OnChange
		}
		if ctx.Err() != nil {
			return
		}
		fmt.Print("> ")
	}
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "betterindex")
}

// deviceID loads or mints the stable anonymous identity for this machine.
func deviceID(cacheDir string) string {
	path := filepath.Join(cacheDir, "device_id")
	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id
		}
	}
	id := uuid.NewString()
	_ = os.MkdirAll(cacheDir, 0o755)
	_ = os.WriteFile(path, []byte(id), 0o644)
	return id
}
