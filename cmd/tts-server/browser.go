package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/book-expert/logger"
)

// browserCommand returns the platform command that opens url.
func browserCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}

func openBrowserAfter(ctx context.Context, delay time.Duration, url string, log *logger.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	log.Info("Attempting to open browser at: %s", url)

	err := openBrowser(ctx, url)
	if err != nil {
		log.Error("Could not open browser: %v", err)
	}
}

func openBrowser(ctx context.Context, url string) error {
	name, args := browserCommand(runtime.GOOS, url)

	binaryPath, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("browser launcher %s not found: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, binaryPath, args...)

	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	go func() { _ = cmd.Wait() }()

	return nil
}
