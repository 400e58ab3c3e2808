// Description: This is an interactive terminal peer for the chat relay server
// Every line typed is sent as chat text, except for the commands:
//
//	/send <path>   uploads a local file
//	/get <name>    downloads a relay file into RELAY_DOWNLOAD_DIR
//	/quit          disconnects
//
// The server address is read from RELAY_ADDR ("localhost:8888" by default).

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/telebroad/chatrelay/client"
	"github.com/telebroad/chatrelay/filesystem"
	"github.com/telebroad/chatrelay/wire"
)

// downloads holds the file the pending download is written to.
type downloads struct {
	dir  string
	mu   sync.Mutex
	file *os.File
}

func (d *downloads) start(name string) (*os.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		return nil, client.ErrDownloadPending
	}
	safeName, err := filesystem.BaseName(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Create(filepath.Join(d.dir, safeName))
	if err != nil {
		return nil, fmt.Errorf("creating file error: %w", err)
	}
	d.file = file
	return file, nil
}

// finish closes the pending download file, removing it when the download failed.
func (d *downloads) finish(failed bool) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ""
	}
	name := d.file.Name()
	d.file.Close()
	d.file = nil
	if failed {
		os.Remove(name)
	}
	return name
}

func main() {
	logger := setupLogger()
	slog.SetDefault(logger)

	addr := os.Getenv("RELAY_ADDR")
	if addr == "" {
		addr = "localhost:8888"
	}
	dl := &downloads{dir: os.Getenv("RELAY_DOWNLOAD_DIR")}
	if dl.dir == "" {
		dl.dir = "."
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := client.Dial(ctx, addr, client.WithLogger(logger))
	cancel()
	if err != nil {
		logger.Error("Error connecting to relay", "error", err)
		os.Exit(1)
	}
	defer c.Close()
	fmt.Printf("connected to %s as %s, type /send <path>, /get <name> or /quit\n", addr, c.LocalAddr())

	go readEvents(c, dl, logger)

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)
	go func() {
		<-stopChan
		c.Close()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runCommand(c, dl, line); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			fmt.Println("error:", err)
		}
	}
}

var errQuit = errors.New("quit")

func runCommand(c *client.Client, dl *downloads, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit":
		return errQuit
	case "/send":
		if arg == "" {
			return errors.New("usage: /send <path>")
		}
		if err := c.UploadFile(arg); err != nil {
			return err
		}
		fmt.Printf("sent %s\n", filepath.Base(arg))
		return nil
	case "/get":
		if arg == "" {
			return errors.New("usage: /get <name>")
		}
		file, err := dl.start(arg)
		if err != nil {
			return err
		}
		if err = c.Request(arg, file); err != nil {
			dl.finish(true)
			return err
		}
		return nil
	}
	return c.SendText(line)
}

func readEvents(c *client.Client, dl *downloads, logger *slog.Logger) {
	for {
		ev, err := c.Next()
		if err != nil {
			if errors.Is(err, wire.ErrDisconnected) {
				fmt.Println("disconnected from relay")
			} else {
				logger.Error("Error reading from relay", "error", err)
			}
			dl.finish(true)
			os.Exit(1)
		}

		switch ev.Kind {
		case client.EventText:
			if ev.From == "" {
				fmt.Println(ev.Text)
			} else {
				fmt.Printf("[%s] %s\n", ev.From, ev.Text)
			}
		case client.EventFileNotice:
			fmt.Printf("* %s shared %s (%d bytes), /get %s to download it\n", ev.From, ev.File.Name, ev.File.Size, ev.File.Name)
		case client.EventDownloadStarted:
			fmt.Printf("* receiving %s (%d bytes)\n", ev.File.Name, ev.File.Size)
		case client.EventDownloadProgress:
			logger.Debug("download progress", "file", ev.File.Name, "received", ev.Received, "size", ev.File.Size)
		case client.EventDownloadComplete:
			fmt.Printf("* saved %s\n", dl.finish(false))
		case client.EventDownloadFailed:
			dl.finish(true)
			fmt.Printf("* download of %s failed: %v\n", ev.File.Name, ev.Err)
		}
	}
}

func setupLogger() *slog.Logger {
	logLevel := slog.LevelWarn
	AddSource := false
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		logLevel = slog.LevelDebug
		AddSource = true
	case "INFO":
		logLevel = slog.LevelInfo
	case "ERROR":
		logLevel = slog.LevelError
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		AddSource:  AddSource,
		Level:      logLevel,
		TimeFormat: time.Kitchen,
	})
	return slog.New(handler).With("app", "chat-relay-client")
}
