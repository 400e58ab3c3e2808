// Description: This is the main file of the chat relay server
// The main function starts the relay server on RELAY_ADDR (":8888" by default) and, when their
// addresses are set, the read only sftp view and the http status server of the relay files.
// All the servers are closed on SIGINT or SIGTERM.

package main

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/telebroad/chatrelay/filesystem"
	"github.com/telebroad/chatrelay/httphandler"
	"github.com/telebroad/chatrelay/relay"
	"github.com/telebroad/chatrelay/sftp"
)

func main() {

	// setting up the slog logger
	logger := setupLogger()
	slog.SetDefault(logger)

	env, err := GetEnv(logger)
	if err != nil {
		logger.Error("Error getting environment", "error", err)
		os.Exit(1)
	}

	// file system
	store := filesystem.NewStore(env.RelayRoot)

	// relay server
	relayServer := relay.NewServer(env.RelayAddr, store)
	relayServer.SetLogger(logger)
	relayServer.MaxClients = env.MaxClients
	relayServer.MaxPayload = env.MaxPayload
	relayServer.ChunkSize = env.ChunkSize
	relayServer.ErrorReplies = env.ErrorReplies

	if err = relayServer.Listen(); err != nil {
		logger.Error("Error starting relay server", "error", err)
		os.Exit(1)
	}
	relayDone := make(chan error, 1)
	go func() { relayDone <- relayServer.Serve() }()
	logger.Info("Relay server started", "addr", relayServer.ListenAddr().String())

	// sftp server
	var sftpServer *sftp.Server
	if env.SftpAddr != "" {
		sftpServer = sftp.NewSFTPServer(env.SftpAddr, store)
		sftpServer.SetLogger(logger)
		sftpServer.KeyType = env.SftpKeyType
		if err = sftpServer.SetPrivateKeyFile(env.SftpKeyFile); err != nil {
			logger.Error("Error loading sftp host key", "error", err)
			os.Exit(1)
		}
		// try is the same of listen and serve but with a timeout if no error is returned it returns nil
		if err = sftpServer.TryListenAndServe(time.Second); err != nil {
			logger.Error("Error starting sftp server", "error", err)
			os.Exit(1)
		}
		logger.Info("SFTP server started", "addr", env.SftpAddr)
	}

	// http status server
	var httpServer *httphandler.Server
	if env.HttpAddr != "" {
		handler := httphandler.NewStatusHandler(store, relayServer)
		handler.SetLogger(logger)
		httpServer = httphandler.NewServer(env.HttpAddr, handler)
		if err = httpServer.TryListenAndServe(time.Second); err != nil {
			logger.Error("Error starting http server", "error", err)
			os.Exit(1)
		}
		logger.Info("HTTP server started", "addr", env.HttpAddr)
	}

	// graceful shutdown all servers
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stopChan:
		relayServer.Close(errors.New("relay server closed by signal " + sig.String()))
		<-relayDone
	case err = <-relayDone:
		logger.Error("Relay server stopped", "error", err)
	}

	if sftpServer != nil {
		sftpServer.Close()
	}
	if httpServer != nil {
		httpServer.Close(5 * time.Second)
	}
}

func setupLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	AddSource := false
	switch os.Getenv("LOG_LEVEL") {

	case "DEBUG":
		logLevel = slog.LevelDebug
		AddSource = true
	case "INFO":
		logLevel = slog.LevelInfo
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	}

	handlerOptions := &tint.Options{
		AddSource:  AddSource,
		Level:      logLevel, // Only log messages of level INFO and above
		TimeFormat: time.DateTime,
	}

	handler := tint.NewHandler(os.Stdout, handlerOptions)

	logger := slog.New(handler).With("app", "chat-relay")
	logger.Info("Logger initialized", "level", logLevel)

	return logger
}
