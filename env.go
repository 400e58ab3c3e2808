package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/telebroad/chatrelay/relay"
	"github.com/telebroad/chatrelay/wire"
)

// Environment is the environment of the server
type Environment struct {
	RelayAddr    string
	RelayRoot    string
	MaxClients   int
	MaxPayload   uint32
	ChunkSize    int
	ErrorReplies bool
	SftpAddr     string
	SftpKeyFile  string
	SftpKeyType  string
	HttpAddr     string
}

// GetEnv returns a new Environment with the environment variables
func GetEnv(logger *slog.Logger) (env *Environment, err error) {
	env = &Environment{
		RelayAddr:    relay.DefaultAddr,
		RelayRoot:    ".",
		MaxClients:   relay.DefaultMaxClients,
		MaxPayload:   wire.DefaultMaxPayload,
		ChunkSize:    wire.ChunkSize,
		ErrorReplies: true,
	}

	if v := os.Getenv("RELAY_ADDR"); v != "" {
		env.RelayAddr = v
	}
	if v := os.Getenv("RELAY_ROOT"); v != "" {
		env.RelayRoot = v
	}
	logger.Debug("RELAY_ADDR is", "ADDR", env.RelayAddr)
	logger.Debug("RELAY_ROOT is", "ROOT", env.RelayRoot)

	if env.MaxClients, err = positiveInt("RELAY_MAX_CLIENTS", env.MaxClients); err != nil {
		return nil, err
	}
	maxPayload, err := positiveInt("RELAY_MAX_PAYLOAD", int(env.MaxPayload))
	if err != nil {
		return nil, err
	}
	if int64(maxPayload) > int64(^uint32(0)) {
		return nil, fmt.Errorf("RELAY_MAX_PAYLOAD %d does not fit the 32 bit length field", maxPayload)
	}
	env.MaxPayload = uint32(maxPayload)
	if env.ChunkSize, err = positiveInt("RELAY_CHUNK_SIZE", env.ChunkSize); err != nil {
		return nil, err
	}
	if uint32(env.ChunkSize) > env.MaxPayload {
		return nil, fmt.Errorf("RELAY_CHUNK_SIZE %d is bigger than RELAY_MAX_PAYLOAD %d", env.ChunkSize, env.MaxPayload)
	}
	logger.Debug("limits are", "MAX_CLIENTS", env.MaxClients, "MAX_PAYLOAD", env.MaxPayload, "CHUNK_SIZE", env.ChunkSize)

	if v := os.Getenv("RELAY_ERROR_REPLIES"); v != "" {
		env.ErrorReplies, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("error parsing RELAY_ERROR_REPLIES: %w", err)
		}
	}
	logger.Debug("RELAY_ERROR_REPLIES is", "enabled", env.ErrorReplies)

	env.SftpAddr = os.Getenv("SFTP_SERVER_ADDR")
	env.SftpKeyFile = os.Getenv("SFTP_KEY_FILE")
	env.SftpKeyType = os.Getenv("SFTP_KEY_TYPE")
	logger.Debug("SFTP_SERVER_ADDR is", "ADDR", env.SftpAddr)
	logger.Debug("SFTP_KEY_FILE is ", "file", env.SftpKeyFile)

	env.HttpAddr = os.Getenv("HTTP_SERVER_ADDR")
	logger.Debug("HTTP_SERVER_ADDR is", "ADDR", env.HttpAddr)

	return env, nil
}

func positiveInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("error parsing %s: %w", name, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", name, n)
	}
	return n, nil
}
