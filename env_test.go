package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_GetEnv(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, env *Environment)
		wantErr bool
	}{
		{
			name: "defaults",
			check: func(t *testing.T, env *Environment) {
				assert.Equal(t, ":8888", env.RelayAddr)
				assert.Equal(t, ".", env.RelayRoot)
				assert.Equal(t, 100, env.MaxClients)
				assert.Equal(t, uint32(1<<20), env.MaxPayload)
				assert.Equal(t, 4096, env.ChunkSize)
				assert.True(t, env.ErrorReplies)
				assert.Empty(t, env.SftpAddr)
				assert.Empty(t, env.HttpAddr)
			},
		},
		{
			name: "overrides",
			env: map[string]string{
				"RELAY_ADDR":          "127.0.0.1:9999",
				"RELAY_ROOT":          "/srv/relay",
				"RELAY_MAX_CLIENTS":   "3",
				"RELAY_MAX_PAYLOAD":   "65536",
				"RELAY_CHUNK_SIZE":    "1024",
				"RELAY_ERROR_REPLIES": "false",
				"SFTP_SERVER_ADDR":    ":2022",
				"SFTP_KEY_TYPE":       "rsa",
				"HTTP_SERVER_ADDR":    ":8080",
			},
			check: func(t *testing.T, env *Environment) {
				assert.Equal(t, "127.0.0.1:9999", env.RelayAddr)
				assert.Equal(t, "/srv/relay", env.RelayRoot)
				assert.Equal(t, 3, env.MaxClients)
				assert.Equal(t, uint32(65536), env.MaxPayload)
				assert.Equal(t, 1024, env.ChunkSize)
				assert.False(t, env.ErrorReplies)
				assert.Equal(t, ":2022", env.SftpAddr)
				assert.Equal(t, "rsa", env.SftpKeyType)
				assert.Equal(t, ":8080", env.HttpAddr)
			},
		},
		{name: "bad clients", env: map[string]string{"RELAY_MAX_CLIENTS": "many"}, wantErr: true},
		{name: "zero clients", env: map[string]string{"RELAY_MAX_CLIENTS": "0"}, wantErr: true},
		{name: "chunk over payload", env: map[string]string{"RELAY_MAX_PAYLOAD": "100", "RELAY_CHUNK_SIZE": "200"}, wantErr: true},
		{name: "bad bool", env: map[string]string{"RELAY_ERROR_REPLIES": "maybe"}, wantErr: true},
	}

	keys := []string{
		"RELAY_ADDR", "RELAY_ROOT", "RELAY_MAX_CLIENTS", "RELAY_MAX_PAYLOAD", "RELAY_CHUNK_SIZE",
		"RELAY_ERROR_REPLIES", "SFTP_SERVER_ADDR", "SFTP_KEY_FILE", "SFTP_KEY_TYPE", "HTTP_SERVER_ADDR",
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range keys {
				t.Setenv(k, tt.env[k])
			}
			env, err := GetEnv(logger)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, env)
		})
	}
}
