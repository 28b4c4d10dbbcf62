package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(lookupMap(nil), nil)
	require.NoError(t, err)

	require.Equal(t, ModeDev, cfg.Mode)
	require.Equal(t, LogFormatText, cfg.LogFormat)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	require.Equal(t, NamespaceModeHost, cfg.NamespaceMode)
	require.Equal(t, DefaultSignalingWSIdleTimeout, cfg.SignalingWSIdleTimeout)
	require.Equal(t, DefaultSignalingWSPingInterval, cfg.SignalingWSPingInterval)
	require.Equal(t, DefaultMaxSignalingMessageBytes, cfg.MaxSignalingMessageBytes)
	require.Equal(t, DefaultMaxSignalingMessagesPerSecond, cfg.MaxSignalingMessagesPerSecond)
	require.Equal(t, DefaultSignalingSendQueueLength, cfg.SignalingSendQueueLength)
	require.Empty(t, cfg.AllowedOrigins)
	require.Empty(t, cfg.ICEServers)
}

func TestDefaultsProd(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarMode: "prod"}), nil)
	require.NoError(t, err)
	require.Equal(t, ModeProd, cfg.Mode)
	require.Equal(t, LogFormatJSON, cfg.LogFormat)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestFlagsOverrideEnv(t *testing.T) {
	env := map[string]string{
		envVarListenAddr:             "0.0.0.0:1",
		envVarSignalingWSIdleTimeout: "30s",
	}
	cfg, err := load(lookupMap(env), []string{
		"--listen-addr", "127.0.0.1:2",
		"--signaling-ws-idle-timeout=10s",
		"--signaling-ws-ping-interval=2s",
		"--namespace-mode=single",
		"--namespace=lobby",
	})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:2", cfg.ListenAddr)
	require.Equal(t, 10*time.Second, cfg.SignalingWSIdleTimeout)
	require.Equal(t, 2*time.Second, cfg.SignalingWSPingInterval)
	require.Equal(t, NamespaceModeSingle, cfg.NamespaceMode)
	require.Equal(t, "lobby", cfg.NamespaceFor("anything.example:443"))
}

func TestNamespaceForHost(t *testing.T) {
	cfg := Config{NamespaceMode: NamespaceModeHost}
	require.Equal(t, "peers.example.com", cfg.NamespaceFor(" Peers.Example.com "))
}

func TestHelpFlag(t *testing.T) {
	_, err := load(lookupMap(nil), []string{"--help"})
	require.True(t, errors.Is(err, pflag.ErrHelp), "err=%v", err)
}

func TestInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"mode", map[string]string{envVarMode: "staging"}, nil},
		{"log level", nil, []string{"--log-level=loud"}},
		{"log format", nil, []string{"--log-format=xml"}},
		{"namespace mode", nil, []string{"--namespace-mode=room"}},
		{"empty single namespace", nil, []string{"--namespace-mode=single", "--namespace= "}},
		{"idle duration", map[string]string{envVarSignalingWSIdleTimeout: "soon"}, nil},
		{"ping not below idle", nil, []string{"--signaling-ws-idle-timeout=5s", "--signaling-ws-ping-interval=5s"}},
		{"message bytes", map[string]string{envVarMaxSignalingMessageBytes: "0"}, nil},
		{"rate", map[string]string{envVarMaxSignalingMessagesPerSecond: "-1"}, nil},
		{"queue", map[string]string{envVarSignalingSendQueueLength: "0"}, nil},
		{"origin", map[string]string{envVarAllowedOrigins: "example.com"}, nil},
		{"origin path", map[string]string{envVarAllowedOrigins: "https://example.com/app"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupMap(tc.env), tc.args)
			require.Error(t, err)
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "https://App.example.com/, *, https://*.peers.example.com",
	}), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"https://app.example.com", "*", "https://*.peers.example.com"}, cfg.AllowedOrigins)
}

func TestNewLogger(t *testing.T) {
	for _, f := range []LogFormat{LogFormatText, LogFormatJSON} {
		logger, err := NewLogger(Config{LogFormat: f, LogLevel: slog.LevelInfo})
		require.NoError(t, err)
		require.NotNil(t, logger)
	}
	_, err := NewLogger(Config{LogFormat: "xml"})
	require.Error(t, err)
}
