package main

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/peerjs-signaling/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	switch {
	case slices.Contains(cfg.AllowedOrigins, "*"):
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (any site may open signaling sessions)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	case len(cfg.AllowedOrigins) == 0 && cfg.Mode == config.ModeProd:
		logger.Warn("startup security warning: ALLOWED_ORIGINS is empty while --mode=prod (any site may open signaling sessions)",
			"warning_code", "allowed_origins_unset_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSignalingMessagesPerSecond == 0 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGES_PER_SECOND=0 disables per-connection rate limiting while --mode=prod",
			"warning_code", "signaling_rate_limit_disabled_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (each queued frame may hold this much memory per connection)",
			"warning_code", "signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"signaling_send_queue_length", cfg.SignalingSendQueueLength,
			"mode", cfg.Mode,
		)
	}

	if n := countStaticTURNCredentials(cfg.ICEServers); n > 0 {
		logger.Warn("startup security warning: static TURN credentials are served to every client on /peerjs/ice",
			"warning_code", "static_turn_credentials_public",
			"turn_servers_with_credentials", n,
			"mode", cfg.Mode,
		)
	}
}

func countStaticTURNCredentials(servers []webrtc.ICEServer) int {
	n := 0
	for _, server := range servers {
		if !iceServerHasTURNURL(server) {
			continue
		}
		if cred, ok := server.Credential.(string); ok && strings.TrimSpace(cred) != "" {
			n++
		}
	}
	return n
}

func iceServerHasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
