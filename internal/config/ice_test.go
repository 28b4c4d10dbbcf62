package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {"urls": "stun:stun.example.com:3478"},
	  {"urls": ["turn:turn.example.com:3478?transport=udp", " "], "username": "user", "credential": "pass"}
	]`

	servers, err := ParseICEServersJSON(raw)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	require.Equal(t, []string{"stun:stun.example.com:3478"}, servers[0].URLs)
	require.Equal(t, []string{"turn:turn.example.com:3478?transport=udp"}, servers[1].URLs)
	require.Equal(t, "user", servers[1].Username)
	require.Equal(t, "pass", servers[1].Credential)
}

func TestParseICEServersJSON_Rejects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`{}`,
		`[{"urls": []}]`,
		`[{"urls": "http://example.com"}]`,
		`[{"urls": "turn:turn.example.com"}]`,
		`[{"urls": "turn:turn.example.com", "username": "u"}]`,
	} {
		_, err := ParseICEServersJSON(raw)
		require.Error(t, err, raw)
	}
}

func TestParseICEServersFromURLs(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromURLs("stun:a.example.com, stun:b.example.com", "turns:t.example.com", "u", "p")
	require.NoError(t, err)
	require.Len(t, servers, 2)
	require.Equal(t, []string{"stun:a.example.com", "stun:b.example.com"}, servers[0].URLs)
	require.Equal(t, "u", servers[1].Username)

	_, err = ParseICEServersFromURLs("", "turn:t.example.com", "u", "")
	require.Error(t, err)

	servers, err = ParseICEServersFromURLs("", "", "", "")
	require.NoError(t, err)
	require.Empty(t, servers)
}

func TestICEServersJSONWinsOverURLs(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envICEServersJSON: `[{"urls":"stun:json.example.com"}]`,
		envStunURLs:       "stun:env.example.com",
	}), nil)
	require.NoError(t, err)
	require.Len(t, cfg.ICEServers, 1)
	require.Equal(t, []string{"stun:json.example.com"}, cfg.ICEServers[0].URLs)
}
