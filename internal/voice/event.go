package voice

import (
	"encoding/json"
	"strings"
)

// ServerUpdateType is the type tag of gateway-style voice server updates.
const ServerUpdateType = "VOICE_SERVER_UPDATE"

// Hint is a region hint learned from a voice server update.
type Hint struct {
	TargetID string
	Endpoint string
	Region   string
}

type serverUpdate struct {
	GuildID      string `json:"guild_id"`
	GuildIDCamel string `json:"guildId"`
	Endpoint     string `json:"endpoint"`
}

func (u serverUpdate) targetID() string {
	if u.GuildID != "" {
		return u.GuildID
	}
	return u.GuildIDCamel
}

type envelope struct {
	serverUpdate
	Type  string        `json:"t"`
	Data  *serverUpdate `json:"d"`
	Event *serverUpdate `json:"event"`
}

// ParseHint extracts a hint from an opaque payload. Three shapes are accepted:
//
//	{"guild_id": "...", "endpoint": "..."}
//	{"t": "VOICE_SERVER_UPDATE", "d": {"guild_id": "...", "endpoint": "..."}}
//	{"event": {"guild_id": "...", "endpoint": "..."}}
//
// Anything else, including endpoints without a parseable region, reports false.
func ParseHint(payload []byte) (Hint, bool) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Hint{}, false
	}

	candidates := []serverUpdate{env.serverUpdate}
	if env.Data != nil && strings.EqualFold(env.Type, ServerUpdateType) {
		candidates = append(candidates, *env.Data)
	}
	if env.Event != nil {
		candidates = append(candidates, *env.Event)
	}

	for _, c := range candidates {
		target := c.targetID()
		if target == "" || c.Endpoint == "" {
			continue
		}
		region, ok := RegionFromEndpoint(c.Endpoint)
		if !ok {
			return Hint{}, false
		}
		return Hint{TargetID: target, Endpoint: c.Endpoint, Region: region}, true
	}
	return Hint{}, false
}
