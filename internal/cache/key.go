package cache

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"

	"specpilot/internal/agent/ports"
	"specpilot/internal/shared/codec"
)

// DefaultPrefixLength is how many runes of the system prompt take part in the key.
const DefaultPrefixLength = 512

// Domain separation keys for BLAKE3 keyed hashing: the ASCII domain name,
// zero-padded to 32 bytes.
var (
	keyDomain = [32]byte{
		's', 'p', 'e', 'c', 'p', 'i', 'l', 'o', 't', '.', 'c', 'a', 'c', 'h', 'e', '.',
		'k', 'e', 'y',
	}
	historyDomain = [32]byte{
		's', 'p', 'e', 'c', 'p', 'i', 'l', 'o', 't', '.', 'c', 'a', 'c', 'h', 'e', '.',
		'h', 'i', 's', 't', 'o', 'r', 'y',
	}
)

// KeyInput is the effective prompt of one agent call.
type KeyInput struct {
	AgentType          string
	SystemPrompt       string
	UserMessage        string
	HistoryFingerprint string
}

type keyPayload struct {
	AgentType string `cbor:"1,keyasint"`
	System    string `cbor:"2,keyasint"`
	User      string `cbor:"3,keyasint"`
	History   string `cbor:"4,keyasint,omitempty"`
}

type historyItem struct {
	Role    string `cbor:"1,keyasint"`
	Content string `cbor:"2,keyasint"`
}

// KeyBuilder derives cache keys. Two calls whose system prompts agree on the
// first PrefixLength runes collide to the same key.
type KeyBuilder struct {
	PrefixLength int
}

// Key returns agentType:hex(blake3(cbor(input))).
func (b KeyBuilder) Key(in KeyInput) string {
	limit := b.PrefixLength
	if limit <= 0 {
		limit = DefaultPrefixLength
	}
	payload := keyPayload{
		AgentType: in.AgentType,
		System:    truncateRunes(in.SystemPrompt, limit),
		User:      in.UserMessage,
		History:   in.HistoryFingerprint,
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		// Only reachable for unencodable values; strings always encode.
		data = []byte(payload.AgentType + "\x00" + payload.System + "\x00" + payload.User + "\x00" + payload.History)
	}
	return in.AgentType + ":" + keyedHex(keyDomain, data)
}

// Key derives a cache key with the default prefix length.
func Key(in KeyInput) string {
	return KeyBuilder{}.Key(in)
}

// HistoryFingerprint hashes the role/content pairs of msgs. Timestamps are
// ignored so replayed conversations fingerprint identically.
func HistoryFingerprint(msgs []ports.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	items := make([]historyItem, len(msgs))
	for i, msg := range msgs {
		items[i] = historyItem{Role: msg.Role, Content: msg.Content}
	}
	data, err := codec.Marshal(items)
	if err != nil {
		return ""
	}
	return keyedHex(historyDomain, data)
}

// AgentTypeOf returns the agent prefix of a key produced by Key.
func AgentTypeOf(key string) string {
	agent, _, found := strings.Cut(key, ":")
	if !found {
		return ""
	}
	return agent
}

func keyedHex(domain [32]byte, data []byte) string {
	hasher, err := blake3.NewKeyed(domain[:])
	if err != nil {
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
	_, _ = hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
