package model

import "strings"

// UsageProvider identifies a usage-limit source.
type UsageProvider string

const (
	ProviderCodex  UsageProvider = "codex"
	ProviderClaude UsageProvider = "claude"
)

// AllProviders returns every known provider in display order.
func AllProviders() []UsageProvider {
	return []UsageProvider{ProviderCodex, ProviderClaude}
}

// ParseProvider resolves a provider identifier, accepting common aliases.
func ParseProvider(s string) (UsageProvider, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "codex", "chatgpt", "chatgpt-codex", "chatgptcodex":
		return ProviderCodex, true
	case "claude", "claude-code", "claudecode":
		return ProviderClaude, true
	}
	return "", false
}

// Valid reports whether p is a known provider.
func (p UsageProvider) Valid() bool {
	return p == ProviderCodex || p == ProviderClaude
}

// DisplayName returns the human-readable provider name.
func (p UsageProvider) DisplayName() string {
	switch p {
	case ProviderCodex:
		return "ChatGPT Codex"
	case ProviderClaude:
		return "Claude Code"
	default:
		return string(p)
	}
}

// Origin returns the API origin the provider's usage endpoints live under.
func (p UsageProvider) Origin() string {
	switch p {
	case ProviderCodex:
		return "https://chatgpt.com"
	case ProviderClaude:
		return "https://claude.ai"
	default:
		return ""
	}
}

// UsagePageURL returns the web page whose session authenticates usage calls.
func (p UsageProvider) UsagePageURL() string {
	switch p {
	case ProviderCodex:
		return "https://chatgpt.com/codex/settings/usage"
	case ProviderClaude:
		return "https://claude.ai/settings/usage"
	default:
		return ""
	}
}

// UsageHost is the host a session must be on before a fetch may run.
func (p UsageProvider) UsageHost() string {
	switch p {
	case ProviderCodex:
		return "chatgpt.com"
	case ProviderClaude:
		return "claude.ai"
	default:
		return ""
	}
}

// StorageKey returns the stable key used for snapshot filenames and
// settings namespacing. This is a wire contract shared with widget
// binaries and shell scripts; do not rename.
func (p UsageProvider) StorageKey() string {
	return string(p)
}

// AgentLabel returns the launchd job label for the provider's wake-up agent.
func (p UsageProvider) AgentLabel() string {
	return "com.quotabar.wakeup." + string(p)
}

func (p UsageProvider) String() string { return string(p) }
