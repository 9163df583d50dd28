package realtime

// DefaultAllow is the default voice-safe tool allow-set: categories safe
// to expose to a realtime voice agent without further configuration.
var DefaultAllow = []string{
	"context_lookup",
	"delegate_async_task",
	"retrieve_information",
	"set_reminder",
}

// DefaultDeny is the default voice-safe tool deny-set: categories never
// safe to expose to a voice agent regardless of config.
var DefaultDeny = []string{
	"file_io",
	"execute_code",
	"interactive_browser",
	"version_control",
	"long_running_deployment",
}

// ResultClampChars bounds the length of a tool result string returned to
// the model, per spec.md §4.11.
const ResultClampChars = 1000

// FilterTools applies the voice-safety policy: configAllow replaces
// DefaultAllow when non-empty; configDeny is unioned with DefaultDeny;
// deny always wins over allow. Tools lacking an executor entry in
// executable are suppressed entirely, since a tool that cannot run must
// never be advertised.
func FilterTools(all []ToolSpec, configAllow, configDeny []string, executable map[string]bool) []ToolSpec {
	allow := DefaultAllow
	if len(configAllow) > 0 {
		allow = configAllow
	}
	deny := set(DefaultDeny)
	for _, d := range configDeny {
		deny[d] = true
	}
	allowSet := set(allow)

	var out []ToolSpec
	for _, t := range all {
		if deny[t.Name] {
			continue
		}
		if !allowSet[t.Name] {
			continue
		}
		if !executable[t.Name] {
			continue
		}
		out = append(out, t)
	}
	return out
}

func set(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[i] = true
	}
	return m
}

// ClampResult truncates a tool result to ResultClampChars.
func ClampResult(result string) string {
	r := []rune(result)
	if len(r) <= ResultClampChars {
		return result
	}
	return string(r[:ResultClampChars])
}
