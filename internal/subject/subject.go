// Package subject builds and parses the dot-separated NATS subjects the
// durable bus and router use: cmd.<tenant>.<workspace>.<agent>.<verb>,
// evt.<tenant>.<workspace>.<domain>.<name>, and failed.<original-subject>.
package subject

import "strings"

// ForCommand builds the unicast command subject for env.Type (a dotted name
// of the form "cmd.<agent>.<verb>"). A leading "cmd." is stripped before the
// scope is prefixed so adapter-chosen types never double-prefix.
func ForCommand(tenant, workspace, envType string) string {
	return "cmd." + tenant + "." + workspace + "." + strip(envType, "cmd.")
}

// ForEvent builds the broadcast event subject for env.Type (a dotted name of
// the form "evt.<domain>.<name>").
func ForEvent(tenant, workspace, envType string) string {
	return "evt." + tenant + "." + workspace + "." + strip(envType, "evt.")
}

// DeadLetter builds the DLQ subject for an originating subject.
func DeadLetter(originalSubject string) string {
	return "failed." + originalSubject
}

// CommandFilter builds a consumer filter subject for one agent within a
// scope: cmd.<tenant>.<workspace>.<agent>.>
func CommandFilter(tenant, workspace, agent string) string {
	return "cmd." + tenant + "." + workspace + "." + agent + ".>"
}

// TargetAgent extracts the target agent name from a command envelope type
// of the form "cmd.<agent>.<verb>". Returns "" if the type has no agent
// segment.
func TargetAgent(envType string) string {
	parts := strings.Split(strip(envType, "cmd."), ".")
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	return parts[0]
}

func strip(s, prefix string) string {
	return strings.TrimPrefix(s, prefix)
}
