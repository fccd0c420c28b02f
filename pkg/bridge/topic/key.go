// Package topic builds the period-joined subject keys used to index the
// endpoint pool and to match inbound frames against live subscriptions.
package topic

import "strings"

// MaxKeyLength mirrors wire.MaxSubjectLength: a generated key is itself
// put on the wire as a subject, so it is bound by the same limit.
const MaxKeyLength = 256

// GenerateKey joins root, source and topic with '.', skipping any
// component that is empty. At least one component must be non-empty;
// callers that have nothing meaningful to key on should not call this.
func GenerateKey(root, source, topicName string) string {
	parts := make([]string, 0, 3)
	if root != "" {
		parts = append(parts, root)
	}
	if source != "" {
		parts = append(parts, source)
	}
	if topicName != "" {
		parts = append(parts, topicName)
	}
	return strings.Join(parts, ".")
}
