package contextbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// RedactedMarker replaces every detected secret.
const RedactedMarker = "[REDACTED SECRET]"

// Redactor removes credentials from text before it leaves the service.
type Redactor interface {
	Redact(s string) (string, int)
}

// SecretRedactor redacts secrets found by the gitleaks default rule set.
type SecretRedactor struct{}

func NewSecretRedactor() SecretRedactor { return SecretRedactor{} }

// Redact returns s with each distinct detected secret replaced and the
// number of secrets removed. A detector that cannot be built leaves s intact.
func (SecretRedactor) Redact(s string) (string, int) {
	if strings.TrimSpace(s) == "" {
		return s, 0
	}
	// Detectors accumulate findings, so each call gets a fresh one.
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return s, 0
	}
	seen := map[string]bool{}
	var secrets []string
	for _, f := range d.DetectString(s) {
		if f.Secret == "" || seen[f.Secret] {
			continue
		}
		seen[f.Secret] = true
		secrets = append(secrets, f.Secret)
	}
	return redactAll(s, secrets)
}

// redactAll replaces the longest secrets first so overlapping matches do
// not leave fragments behind.
func redactAll(s string, secrets []string) (string, int) {
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })
	n := 0
	for _, secret := range secrets {
		if strings.Contains(s, secret) {
			s = strings.ReplaceAll(s, secret, RedactedMarker)
			n++
		}
	}
	return s, n
}

func redactionWarning(label string, n int) string {
	return fmt.Sprintf("%d secret(s) redacted from the %s", n, label)
}
