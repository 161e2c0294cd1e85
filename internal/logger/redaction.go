package logger

import (
	"io"
	"regexp"
)

// Redactor masks credential material before it reaches any log or audit
// sink. Outbound requests carry vault-resolved secrets; none of them may
// survive into persisted text.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Bearer / OAuth2 access tokens
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/-]+=*`),

			// Basic auth blobs
			regexp.MustCompile(`Basic\s+[a-zA-Z0-9+/]+=*`),

			// API key headers
			regexp.MustCompile(`(?i)x-api-key["\s:=]+[^\s",}]+`),

			// Common secret-bearing fields
			regexp.MustCompile(`(?i)password["\s:=]+[^\s",}]+`),
			regexp.MustCompile(`(?i)client_secret["\s:=]+[^\s",}]+`),
			regexp.MustCompile(`(?i)api_key["\s:=]+[^\s",}]+`),
			regexp.MustCompile(`(?i)token["\s:=]+[a-zA-Z0-9._-]{16,}`),

			// AWS access key ids
			regexp.MustCompile(`AKIA[0-9A-Z]{16}`),

			// PEM blocks (mutual-tls client material)
			regexp.MustCompile(`-----BEGIN[A-Z ]+-----[^-]+-----END[A-Z ]+-----`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact masks sensitive material in a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap wraps an io.Writer so everything written through it is redacted
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	// Report the original length so zerolog doesn't treat the rewrite as a
	// short write.
	return len(p), nil
}
