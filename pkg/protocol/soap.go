package protocol

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
)

// buildSOAP renders the endpoint's parameterized XML template with
// XML-escaped argument values and sets the SOAPAction header.
func buildSOAP(endpoint catalog.Endpoint, system catalog.System, args Arguments) (*Request, error) {
	body, err := renderSOAPTemplate(endpoint.SOAPTemplate, mergedArguments(args))
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Content-Type", "text/xml; charset=utf-8")
	if endpoint.SOAPAction != "" {
		header.Set("SOAPAction", endpoint.SOAPAction)
	}

	return &Request{
		Protocol: catalog.ProtocolSOAP,
		Method:   http.MethodPost,
		URL:      strings.TrimRight(system.BaseURL, "/"),
		Header:   header,
		Body:     []byte(body),
	}, nil
}

// renderSOAPTemplate substitutes {name} tokens with XML-escaped values.
// Escaping here is mandatory: argument values are attacker-controlled and
// must never be able to alter the envelope structure.
func renderSOAPTemplate(template string, params map[string]interface{}) (string, error) {
	var b strings.Builder
	rest := template
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		close := strings.Index(rest[open:], "}")
		if close < 0 {
			b.WriteString(rest)
			break
		}
		name := rest[open+1 : open+close]
		value, ok := params[name]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrMissingArgument, name)
		}
		b.WriteString(rest[:open])

		var escaped strings.Builder
		if err := xml.EscapeText(&escaped, []byte(fmt.Sprintf("%v", value))); err != nil {
			return "", fmt.Errorf("failed to escape soap argument %q: %w", name, err)
		}
		b.WriteString(escaped.String())

		rest = rest[open+close+1:]
	}
	return b.String(), nil
}
