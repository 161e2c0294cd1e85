package protocol

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
)

// buildREST substitutes {name} tokens in the endpoint path, runs the URL
// containment guard over the result, then attaches query and JSON body.
func buildREST(endpoint catalog.Endpoint, system catalog.System, args Arguments) (*Request, error) {
	substituted, err := substitutePath(endpoint.Path, args.Path)
	if err != nil {
		return nil, err
	}

	resolved, err := containURL(system.BaseURL, substituted, args.Path)
	if err != nil {
		return nil, err
	}

	if len(args.Query) > 0 {
		values := url.Values{}
		for k, v := range args.Query {
			values.Set(k, v)
		}
		sep := "?"
		if strings.Contains(resolved, "?") {
			sep = "&"
		}
		resolved = resolved + sep + values.Encode()
	}

	req := &Request{
		Protocol: catalog.ProtocolREST,
		Method:   strings.ToUpper(endpoint.Method),
		URL:      resolved,
		Header:   http.Header{},
	}

	if len(args.Body) > 0 {
		body, err := json.Marshal(args.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		req.Body = body
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// substitutePath replaces {name} tokens with caller-supplied values. Values
// are NOT escaped here; the containment guard judges the substituted result
// as-is, which is exactly what an attacker-controlled value would produce.
func substitutePath(path string, params map[string]string) (string, error) {
	var b strings.Builder
	rest := path
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
		b.WriteString(value)
		rest = rest[open+close+1:]
	}
	return b.String(), nil
}
