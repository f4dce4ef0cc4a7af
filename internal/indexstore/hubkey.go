// Package indexstore is the Index Store Adapter (§4.6, §4.7): it turns
// validated identifier rows into Turtle writes, and bulk lookups into the
// hand-unrolled recursive SPARQL described in the design notes, against an
// external RDF/SPARQL-capable triple store reached over HTTP.
package indexstore

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Shared namespace declarations, used both to build the SPARQL prologue and
// the Turtle document prologue.
const (
	nsChubindex = "http://digicat.io/ns/chubindex/1.0/"
	nsOP        = "http://digicat.io/ns/op/1.0/"
	nsXSD       = "http://www.w3.org/2001/XMLSchema#"
	nsID        = "http://openpermissions.org/ns/id/"

	hubKeyIDType = "hub_key"
)

var sparqlPrefixes = strings.Join([]string{
	"PREFIX chubindex: <" + nsChubindex + ">",
	"PREFIX op: <" + nsOP + ">",
	"PREFIX xsd: <" + nsXSD + ">",
	"PREFIX id: <" + nsID + ">",
}, "\n")

var turtlePrefixes = strings.Join([]string{
	"@prefix chubindex: <" + nsChubindex + "> .",
	"@prefix op: <" + nsOP + "> .",
	"@prefix xsd: <" + nsXSD + "> .",
	"@prefix id: <" + nsID + "> .",
}, "\n")

// entityIDPattern matches the hex entity id chubindex assigns internally;
// used both for write-path row validation and hub-key entity id validation.
var entityIDPattern = regexp.MustCompile(`^[0-9a-f]{1,64}$`)

// idTypePattern is the allowed-character set for a (percent-encoded)
// source_id_type — conservative: letters, digits, and the characters
// percent-encoding itself can produce.
var idTypePattern = regexp.MustCompile(`^[A-Za-z0-9%_.-]{1,128}$`)

// HubKey is the parsed form of the structured URL the glossary calls a hub
// key: {scheme}/{hub}/{repo}/{kind}/{entity_id}, e.g.
// "https://opp.org/s1/hub1/<repo>/asset/<entity>".
type HubKey struct {
	Scheme   string
	Hub      string
	Repo     string
	Kind     string
	EntityID string
}

// ParseHubKey parses a hub key URL and validates that its entity id matches
// the internal entity id format. It never contacts the triple store — the
// resolution from hub key to entity is assumed to already be the live
// repository's concern; this just extracts the bare id embedded in the URL.
func ParseHubKey(raw string) (HubKey, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return HubKey{}, fmt.Errorf("parse hub key %q: %w", raw, err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 5 {
		return HubKey{}, fmt.Errorf("parse hub key %q: expected 5 path segments after host, got %d", raw, len(parts))
	}
	if !entityIDPattern.MatchString(parts[4]) {
		return HubKey{}, fmt.Errorf("parse hub key %q: entity id %q does not match the expected id format", raw, parts[4])
	}

	return HubKey{
		Scheme:   parts[0],
		Hub:      parts[1],
		Repo:     parts[2],
		Kind:     parts[3],
		EntityID: parts[4],
	}, nil
}

// parseHubKeyEntityID is the form used by the query planner: it extracts
// just the bare entity id, or an error if the key cannot be parsed or the
// id doesn't match the internal entity id pattern.
func parseHubKeyEntityID(raw string) (string, error) {
	// The original-system resolver also accepts an already-bare entity uri
	// under the id: namespace, stripping the namespace prefix if present.
	if strings.HasPrefix(raw, nsID) {
		raw = strings.TrimPrefix(raw, nsID)
	} else if u, err := url.Parse(raw); err == nil && u.Path != "" {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 1 {
			raw = parts[len(parts)-1]
		}
	}

	if !entityIDPattern.MatchString(raw) {
		return "", fmt.Errorf("hub key entity id %q does not match the expected id format", raw)
	}
	return raw, nil
}

// encodeID percent-encodes an identifier field the way the reference system
// does (quote_plus semantics: spaces become "+"). Go's url.QueryEscape has
// the identical encoding rules.
func encodeID(s string) string {
	return url.QueryEscape(s)
}

// decodeID reverses encodeID. Used on the way out, to echo back source_id /
// source_id_type exactly as the caller supplied them.
func decodeID(s string) (string, error) {
	return url.QueryUnescape(s)
}
