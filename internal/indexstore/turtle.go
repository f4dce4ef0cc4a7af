package indexstore

import (
	"fmt"
	"strings"

	"github.com/openpermissions/chubindex/internal/domain"
)

const rowTemplate = `
<https://digicat.io/ns/xid/%[1]s/%[2]s>
chubindex:id "%[2]s"^^xsd:string ;
chubindex:id_type "%[1]s"^^xsd:string .

<%[3]s> op:alsoIdentifiedBy <https://digicat.io/ns/xid/%[1]s/%[2]s>;
chubindex:repo "%[4]s"^^xsd:string ;
chubindex:type "%[5]s"^^xsd:string .
`

// BuildTurtle validates rows per §4.7 and renders the accepted ones into a
// single Turtle document ready to POST to the triple store. Invalid rows
// are dropped and reported in the result's Errors, never aborting the
// batch.
func BuildTurtle(entityType string, rows []domain.IdentifierRow, repoID string) (string, domain.WriteResult) {
	var body strings.Builder
	body.WriteString(turtlePrefixes)

	result := domain.WriteResult{}
	encodedEntityType := encodeID(entityType)

	for _, row := range rows {
		if row.EntityID == "" || row.SourceID == "" || row.SourceIDType == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("missing field, skipping record %+v", row))
			continue
		}
		if !entityIDPattern.MatchString(row.EntityID) {
			result.Errors = append(result.Errors, fmt.Sprintf("skipping record %s - invalid id", row.EntityID))
			continue
		}

		encodedType := encodeID(row.SourceIDType)
		encodedID := encodeID(row.SourceID)

		if !idTypePattern.MatchString(encodedType) {
			result.Errors = append(result.Errors, fmt.Sprintf("skipping record %s - invalid id type %q", row.EntityID, encodedType))
			continue
		}
		if !entityIDLikeHubEntity(encodedID) {
			result.Errors = append(result.Errors, fmt.Sprintf("skipping record %s - invalid source id %q", row.EntityID, encodedID))
			continue
		}

		entityURI := nsID + row.EntityID
		body.WriteString(fmt.Sprintf(rowTemplate, encodedType, encodedID, entityURI, repoID, encodedEntityType))
		result.Records++
	}

	return strings.TrimSpace(body.String()), result
}

// entityIDLikeHubEntity relaxes entityIDPattern to allow the percent-encoded
// characters ("%" and "+") a general source id may contain once encoded,
// while still rejecting empty or absurdly long values.
func entityIDLikeHubEntity(s string) bool {
	if s == "" || len(s) > 256 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '%' || r == '+' || r == '-' || r == '.' || r == '_' || r == '~':
		default:
			return false
		}
	}
	return true
}
