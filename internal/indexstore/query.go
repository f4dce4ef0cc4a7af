package indexstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/openpermissions/chubindex/internal/domain"
)

// normalizedLookup is a domain.RepositoryLookup after the §4.6
// normalisation step: hub keys resolved to their bare entity id, general
// ids percent-encoded. orig is kept so the response can echo the caller's
// original, pre-encoded values.
type normalizedLookup struct {
	orig         domain.RepositoryLookup
	sourceID     string
	sourceIDType string
	isHubKey     bool
}

// normalizeLookup implements the per-input validation in §4.6: hub keys are
// parsed down to their bare entity id, everything else is percent-encoded.
// An error here means the whole query call is rejected with the offending
// input (§7).
func normalizeLookup(in domain.RepositoryLookup) (normalizedLookup, error) {
	if in.SourceID == "" || in.SourceIDType == "" {
		return normalizedLookup{}, fmt.Errorf("missing source_id or source_id_type")
	}
	if in.SourceIDType == hubKeyIDType {
		entityID, err := parseHubKeyEntityID(in.SourceID)
		if err != nil {
			return normalizedLookup{}, err
		}
		return normalizedLookup{orig: in, sourceID: entityID, sourceIDType: hubKeyIDType, isHubKey: true}, nil
	}
	return normalizedLookup{
		orig:         in,
		sourceID:     encodeID(in.SourceID),
		sourceIDType: encodeID(in.SourceIDType),
	}, nil
}

const level1RelSubquery = `
{
    SELECT ?via_hk ?via_id ?to_hk WHERE {
        %s .
        BIND (?entity_uri AS ?via_hk) .
        ?via_hk op:alsoIdentifiedBy ?via_id.
        ?via_id ^op:alsoIdentifiedBy? ?to_hk .
        FILTER (?to_hk != ?via_hk) .
    }
}
`

const outerRelSubquery = `
{ SELECT ?group (CONCAT("[", GROUP_CONCAT(?json;separator=","),"]") AS ?relations ) WHERE {
    BIND ( "constant" as ?group ) .
    { SELECT DISTINCT ?to_hk ?to_repo ?via_id ?via_id_id_value ?via_id_id_type ?via_hk WHERE {
       %s

       OPTIONAL { ?via_id chubindex:id ?via_id_id_value . }
       OPTIONAL { ?via_id chubindex:id_type ?via_id_id_type . }
       OPTIONAL { ?to_hk chubindex:repo ?to_repo . }
    }
}
BIND (CONCAT("{\"to\": {\"entity_id\": \"", STRAFTER(STR(?to_hk),STR(id:)) , "\", \"repository_id\": \"", ?to_repo,
             "\" }, \"via\": {\"source_id\" : \"", ?via_id_id_value, "\", \"source_id_type\": \"", ?via_id_id_type,
             "\", \"entity_id\" : \"", STRAFTER(STR(?via_hk),STR(id:)), "\" } }" ) AS ?json)
}
GROUP BY ?group
}
`

const queryTemplate = `
{
    {
        SELECT ?group (CONCAT("[", GROUP_CONCAT(?json; separator=","),"]") AS ?repositories ) {
           BIND ( "constant" as ?group ) .
           %s .
           ?entity_uri chubindex:repo ?repo_id .
           BIND (CONCAT("{\"repository_id\":\"",?repo_id,"\",\"entity_id\":\"",STRAFTER(STR(?entity_uri),STR(id:)),"\"}") AS ?json).
        } GROUP BY ?group
    }

    %s

    BIND ( %s AS ?source_id ) .
    BIND ( "%s" AS ?source_id_type ) .
}
`

func hubVar(i int) string {
	return "?via_hk" + strconv.Itoa(i)
}

func forbiddenHubs(n int) string {
	vars := make([]string, n)
	for i := 0; i < n; i++ {
		vars[i] = hubVar(i)
	}
	return strings.Join(vars, " , ")
}

// levelNRelSubquery reproduces LEVEL_N_REL_SUBQUERY verbatim, including its
// FILTER against ?origid — a variable the generated query never binds, so
// the filter is carried over exactly as the original relies on it, not
// second-guessed.
func levelNRelSubquery(fromHK, viaID, toHK, forbidden string) string {
	return fmt.Sprintf(`
%s op:alsoIdentifiedBy %s .
FILTER ( %s != ?origid ) .
%s  ^op:alsoIdentifiedBy %s .
FILTER ( %s NOT IN ( %s ) ) .
`, fromHK, viaID, viaID, viaID, toHK, toHK, forbidden)
}

// formatRelationSubquery builds the depth-N hand-unrolled relation
// expansion described in §9: arm k chains k+1 path bindings, each
// forbidding a revisit of any hub already on the path. maxDepth 0 disables
// expansion.
func formatRelationSubquery(initialQuery string, maxDepth int) string {
	if maxDepth <= 0 {
		return `BIND ("[]" AS ?relations) .`
	}

	arms := []string{fmt.Sprintf(level1RelSubquery, initialQuery)}

	for i := 1; i < maxDepth; i++ {
		var cexpr []string
		cexpr = append(cexpr, initialQuery+".")
		cexpr = append(cexpr, "BIND (?entity_uri AS ?via_hk0) .")

		for j := 0; j < i; j++ {
			cexpr = append(cexpr, levelNRelSubquery(hubVar(j), "?via_id"+strconv.Itoa(j+1), hubVar(j+1), forbiddenHubs(j+1)))
		}

		cexpr = append(cexpr, fmt.Sprintf("BIND (%s as ?via_hk) .", hubVar(i)))
		cexpr = append(cexpr, levelNRelSubquery(hubVar(i), "?via_id", "?to_hk", forbiddenHubs(i+1)))

		arms = append(arms, fmt.Sprintf("{ SELECT ?via_hk ?via_id ?to_hk WHERE { \n%s\n } }\n", strings.Join(cexpr, "\n")))
	}

	return fmt.Sprintf(outerRelSubquery, "{ "+strings.Join(arms, " UNION ")+" }")
}

// formatSubquery builds the full per-input SPARQL block: entity binding,
// relation expansion, repository aggregation, and the literal echo of the
// normalised source_id/source_id_type.
func formatSubquery(n normalizedLookup, maxDepth int) string {
	var initialQuery, sourceIDBind string
	if n.isHubKey {
		initialQuery = fmt.Sprintf("  BIND ( id:%s AS ?entity_uri ) ", n.sourceID)
		sourceIDBind = "id:" + n.sourceID
	} else {
		initialQuery = fmt.Sprintf("  <https://digicat.io/ns/xid/%s/%s> ^op:alsoIdentifiedBy ?entity_uri", n.sourceIDType, n.sourceID)
		sourceIDBind = `"` + n.sourceID + `"`
	}

	relQuery := formatRelationSubquery(initialQuery, maxDepth)

	return fmt.Sprintf(queryTemplate, initialQuery, relQuery, sourceIDBind, n.sourceIDType)
}

// BuildQuery normalises every input and, provided none are invalid, builds
// the combined SPARQL SELECT for the whole batch. Per §7, a single invalid
// input fails the whole call — invalid is non-empty exactly in that case,
// and sparql is empty.
func BuildQuery(inputs []domain.RepositoryLookup, maxDepth int) (sparql string, normalized []normalizedLookup, invalid []domain.RepositoryLookup) {
	var subqueries []string
	for _, in := range inputs {
		n, err := normalizeLookup(in)
		if err != nil {
			invalid = append(invalid, in)
			continue
		}
		normalized = append(normalized, n)
		subqueries = append(subqueries, formatSubquery(n, maxDepth))
	}

	if len(invalid) > 0 {
		return "", normalized, invalid
	}

	sparql = sparqlPrefixes + fmt.Sprintf(`
SELECT DISTINCT ?source_id ?source_id_type ?repositories ?relations
WHERE { %s }
ORDER BY ?source_id ?source_id_type
`, strings.Join(subqueries, " UNION "))

	return sparql, normalized, nil
}

type repositoryJSON struct {
	RepositoryID string `json:"repository_id"`
	EntityID     string `json:"entity_id"`
}

type relationJSON struct {
	To struct {
		EntityID     string `json:"entity_id"`
		RepositoryID string `json:"repository_id"`
	} `json:"to"`
	Via struct {
		SourceID     string `json:"source_id"`
		SourceIDType string `json:"source_id_type"`
		EntityID     string `json:"entity_id"`
	} `json:"via"`
}

func normalizedKey(n normalizedLookup) [2]string {
	if n.isHubKey {
		return [2]string{hubKeyIDType, n.sourceID}
	}
	return [2]string{n.sourceIDType, n.sourceID}
}

func rowKey(sourceIDType, sourceID string) [2]string {
	if sourceIDType == hubKeyIDType {
		sourceID = strings.TrimPrefix(sourceID, nsID)
		if idx := strings.LastIndex(sourceID, "/"); idx >= 0 {
			sourceID = sourceID[idx+1:]
		}
	}
	return [2]string{sourceIDType, sourceID}
}

// ParseResults decodes the triple store's result rows (as produced by
// BuildQuery's SELECT) and fills in an empty entry for every normalised
// input the store had no row for, so every input is represented exactly
// once in the returned slice, in the original input order.
func ParseResults(rows []map[string]string, normalized []normalizedLookup) ([]domain.LookupResult, error) {
	found := make(map[[2]string]domain.LookupResult, len(rows))

	for _, row := range rows {
		var repos []repositoryJSON
		if err := json.Unmarshal([]byte(row["repositories"]), &repos); err != nil {
			return nil, fmt.Errorf("decode repositories column: %w", err)
		}
		var rels []relationJSON
		if err := json.Unmarshal([]byte(row["relations"]), &rels); err != nil {
			return nil, fmt.Errorf("decode relations column: %w", err)
		}

		key := rowKey(row["source_id_type"], row["source_id"])

		lr := domain.LookupResult{SourceID: key[1], SourceIDType: key[0]}
		for _, r := range repos {
			lr.Repositories = append(lr.Repositories, domain.RepositoryRef{RepositoryID: r.RepositoryID, EntityID: r.EntityID})
		}
		for _, r := range rels {
			viaSourceID, err := decodeID(r.Via.SourceID)
			if err != nil {
				viaSourceID = r.Via.SourceID
			}
			viaSourceIDType, err := decodeID(r.Via.SourceIDType)
			if err != nil {
				viaSourceIDType = r.Via.SourceIDType
			}
			lr.Relations = append(lr.Relations, domain.Relation{
				To:  domain.RepositoryRef{RepositoryID: r.To.RepositoryID, EntityID: r.To.EntityID},
				Via: domain.RelationVia{SourceID: viaSourceID, SourceIDType: viaSourceIDType, EntityID: r.Via.EntityID},
			})
		}
		found[key] = lr
	}

	results := make([]domain.LookupResult, 0, len(normalized))
	for _, n := range normalized {
		key := normalizedKey(n)
		if lr, ok := found[key]; ok {
			// echo the caller's original values, not the store's encoded
			// echo, so reserved characters round-trip exactly (§8).
			if n.isHubKey {
				lr.SourceID = n.sourceID
				lr.SourceIDType = hubKeyIDType
			} else {
				lr.SourceID = n.orig.SourceID
				lr.SourceIDType = n.orig.SourceIDType
			}
			results = append(results, lr)
			continue
		}

		empty := domain.LookupResult{Repositories: nil, Relations: nil}
		if n.isHubKey {
			empty.SourceID = n.sourceID
			empty.SourceIDType = hubKeyIDType
		} else {
			empty.SourceID = n.orig.SourceID
			empty.SourceIDType = n.orig.SourceIDType
		}
		results = append(results, empty)
	}

	return results, nil
}
