package indexstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/openpermissions/chubindex/internal/domain"
)

const findEntityTemplate = `
SELECT DISTINCT ?s
WHERE {?s ?p ?o;
<http://digicat.io/ns/chubindex/1.0/repo> "%s"^^xsd:string.
	?o  	<http://digicat.io/ns/chubindex/1.0/id>  ?id;
<http://digicat.io/ns/chubindex/1.0/id_type>  ?idtype
		.
		VALUES (?id ?idtype) {
		%s
		}
	}
`

const sourceIDFilterTemplate = `("%s"^^xsd:string "%s"^^xsd:string)
`

const findEntitySourceIdsTemplate = `
SELECT DISTINCT ?id ?idtype
WHERE {<%s> ?p ?o.
?o  	<http://digicat.io/ns/chubindex/1.0/id>  ?id;
<http://digicat.io/ns/chubindex/1.0/id_type> ?idtype.}
`

const countMatchesTemplate = `
SELECT (COUNT(?s) AS ?count)
WHERE {?s ?p ?o.
		?o
           <http://digicat.io/ns/chubindex/1.0/id> "%s"^^xsd:string;
			<http://digicat.io/ns/chubindex/1.0/id_type> "%s"^^xsd:string
			.
      FILTER NOT EXISTS {<%s> ?p ?o}
                 }
`

const deleteIDTriplesTemplate = `
DELETE
WHERE {?s
           <http://digicat.io/ns/chubindex/1.0/id> "%s"^^xsd:string;
			<http://digicat.io/ns/chubindex/1.0/id_type> "%s"^^xsd:string;
      ?p ?o.}
`

const deleteEntityTripleTemplate = `
DELETE
WHERE {
<%s> ?p ?o}
`

// assetIDTypeHubPrefix is stripped from an asset's stored id_type before
// comparing it against a query input's source_id_type — the store
// represents hub-scoped id types under this namespace.
const assetIDTypeHubPrefix = "http://openpermissions.org/ns/hub/"

type idAndType struct {
	SourceID     string
	SourceIDType string
}

func (c *Client) getMatchingEntities(ctx context.Context, ids []normalizedLookup, repositoryID string) ([]string, error) {
	var filters strings.Builder
	for _, id := range ids {
		filters.WriteString(fmt.Sprintf(sourceIDFilterTemplate, id.sourceID, id.sourceIDType))
	}

	query := sparqlPrefixes + fmt.Sprintf(findEntityTemplate, repositoryID, filters.String())
	rows, err := c.runQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	entities := make([]string, 0, len(rows))
	for _, row := range rows {
		entities = append(entities, row["s"])
	}
	return entities, nil
}

func (c *Client) getEntityIdsAndTypes(ctx context.Context, entityID string) ([]idAndType, error) {
	query := sparqlPrefixes + fmt.Sprintf(findEntitySourceIdsTemplate, entityID)
	rows, err := c.runQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	result := make([]idAndType, 0, len(rows))
	for _, row := range rows {
		result = append(result, idAndType{SourceID: row["id"], SourceIDType: row["idtype"]})
	}
	return result, nil
}

func (c *Client) countMatchesNotIncluding(ctx context.Context, id idAndType, entityID string) (int, error) {
	query := sparqlPrefixes + fmt.Sprintf(countMatchesTemplate, id.SourceID, id.SourceIDType, entityID)
	rows, err := c.runQuery(ctx, query)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	count, err := strconv.Atoi(rows[0]["count"])
	if err != nil {
		return 0, fmt.Errorf("parse match count: %w", err)
	}
	return count, nil
}

func (c *Client) deleteIDTriples(ctx context.Context, id idAndType) error {
	query := sparqlPrefixes + fmt.Sprintf(deleteIDTriplesTemplate, id.SourceID, id.SourceIDType)
	return c.runUpdate(ctx, query)
}

func (c *Client) deleteEntityTriples(ctx context.Context, entityID string) error {
	query := sparqlPrefixes + fmt.Sprintf(deleteEntityTripleTemplate, entityID)
	return c.runUpdate(ctx, query)
}

// checkIdentifiersIdentical reports whether search (the caller's
// normalised delete request) and assets (the entity's stored identifiers)
// describe exactly the same id set, modulo the hub-scoped id_type prefix
// the store adds to its own rows.
func checkIdentifiersIdentical(search []normalizedLookup, assets []idAndType) bool {
	searchSet := make(map[[2]string]bool, len(search))
	for _, s := range search {
		searchSet[[2]string{s.sourceIDType, s.sourceID}] = true
	}

	assetSet := make(map[[2]string]bool, len(assets))
	for _, a := range assets {
		assetSet[[2]string{strings.TrimPrefix(a.SourceIDType, assetIDTypeHubPrefix), a.SourceID}] = true
	}

	if len(searchSet) != len(assetSet) {
		return false
	}
	for k := range searchSet {
		if !assetSet[k] {
			return false
		}
	}
	return true
}

// Delete implements the deletion endpoint's core (§6): it finds every
// entity in repositoryID matching the given id set, and for each entity
// whose full identifier set exactly matches the request, deletes the
// identifier triples not shared with any other entity, then the entity
// triples themselves. entityType is accepted for symmetry with the
// inbound endpoint's path but — matching the reference system, where it is
// computed and then never referenced — plays no part in the delete query
// itself.
func (c *Client) Delete(ctx context.Context, entityType string, ids []domain.RepositoryLookup, repositoryID string) (invalid []domain.RepositoryLookup, err error) {
	_ = entityType

	var normalized []normalizedLookup
	for _, in := range ids {
		n, err := normalizeLookup(in)
		if err != nil {
			invalid = append(invalid, in)
			continue
		}
		normalized = append(normalized, n)
	}
	if len(invalid) > 0 {
		return invalid, nil
	}

	entities, err := c.getMatchingEntities(ctx, normalized, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("find matching entities: %w", err)
	}

	for _, entity := range entities {
		idsAndTypes, err := c.getEntityIdsAndTypes(ctx, entity)
		if err != nil {
			return nil, fmt.Errorf("load identifiers for entity %s: %w", entity, err)
		}
		if !checkIdentifiersIdentical(normalized, idsAndTypes) {
			continue
		}

		for _, id := range idsAndTypes {
			count, err := c.countMatchesNotIncluding(ctx, id, entity)
			if err != nil {
				return nil, fmt.Errorf("count shared identifiers: %w", err)
			}
			if count == 0 {
				if err := c.deleteIDTriples(ctx, id); err != nil {
					return nil, fmt.Errorf("delete identifier triples: %w", err)
				}
			}
		}

		if err := c.deleteEntityTriples(ctx, entity); err != nil {
			return nil, fmt.Errorf("delete entity triples: %w", err)
		}
	}

	return nil, nil
}
