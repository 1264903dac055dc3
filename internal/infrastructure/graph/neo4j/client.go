package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/infrastructure/resilience"
)

const (
	cypherByTechnology = `MATCH (e:Expert)-[r:USES]->(t:Technology {key: $key})
RETURN e.id AS id
ORDER BY r.projects DESC, e.id ASC
LIMIT $limit`

	cypherByTechnologies = `MATCH (e:Expert)-[:USES]->(t:Technology)
WHERE t.key IN $keys
WITH e, count(DISTINCT t) AS matched
RETURN e.id AS id
ORDER BY matched DESC, e.id ASC
LIMIT $limit`

	cypherByDomain = `MATCH (e:Expert)-[:WORKED_IN]->(d:Domain {key: $key})
RETURN e.id AS id
ORDER BY e.id ASC
LIMIT $limit`

	cypherByCustomer = `MATCH (e:Expert)-[r:WORKED_FOR]->(c:Customer {key: $key})
RETURN e.id AS id
ORDER BY r.projects DESC, e.id ASC
LIMIT $limit`

	cypherUpsertExpert = `MERGE (e:Expert {id: $id})
SET e.name = $name, e.email = $email, e.seniority = $seniority
WITH e
OPTIONAL MATCH (e)-[old:USES|WORKED_IN|WORKED_FOR]->()
DELETE old
WITH DISTINCT e
FOREACH (tech IN $technologies |
  MERGE (t:Technology {key: tech.key}) ON CREATE SET t.name = tech.name
  MERGE (e)-[r:USES]->(t) SET r.projects = tech.projects)
FOREACH (dom IN $domains |
  MERGE (d:Domain {key: dom.key}) ON CREATE SET d.name = dom.name
  MERGE (e)-[:WORKED_IN]->(d))
FOREACH (cust IN $customers |
  MERGE (c:Customer {key: cust.key}) ON CREATE SET c.name = cust.name
  MERGE (e)-[r:WORKED_FOR]->(c) SET r.projects = cust.projects)`
)

// runner executes one Cypher statement and returns its records.
type runner func(ctx context.Context, cypher string, params map[string]any, write bool) ([]*neo4j.Record, error)

type Client struct {
	driver   neo4j.DriverWithContext
	run      runner
	executor *resilience.Executor
}

func New(ctx context.Context, uri, username, password, database string, executor *resilience.Executor) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	c := &Client{driver: driver, executor: executor}
	c.run = func(ctx context.Context, cypher string, params map[string]any, write bool) ([]*neo4j.Record, error) {
		opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithDatabase(database)}
		if !write {
			opts = append(opts, neo4j.ExecuteQueryWithReadersRouting())
		}
		result, err := neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer, opts...)
		if err != nil {
			return nil, err
		}
		return result.Records, nil
	}
	return c, nil
}

func newWithRunner(run runner, executor *resilience.Executor) *Client {
	return &Client{run: run, executor: executor}
}

func (c *Client) Close(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}
	return c.driver.Close(ctx)
}

func (c *Client) ByTechnology(ctx context.Context, technology string, limit int) ([]string, error) {
	key := termKey(technology)
	if key == "" || limit <= 0 {
		return nil, nil
	}
	return c.queryIDs(ctx, "by_technology", cypherByTechnology, map[string]any{"key": key, "limit": limit})
}

func (c *Client) ByTechnologies(ctx context.Context, technologies []string, limit int) ([]string, error) {
	keys := make([]string, 0, len(technologies))
	for _, tech := range domain.NormalizeTerms(technologies) {
		keys = append(keys, termKey(tech))
	}
	if len(keys) == 0 || limit <= 0 {
		return nil, nil
	}
	return c.queryIDs(ctx, "by_technologies", cypherByTechnologies, map[string]any{"keys": keys, "limit": limit})
}

func (c *Client) ByDomain(ctx context.Context, domainName string, limit int) ([]string, error) {
	key := termKey(domainName)
	if key == "" || limit <= 0 {
		return nil, nil
	}
	return c.queryIDs(ctx, "by_domain", cypherByDomain, map[string]any{"key": key, "limit": limit})
}

func (c *Client) ByCustomer(ctx context.Context, customer string, limit int) ([]string, error) {
	key := termKey(customer)
	if key == "" || limit <= 0 {
		return nil, nil
	}
	return c.queryIDs(ctx, "by_customer", cypherByCustomer, map[string]any{"key": key, "limit": limit})
}

// UpsertExpert replaces the expert's outgoing edges with the ones derived from the profile.
func (c *Client) UpsertExpert(ctx context.Context, profile *domain.ExpertProfile) error {
	if profile == nil || strings.TrimSpace(profile.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "neo4j upsert expert", errors.New("profile id is required"))
	}
	params := map[string]any{
		"id":           profile.ID,
		"name":         profile.Name,
		"email":        profile.Email,
		"seniority":    profile.Seniority,
		"technologies": technologyEdges(profile),
		"domains":      termNodes(profile.Domains),
		"customers":    customerEdges(profile),
	}
	err := c.executor.Execute(ctx, "neo4j.upsert_expert", func(ctx context.Context) error {
		_, err := c.run(ctx, cypherUpsertExpert, params, true)
		return err
	}, classifyNeo4j)
	return resilience.WrapTemporary("neo4j upsert expert", err, classifyNeo4j)
}

func (c *Client) queryIDs(ctx context.Context, operation, cypher string, params map[string]any) ([]string, error) {
	records, err := resilience.Call(ctx, c.executor, "neo4j."+operation, func(ctx context.Context) ([]*neo4j.Record, error) {
		return c.run(ctx, cypher, params, false)
	}, classifyNeo4j)
	if err != nil {
		return nil, resilience.WrapTemporary("neo4j "+operation, err, classifyNeo4j)
	}

	ids := make([]string, 0, len(records))
	for _, record := range records {
		id, _, err := neo4j.GetRecordValue[string](record, "id")
		if err != nil {
			return nil, fmt.Errorf("neo4j %s: read id: %w", operation, err)
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func classifyNeo4j(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if neo4j.IsRetryable(err) || neo4j.IsConnectivityError(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func termKey(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

func termNodes(terms []string) []map[string]any {
	out := make([]map[string]any, 0, len(terms))
	for _, term := range domain.NormalizeTerms(terms) {
		out = append(out, map[string]any{"key": termKey(term), "name": term})
	}
	return out
}

// technologyEdges counts how many projects used each technology; listed technologies count at least once.
func technologyEdges(profile *domain.ExpertProfile) []map[string]any {
	counts := make(map[string]int)
	names := make(map[string]string)
	order := make([]string, 0)
	add := func(name string, projects int) {
		key := termKey(name)
		if key == "" {
			return
		}
		if _, ok := names[key]; !ok {
			names[key] = strings.TrimSpace(name)
			order = append(order, key)
		}
		counts[key] += projects
	}
	for _, tech := range profile.Technologies {
		add(tech, 0)
	}
	for _, project := range profile.Projects {
		for _, tech := range domain.NormalizeTerms(project.Technologies) {
			add(tech, 1)
		}
	}

	out := make([]map[string]any, 0, len(order))
	for _, key := range order {
		projects := counts[key]
		if projects == 0 {
			projects = 1
		}
		out = append(out, map[string]any{"key": key, "name": names[key], "projects": projects})
	}
	return out
}

func customerEdges(profile *domain.ExpertProfile) []map[string]any {
	counts := make(map[string]int)
	out := make([]map[string]any, 0)
	for _, project := range profile.Projects {
		key := termKey(project.Customer)
		if key == "" {
			continue
		}
		if counts[key] == 0 {
			out = append(out, map[string]any{"key": key, "name": strings.TrimSpace(project.Customer)})
		}
		counts[key]++
	}
	for _, edge := range out {
		edge["projects"] = counts[edge["key"].(string)]
	}
	return out
}
