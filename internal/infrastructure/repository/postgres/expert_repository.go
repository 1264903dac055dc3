package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/expert-match/internal/core/domain"
)

const pgUniqueViolation = "23505"

const expertColumns = `id, name, email, seniority, title, skills, technologies, domains, projects, bio, cv_path, metadata, status, error_message, created_at, updated_at`

// ExpertRepository persists expert profiles and serves keyword search and enrichment.
type ExpertRepository struct {
	db *sql.DB
}

func NewExpertRepository(db *sql.DB) *ExpertRepository {
	return &ExpertRepository{db: db}
}

func (r *ExpertRepository) Create(ctx context.Context, profile *domain.ExpertProfile) error {
	args, err := profileArgs(profile)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO experts (
	id, name, email, seniority, title, skills, technologies, technologies_lc, domains, projects, bio, cv_path, metadata, search_text, status, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`, append(args, string(profile.Status), profile.Error, profile.CreatedAt, profile.UpdatedAt)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.WrapError(domain.ErrInvalidInput, "insert expert", fmt.Errorf("expert with email %q already exists", profile.Email))
		}
		return fmt.Errorf("insert expert: %w", err)
	}
	return nil
}

func (r *ExpertRepository) GetByID(ctx context.Context, id string) (*domain.ExpertProfile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+expertColumns+` FROM experts WHERE id = $1`, id)
	profile, err := scanExpert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrExpertNotFound, "get expert", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return profile, nil
}

func (r *ExpertRepository) Update(ctx context.Context, profile *domain.ExpertProfile) error {
	args, err := profileArgs(profile)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE experts
SET name = $2, email = $3, seniority = $4, title = $5, skills = $6, technologies = $7, technologies_lc = $8,
	domains = $9, projects = $10, bio = $11, cv_path = $12, metadata = $13, search_text = $14,
	status = $15, error_message = $16, updated_at = $17
WHERE id = $1
`, append(args, string(profile.Status), profile.Error, time.Now().UTC())...)
	if err != nil {
		return fmt.Errorf("update expert: %w", err)
	}
	return requireAffected(res, "update expert", profile.ID)
}

func (r *ExpertRepository) UpdateStatus(ctx context.Context, id string, status domain.ExpertStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE experts
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update expert status: %w", err)
	}
	return requireAffected(res, "update expert status", id)
}

// ByKeywords ranks experts by full-text match of any keyword against the profile document.
func (r *ExpertRepository) ByKeywords(ctx context.Context, keywords []string, limit int) ([]string, error) {
	query := websearchQuery(keywords)
	if query == "" || limit <= 0 {
		return nil, nil
	}
	return r.queryIDs(ctx, "keyword search", `
SELECT e.id
FROM experts e, websearch_to_tsquery('simple', $1) q
WHERE e.search_document @@ q
ORDER BY ts_rank(e.search_document, q) DESC, e.id ASC
LIMIT $2
`, query, limit)
}

// ByTechnologies ranks experts by how many of the requested technologies they list.
func (r *ExpertRepository) ByTechnologies(ctx context.Context, technologies []string, limit int) ([]string, error) {
	keys := lowerTerms(technologies)
	if len(keys) == 0 || limit <= 0 {
		return nil, nil
	}
	keysJSON, err := jsonArg(keys)
	if err != nil {
		return nil, fmt.Errorf("marshal technology keys: %w", err)
	}
	return r.queryIDs(ctx, "technology search", `
WITH wanted AS (SELECT jsonb_array_elements_text($1::jsonb) AS tech)
SELECT e.id
FROM experts e
WHERE e.technologies_lc ?| ARRAY(SELECT tech FROM wanted)
ORDER BY (
	SELECT count(*) FROM jsonb_array_elements_text(e.technologies_lc) t WHERE t IN (SELECT tech FROM wanted)
) DESC, e.id ASC
LIMIT $2
`, keysJSON, limit)
}

// LoadExpertDetails returns contexts in the order of expertIDs; unknown ids are skipped.
func (r *ExpertRepository) LoadExpertDetails(ctx context.Context, expertIDs []string) ([]domain.ExpertContext, error) {
	if len(expertIDs) == 0 {
		return []domain.ExpertContext{}, nil
	}
	idsJSON, err := jsonArg(expertIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal expert ids: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+expertColumns+`
FROM experts
WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))
`, idsJSON)
	if err != nil {
		return nil, fmt.Errorf("load expert details: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.ExpertContext, len(expertIDs))
	for rows.Next() {
		profile, err := scanExpert(rows)
		if err != nil {
			return nil, err
		}
		byID[profile.ID] = profile.Context()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expert details: %w", err)
	}

	out := make([]domain.ExpertContext, 0, len(byID))
	seen := make(map[string]struct{}, len(expertIDs))
	for _, id := range expertIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if expert, ok := byID[id]; ok {
			out = append(out, expert)
		}
	}
	return out, nil
}

func (r *ExpertRepository) queryIDs(ctx context.Context, operation, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", operation, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", operation, err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpert(row rowScanner) (*domain.ExpertProfile, error) {
	var p domain.ExpertProfile
	var skillsRaw, techRaw, domainsRaw, projectsRaw, metadataRaw []byte
	var status string

	err := row.Scan(
		&p.ID, &p.Name, &p.Email, &p.Seniority, &p.Title, &skillsRaw, &techRaw, &domainsRaw, &projectsRaw,
		&p.Bio, &p.CVPath, &metadataRaw, &status, &p.Error, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan expert: %w", err)
	}

	for _, field := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"skills", skillsRaw, &p.Skills},
		{"technologies", techRaw, &p.Technologies},
		{"domains", domainsRaw, &p.Domains},
		{"projects", projectsRaw, &p.Projects},
		{"metadata", metadataRaw, &p.Metadata},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return nil, fmt.Errorf("unmarshal expert %s: %w", field.name, err)
		}
	}
	p.Status = domain.ExpertStatus(status)
	return &p, nil
}

// profileArgs returns $1..$14 shared by insert and update.
func profileArgs(p *domain.ExpertProfile) ([]any, error) {
	if p == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "persist expert", errors.New("profile is nil"))
	}
	projects := p.Projects
	if projects == nil {
		projects = []domain.ProjectRef{}
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	encoded := make([]any, 0, 6)
	for _, v := range []any{
		nonNilSlice(p.Skills),
		nonNilSlice(p.Technologies),
		lowerTerms(p.Technologies),
		nonNilSlice(p.Domains),
		projects,
		metadata,
	} {
		raw, err := jsonArg(v)
		if err != nil {
			return nil, fmt.Errorf("marshal expert fields: %w", err)
		}
		encoded = append(encoded, raw)
	}

	return []any{
		p.ID, p.Name, p.Email, p.Seniority, p.Title,
		encoded[0], encoded[1], encoded[2], encoded[3], encoded[4],
		p.Bio, p.CVPath, encoded[5], p.ProfileText(),
	}, nil
}

func requireAffected(res sql.Result, operation, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrExpertNotFound, operation, fmt.Errorf("id=%s", id))
	}
	return nil
}

// websearchQuery ORs quoted keywords so multi-word skills match as phrases.
func websearchQuery(keywords []string) string {
	parts := make([]string, 0, len(keywords))
	for _, kw := range domain.NormalizeTerms(keywords) {
		kw = strings.TrimSpace(strings.ReplaceAll(kw, `"`, " "))
		if kw == "" {
			continue
		}
		parts = append(parts, `"`+kw+`"`)
	}
	return strings.Join(parts, " or ")
}

func lowerTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, term := range domain.NormalizeTerms(terms) {
		out = append(out, strings.ToLower(term))
	}
	return out
}

func nonNilSlice(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
