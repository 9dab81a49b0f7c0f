package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const proposalColumns = `id, name, client_id, payload, state, layouts, slug, thumbnail_url,
	is_published, published_at, publish_password_hash, created_at, updated_at`

const templateColumns = `id, name, template_name, is_public, payload, state, layouts, slug,
	thumbnail_url, created_at, updated_at`

func scanProposal(row *sql.Row) (Row, error) {
	var item Row
	err := row.Scan(
		&item.ID, &item.Name, &item.ClientID, &item.Payload, &item.State, &item.Layouts,
		&item.Slug, &item.ThumbnailURL, &item.IsPublished, &item.PublishedAt,
		&item.PublishPasswordHash, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func scanTemplate(row *sql.Row) (Row, error) {
	var item Row
	err := row.Scan(
		&item.ID, &item.Name, &item.TemplateName, &item.IsPublic, &item.Payload, &item.State,
		&item.Layouts, &item.Slug, &item.ThumbnailURL, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

// FetchByID reads a single raw record. sql.ErrNoRows passes through so the
// caller can surface a load error.
func (s *PostgresStore) FetchByID(ctx context.Context, table Table, id string) (Row, error) {
	switch table {
	case TableTemplates:
		query := fmt.Sprintf(`SELECT %s FROM templates WHERE id=$1`, templateColumns)
		return scanTemplate(s.db.QueryRowContext(ctx, query, id))
	default:
		query := fmt.Sprintf(`SELECT %s FROM proposals WHERE id=$1`, proposalColumns)
		return scanProposal(s.db.QueryRowContext(ctx, query, id))
	}
}

// Insert creates a new record, letting storage assign the identity, and
// returns the full stored row.
func (s *PostgresStore) Insert(ctx context.Context, table Table, item Row) (Row, error) {
	if table == TableTemplates {
		query := fmt.Sprintf(`
			INSERT INTO templates (name, template_name, is_public, payload, layouts, slug, thumbnail_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING %s
		`, templateColumns)
		stored, err := scanTemplate(s.db.QueryRowContext(ctx, query,
			item.Name, deref(item.TemplateName), item.IsPublic,
			item.Payload, item.Layouts, item.Slug, item.ThumbnailURL,
		))
		if err != nil {
			return Row{}, fmt.Errorf("insert template: %w", err)
		}
		return stored, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO proposals (name, client_id, payload, layouts, slug, thumbnail_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s
	`, proposalColumns)
	stored, err := scanProposal(s.db.QueryRowContext(ctx, query,
		item.Name, item.ClientID, item.Payload, item.Layouts, item.Slug, item.ThumbnailURL,
	))
	if err != nil {
		return Row{}, fmt.Errorf("insert proposal: %w", err)
	}
	return stored, nil
}

// Update rewrites an existing record by identity and returns the full stored
// row. The legacy state column is never written; the normalizer ignores it
// once a structured payload exists.
func (s *PostgresStore) Update(ctx context.Context, table Table, id string, item Row) (Row, error) {
	if table == TableTemplates {
		// is_public is deliberately untouched here; content saves must not
		// flip template visibility. See SetTemplateVisibility.
		query := fmt.Sprintf(`
			UPDATE templates
			SET name=$2, template_name=$3, payload=$4, layouts=$5, slug=$6,
				thumbnail_url=$7, updated_at=NOW()
			WHERE id=$1
			RETURNING %s
		`, templateColumns)
		stored, err := scanTemplate(s.db.QueryRowContext(ctx, query,
			id, item.Name, deref(item.TemplateName),
			item.Payload, item.Layouts, item.Slug, item.ThumbnailURL,
		))
		if err != nil {
			return Row{}, fmt.Errorf("update template %s: %w", id, err)
		}
		return stored, nil
	}

	query := fmt.Sprintf(`
		UPDATE proposals
		SET name=$2, client_id=$3, payload=$4, layouts=$5, slug=$6, thumbnail_url=$7,
			updated_at=NOW()
		WHERE id=$1
		RETURNING %s
	`, proposalColumns)
	stored, err := scanProposal(s.db.QueryRowContext(ctx, query,
		id, item.Name, item.ClientID, item.Payload, item.Layouts, item.Slug, item.ThumbnailURL,
	))
	if err != nil {
		return Row{}, fmt.Errorf("update proposal %s: %w", id, err)
	}
	return stored, nil
}

// SetTemplateVisibility marks a template as publicly cloneable (or not).
func (s *PostgresStore) SetTemplateVisibility(ctx context.Context, id string, public bool) (Row, error) {
	query := fmt.Sprintf(`
		UPDATE templates SET is_public=$2, updated_at=NOW() WHERE id=$1 RETURNING %s
	`, templateColumns)
	stored, err := scanTemplate(s.db.QueryRowContext(ctx, query, id, public))
	if err != nil {
		return Row{}, fmt.Errorf("set template visibility %s: %w", id, err)
	}
	return stored, nil
}

// SetPublishState flips the publish flag on a proposal. This is the only
// write path that can make is_published true.
func (s *PostgresStore) SetPublishState(ctx context.Context, id string, published bool, publishedAt *time.Time, passwordHash *string) (Row, error) {
	query := fmt.Sprintf(`
		UPDATE proposals
		SET is_published=$2, published_at=$3, publish_password_hash=$4, updated_at=NOW()
		WHERE id=$1
		RETURNING %s
	`, proposalColumns)
	stored, err := scanProposal(s.db.QueryRowContext(ctx, query, id, published, publishedAt, passwordHash))
	if err != nil {
		return Row{}, fmt.Errorf("set publish state %s: %w", id, err)
	}
	return stored, nil
}

// FindPublishedBySlug resolves a public address segment to its proposal.
func (s *PostgresStore) FindPublishedBySlug(ctx context.Context, slug string) (Row, error) {
	query := fmt.Sprintf(`SELECT %s FROM proposals WHERE slug=$1 AND is_published=TRUE`, proposalColumns)
	return scanProposal(s.db.QueryRowContext(ctx, query, slug))
}

func (s *PostgresStore) ListProposals(ctx context.Context) ([]ListItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, client_id, slug, thumbnail_url, is_published, published_at, updated_at
		FROM proposals
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	items := make([]ListItem, 0)
	for rows.Next() {
		var item ListItem
		var clientID, slug, thumbnail *string
		if err := rows.Scan(&item.ID, &item.Name, &clientID, &slug, &thumbnail, &item.IsPublished, &item.PublishedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		item.ClientID = deref(clientID)
		item.Slug = deref(slug)
		item.ThumbnailURL = deref(thumbnail)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context, publicOnly bool) ([]ListItem, error) {
	query := `
		SELECT id, COALESCE(NULLIF(template_name, ''), name), slug, thumbnail_url, is_public, updated_at
		FROM templates
	`
	if publicOnly {
		query += ` WHERE is_public=TRUE`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]ListItem, 0)
	for rows.Next() {
		var item ListItem
		var slug, thumbnail *string
		if err := rows.Scan(&item.ID, &item.Name, &slug, &thumbnail, &item.IsPublic, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		item.Slug = deref(slug)
		item.ThumbnailURL = deref(thumbnail)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return items, nil
}

// ResolveClient reads a client directory entry. Display-only; the engine
// never persists anything through this.
func (s *PostgresStore) ResolveClient(ctx context.Context, clientID string) (Client, error) {
	var client Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, '')
		FROM clients
		WHERE id=$1
	`, clientID).Scan(&client.ID, &client.Name, &client.Email, &client.Phone)
	if err != nil {
		return Client{}, err
	}
	return client, nil
}
