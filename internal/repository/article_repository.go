package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// ArticleRepository provides access to article rows.
type ArticleRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Article, error)
	GetAll(ctx context.Context) ([]domain.Article, error)
	Create(ctx context.Context, article domain.Article) (domain.Article, error)
}

// PostgresArticleRepository implements ArticleRepository on top of pgxpool.
type PostgresArticleRepository struct {
	db  PgxPool
	log *logger.Logger
}

// NewPostgresArticleRepository creates a new Postgres-backed article repository.
func NewPostgresArticleRepository(db PgxPool, log *logger.Logger) *PostgresArticleRepository {
	return &PostgresArticleRepository{db: db, log: log}
}

const articleColumns = `id, title, content, image, access_level, created_at, updated_at`

// GetByID returns the article with the given id.
func (r *PostgresArticleRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE id = $1`

	var article domain.Article
	err := r.db.QueryRow(ctx, query, id).Scan(
		&article.ID,
		&article.Title,
		&article.Content,
		&article.Image,
		&article.AccessLevel,
		&article.CreatedAt,
		&article.UpdatedAt,
	)
	if err != nil {
		if err = translateError(err); err == ErrNotFound {
			return domain.Article{}, ErrNotFound
		}
		return domain.Article{}, fmt.Errorf("failed to get article: %w", err)
	}

	return article, nil
}

// GetAll returns all articles, newest first.
func (r *PostgresArticleRepository) GetAll(ctx context.Context) ([]domain.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var articles []domain.Article
	for rows.Next() {
		var article domain.Article
		err := rows.Scan(
			&article.ID,
			&article.Title,
			&article.Content,
			&article.Image,
			&article.AccessLevel,
			&article.CreatedAt,
			&article.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, article)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating articles: %w", err)
	}

	return articles, nil
}

// Create inserts a new article row.
func (r *PostgresArticleRepository) Create(ctx context.Context, article domain.Article) (domain.Article, error) {
	query := `
		INSERT INTO articles (id, title, content, image, access_level)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx,
		query,
		article.ID,
		article.Title,
		article.Content,
		article.Image,
		article.AccessLevel,
	).Scan(&article.CreatedAt, &article.UpdatedAt)
	if err != nil {
		return domain.Article{}, fmt.Errorf("failed to create article: %w", translateError(err))
	}

	return article, nil
}
