package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/internal/middleware"
	"github.com/paywall-labs/paywall-service/internal/repository"
	"github.com/paywall-labs/paywall-service/internal/service"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// ArticleHandler serves the article catalog with entitlement-gated content.
type ArticleHandler struct {
	articles    repository.ArticleRepository
	entitlement service.EntitlementService
	log         *logger.Logger
}

// NewArticleHandler creates a new article handler.
func NewArticleHandler(articles repository.ArticleRepository, entitlement service.EntitlementService, log *logger.Logger) *ArticleHandler {
	return &ArticleHandler{
		articles:    articles,
		entitlement: entitlement,
		log:         log,
	}
}

// articleSummary is the list representation, body text omitted.
type articleSummary struct {
	ID          uuid.UUID          `json:"id"`
	Title       string             `json:"title"`
	Image       string             `json:"image,omitempty"`
	AccessLevel domain.AccessLevel `json:"access_level"`
}

// GetArticles returns the article catalog without content.
func (h *ArticleHandler) GetArticles(c *gin.Context) {
	articles, err := h.articles.GetAll(c.Request.Context())
	if err != nil {
		h.log.Errorw("Failed to list articles", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list articles"})
		return
	}

	summaries := make([]articleSummary, 0, len(articles))
	for _, a := range articles {
		summaries = append(summaries, articleSummary{
			ID:          a.ID,
			Title:       a.Title,
			Image:       a.Image,
			AccessLevel: a.AccessLevel,
		})
	}

	c.JSON(http.StatusOK, summaries)
}

// GetArticle returns a single article. The content is included only when the
// authenticated user is entitled to read it; otherwise the response carries
// the metadata with a locked marker and 402 status.
func (h *ArticleHandler) GetArticle(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	articleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid article ID format"})
		return
	}

	article, err := h.articles.GetByID(c.Request.Context(), articleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Article not found"})
			return
		}
		h.log.Errorw("Failed to load article", "articleID", articleID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load article"})
		return
	}

	canRead, err := h.entitlement.CanRead(c.Request.Context(), userID, article)
	if err != nil {
		h.log.Errorw("Failed to compute entitlement", "userID", userID, "articleID", articleID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute entitlement"})
		return
	}

	if !canRead {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"article": articleSummary{
				ID:          article.ID,
				Title:       article.Title,
				Image:       article.Image,
				AccessLevel: article.AccessLevel,
			},
			"locked": true,
		})
		return
	}

	c.JSON(http.StatusOK, article)
}
