package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/amplify/internal/clock"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
)

// targetHashLength is the number of hex characters kept from the hashed
// destination URL.
const targetHashLength = 12

// ClickStore persists tracked click events.
type ClickStore interface {
	InsertClicks(ctx context.Context, events []domain.ClickEvent) error
}

// ClickHandler records outbound clicks on published posts and redirects to
// the destination. Clicks feed the click-tracker metric source.
type ClickHandler struct {
	store  ClickStore
	clock  clock.Clock
	logger logger.Logger
}

// NewClickHandler creates a click handler.
func NewClickHandler(store ClickStore, clk clock.Clock, log logger.Logger) *ClickHandler {
	return &ClickHandler{store: store, clock: clk, logger: log}
}

// Handle records the click and redirects. Query parameters: p (post id),
// u (destination URL), s (session id, optional), c=1 (conversion postback,
// no redirect).
func (h *ClickHandler) Handle(c *gin.Context) {
	postID := c.Query("p")
	destination := c.Query("u")
	converted := c.Query("c") == "1"

	if postID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing post id"})
		return
	}
	if destination == "" && !converted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing destination"})
		return
	}

	event := domain.ClickEvent{
		PostID:     postID,
		TargetHash: hashTarget(destination),
		SessionID:  c.Query("s"),
		Converted:  converted,
		ClickedAt:  h.clock.Now(),
	}
	if err := h.store.InsertClicks(c.Request.Context(), []domain.ClickEvent{event}); err != nil {
		// The redirect still has to happen; losing one click beats breaking
		// the user's navigation.
		h.logger.Error("failed to record click",
			logger.String("post_id", postID),
			logger.Error(err))
	}

	if destination == "" {
		c.Status(http.StatusNoContent)
		return
	}
	c.Redirect(http.StatusFound, destination)
}

func hashTarget(destination string) string {
	sum := sha256.Sum256([]byte(destination))
	return hex.EncodeToString(sum[:])[:targetHashLength]
}
