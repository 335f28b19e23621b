package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"alcyxob/coaching-engine/internal/domain"
)

// objectIDParam reads a hex ObjectID path parameter, aborting with 400 on failure.
func objectIDParam(c *gin.Context, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid "+name+" format.")
		return primitive.NilObjectID, false
	}
	return id, true
}

// dateQuery reads an optional YYYY-MM-DD query parameter. Missing is the zero time.
func dateQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := domain.ParseDate(raw)
	if err != nil {
		respondError(c, domain.NewValidationError(name, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", raw)))
		return time.Time{}, false
	}
	return t, true
}

// dateRange reads the "from" and "to" query parameters.
func dateRange(c *gin.Context) (from, to time.Time, ok bool) {
	if from, ok = dateQuery(c, "from"); !ok {
		return
	}
	to, ok = dateQuery(c, "to")
	return
}
