package search

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kiku/internal/models"
)

// ProcessQuery validates the namespace and query text and resolves k
// against the configured defaults: non-positive k means defaultK, and k is
// capped at maxK when maxK is positive.
func ProcessQuery(namespace, query string, k, defaultK, maxK int) (string, int, error) {
	if err := models.ValidateNamespace(namespace); err != nil {
		return "", 0, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", 0, fmt.Errorf("%w: query is required", models.ErrValidation)
	}
	if k <= 0 {
		k = defaultK
	}
	if maxK > 0 && k > maxK {
		k = maxK
	}
	return query, k, nil
}
