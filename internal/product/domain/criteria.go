package domain

import (
	shared "github.com/davicafu/productflow/internal/shared/domain"
	"github.com/google/uuid"
)

// --- Criterios específicos para Product ---

// StatusCriteria filtra productos por estado.
type StatusCriteria struct {
	Status ProductStatus
}

func (c StatusCriteria) ToConditions() []shared.Criterion {
	return []shared.Criterion{{Field: "status", Op: shared.OpEq, Value: string(c.Status)}}
}

// CategoryCriteria filtra por categoría exacta.
type CategoryCriteria struct {
	Category string
}

func (c CategoryCriteria) ToConditions() []shared.Criterion {
	return []shared.Criterion{{Field: "category", Op: shared.OpEq, Value: c.Category}}
}

// IDsCriteria filtra por un conjunto de ids (IN). Value es []string.
type IDsCriteria struct {
	IDs []uuid.UUID
}

func (c IDsCriteria) ToConditions() []shared.Criterion {
	ids := make([]string, len(c.IDs))
	for i, id := range c.IDs {
		ids[i] = id.String()
	}
	return []shared.Criterion{{Field: "id", Op: shared.OpIn, Value: ids}}
}

// AllowedCriteriaFields son las columnas filtrables en ListByCriteria. Los stores rechazan cualquier otra.
var AllowedCriteriaFields = map[string]bool{
	"id":       true,
	"status":   true,
	"category": true,
	"sku":      true,
	"brand":    true,
}
