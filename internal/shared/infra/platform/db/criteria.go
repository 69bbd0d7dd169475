package db

import (
	"fmt"
	"strings"

	sharedDomain "github.com/davicafu/productflow/internal/shared/domain"
)

// Placeholder genera el marcador de parámetro n-ésimo (1-based) del dialecto.
type Placeholder func(n int) string

func Dollar(n int) string   { return fmt.Sprintf("$%d", n) }
func Question(_ int) string { return "?" }

// BuildWhere traduce criterios a una cláusula SQL sin el "WHERE".
// Solo acepta campos de allowed: los nombres de columna nunca llegan sin validar al SQL.
// startArg permite continuar la numeración si ya hay parámetros previos.
func BuildWhere(criteria sharedDomain.Criteria, allowed map[string]bool, ph Placeholder, startArg int) (string, []interface{}, error) {
	if criteria == nil {
		return "", nil, nil
	}
	conds := criteria.ToConditions()
	if len(conds) == 0 {
		return "", nil, nil
	}

	var clauses []string
	var args []interface{}
	n := startArg
	for _, c := range conds {
		if !allowed[c.Field] {
			return "", nil, fmt.Errorf("unsupported criteria field %q", c.Field)
		}

		switch c.Op {
		case sharedDomain.OpEq:
			n++
			clauses = append(clauses, fmt.Sprintf("%s = %s", c.Field, ph(n)))
			args = append(args, c.Value)
		case sharedDomain.OpIn:
			values, ok := c.Value.([]string)
			if !ok {
				return "", nil, fmt.Errorf("criteria field %q: IN expects []string, got %T", c.Field, c.Value)
			}
			if len(values) == 0 {
				// IN () vacío no es SQL válido y nunca casa.
				clauses = append(clauses, "1 = 0")
				continue
			}
			marks := make([]string, len(values))
			for i, v := range values {
				n++
				marks[i] = ph(n)
				args = append(args, v)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", c.Field, strings.Join(marks, ", ")))
		default:
			return "", nil, fmt.Errorf("unsupported criteria operator %q", c.Op)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}
