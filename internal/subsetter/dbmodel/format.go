package dbmodel

import "fmt"

func formatFallback(v any) string {
	return fmt.Sprintf("%v", v)
}
