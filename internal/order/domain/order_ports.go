package domain

import "fmt"

// ---------- Helpers comunes (cache keys, etc.) ----------

func OrderSnapshotKey(id string) string {
	return fmt.Sprintf("order:snapshot:%s", id)
}
