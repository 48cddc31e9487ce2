package models

import "github.com/google/uuid"

// ensureID assigns a v4 id when the caller left it blank so inserts work on
// every dialect without relying on gen_random_uuid().
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
