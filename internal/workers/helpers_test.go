package workers

import (
	"time"

	"github.com/brandlens/backend/internal/store"
)

func storeQuery(propertyID string, day time.Time) store.RowQuery {
	return store.RowQuery{PropertyID: propertyID, Start: day, End: day}
}
