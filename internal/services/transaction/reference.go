package transaction

import (
	"strings"

	"caredit/internal/models"

	"github.com/google/uuid"
)

// NewReference returns "<PREFIX>-<uuid>", for example TRF-3f1c...
func NewReference(t models.TransactionType) string {
	return t.ReferencePrefix() + "-" + strings.ToUpper(uuid.NewString())
}
