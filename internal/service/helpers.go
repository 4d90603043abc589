package service

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

// lookupError maps a repository read failure onto notFound or an internal error.
func lookupError(err error, notFound *appErrors.Error, action string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(notFound, "")
	}
	return appErrors.Internal(err, "failed to "+action)
}

func auditPayload(v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return payload
}

func newAuditLog(meta models.RequestMeta, action, resource, resourceID string, oldValues, newValues interface{}) *models.AuditLog {
	log := &models.AuditLog{
		Action:    action,
		Resource:  resource,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}
	if meta.ActorID != "" {
		actor := meta.ActorID
		log.UserID = &actor
	}
	if resourceID != "" {
		id := resourceID
		log.ResourceID = &id
	}
	if oldValues != nil {
		log.OldValues = auditPayload(oldValues)
	}
	if newValues != nil {
		log.NewValues = auditPayload(newValues)
	}
	return log
}
