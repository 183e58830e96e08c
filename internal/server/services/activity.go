package services

import (
	"context"
	"database/sql"

	"github.com/ssjbox/ssjbox/internal/logging"
	"github.com/ssjbox/ssjbox/internal/server/models"
	"github.com/ssjbox/ssjbox/internal/server/repositories/repomanager"
)

// Audited actions.
const (
	ActivityLogin        = "login"
	ActivityLoginFailed  = "login_failed"
	ActivityLogout       = "logout"
	ActivityRegister     = "register"
	ActivityUpload       = "upload"
	ActivityUploadReject = "upload_rejected"
	ActivityDelete       = "delete"
	ActivityDownload     = "download"
)

// ActivityLogger records audit events. Recording is best effort: a failed
// insert is logged and swallowed so auditing never blocks the action it
// describes.
type ActivityLogger struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewActivityLogger(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *ActivityLogger {
	return &ActivityLogger{db: db, repomanager: m, logger: logger}
}

// Record writes one audit event. userID may be empty for anonymous events
// such as failed logins.
func (a *ActivityLogger) Record(ctx context.Context, userID, action, detail, clientIP string) {
	ev := &models.ActivityEvent{UserID: userID, Action: action, Detail: detail, ClientIP: clientIP}
	if err := a.repomanager.Activity(a.db).Insert(ctx, ev); err != nil {
		a.logger.Warn(ctx, "activity insert failed", "action", action, "error", err.Error())
	}
}
