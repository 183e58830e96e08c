package repomanager

import (
	"context"
	"database/sql"

	"github.com/ssjbox/ssjbox/internal/dbx"
	"github.com/ssjbox/ssjbox/internal/server/repositories/activity"
	"github.com/ssjbox/ssjbox/internal/server/repositories/attempts"
	"github.com/ssjbox/ssjbox/internal/server/repositories/remembertokens"
	"github.com/ssjbox/ssjbox/internal/server/repositories/sessions"
	"github.com/ssjbox/ssjbox/internal/server/repositories/uploads"
	"github.com/ssjbox/ssjbox/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to either a *sql.DB or an open
// transaction, so services can run multi-repository units of work through
// dbx.WithTx.
type RepositoryManager interface {
	Users(db dbx.DBTX) users.Repository
	Attempts(db dbx.DBTX) attempts.Repository
	Uploads(db dbx.DBTX) uploads.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	RememberTokens(db dbx.DBTX) remembertokens.Repository
	Activity(db dbx.DBTX) activity.Repository

	RunMigrations(ctx context.Context, db *sql.DB) error
}
