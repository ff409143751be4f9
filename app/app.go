package app

import (
	"database/sql"

	"github.com/go-chi/oauth"

	"github.com/formify/formify/access"
	"github.com/formify/formify/category"
	"github.com/formify/formify/config"
	"github.com/formify/formify/forms"
	"github.com/formify/formify/report"
	"github.com/formify/formify/submission"
	"github.com/formify/formify/workflow"
)

type App struct {
	*sql.DB
	*oauth.BearerServer
	config.Config

	Forms       *forms.Service
	Submissions *submission.Engine
	Workflow    *workflow.Engine
	Reports     *report.Service
	Categories  *category.Service
	Gate        *access.Gate
}
