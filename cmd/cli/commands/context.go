package commands

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jakechorley/retrofunding/internal/config"
	"github.com/jakechorley/retrofunding/pkg/clients/sheetsclient"
	"github.com/jakechorley/retrofunding/pkg/core/ballot"
	"github.com/jakechorley/retrofunding/pkg/core/services"
	"github.com/jakechorley/retrofunding/pkg/db"
	"github.com/jakechorley/retrofunding/pkg/postgres"
	"github.com/jakechorley/retrofunding/pkg/tabular"
	"github.com/jakechorley/retrofunding/pkg/telemetry"
)

// ErrNoDatabase is returned by migrate when database.url is not configured
var ErrNoDatabase = errors.New("no database configured: set database.url")

// AppContext holds the application dependencies shared across all commands
type AppContext struct {
	Env          string
	Cfg          *config.Config
	SheetsClient *sheetsclient.Client
	Verifier     ballot.Verifier
	Database     *postgres.DB
	Metrics      *telemetry.Metrics
	Logger       *zap.Logger
	Ctx          context.Context

	session *db.MemoryStore
}

// Sources builds the metric and ballot sources named in the config
func (app *AppContext) Sources() services.Sources {
	return services.Sources{
		Metrics: app.metricSource(app.Cfg.Sources.Metrics),
		Ballots: app.ballotSource(app.Cfg.Sources.Ballots),
	}
}

func (app *AppContext) metricSource(src config.SourceConfig) services.MetricSource {
	if src.IsSheet() {
		return &sheetsclient.MetricSource{Client: app.SheetsClient, Table: sheetsclient.Table{SheetID: src.SheetID, Range: src.Range}}
	}
	return &tabular.CSVSource{MetricsPath: src.CSV}
}

func (app *AppContext) ballotSource(src config.SourceConfig) services.BallotSource {
	if src.IsSheet() {
		return &sheetsclient.BallotSource{Client: app.SheetsClient, Table: sheetsclient.Table{SheetID: src.SheetID, Range: src.Range}}
	}
	return &tabular.CSVSource{BallotsPath: src.CSV}
}

// store returns the database when one is configured. Otherwise runs live in a
// memory store for the rest of the process, so an interactive session can view them.
func (app *AppContext) store() db.RunStore {
	if app.Database != nil {
		return app.Database
	}
	if app.session == nil {
		app.session = db.NewMemoryStore()
	}
	return app.session
}

// RunStore returns where calculate records its runs
func (app *AppContext) RunStore() services.CalculateResultsStore {
	return app.store()
}

// ViewStore returns where viewRun reads runs from
func (app *AppContext) ViewStore() services.ViewRunStore {
	return app.store()
}
