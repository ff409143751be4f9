package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/formify/formify/access"
	"github.com/formify/formify/app"
	"github.com/formify/formify/category"
	"github.com/formify/formify/config"
	"github.com/formify/formify/database"
	"github.com/formify/formify/forms"
	"github.com/formify/formify/httpx"
	"github.com/formify/formify/log"
	"github.com/formify/formify/report"
	"github.com/formify/formify/routes"
	"github.com/formify/formify/submission"
	"github.com/formify/formify/workflow"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatal("main.config:", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	db, err := database.Open(cfg.DBUrl)
	if err != nil {
		log.Fatal("main.db.open:", err)
	}
	defer db.Close()

	bearerServer := httpx.NewBearerServer(db, cfg)

	var channel report.DeliveryChannel = report.LogChannel{}
	if cfg.SMTPAddr != "" {
		channel = &report.SMTPChannel{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom}
	}
	reports := report.NewService(db, channel, cfg.SMTPFrom)

	app := app.App{
		DB:           db,
		BearerServer: bearerServer,
		Config:       cfg,

		Forms:       forms.NewService(db),
		Submissions: submission.NewEngine(db),
		Workflow:    workflow.NewEngine(db),
		Reports:     reports,
		Categories:  category.NewService(db),
		Gate:        access.NewGate(db),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runScheduler(ctx, reports, cfg.ReportInterval)

	handler := routes.Wire(app)

	err = runServer(cfg, handler)
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("main.server:", err)
	}
}

func runScheduler(ctx context.Context, reports *report.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := reports.RunDueReports(ctx, now); err != nil {
				log.Error("scheduler.run_due:", err)
			}
		}
	}
}

func runServer(cfg config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Info("Listening on " + cfg.Url())
	return srv.ListenAndServe()
}
