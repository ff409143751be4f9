package routes

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/formify/formify/app"
	"github.com/formify/formify/httpx"
	"github.com/formify/formify/log"
	"github.com/formify/formify/model"
)

func CreateReport(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var report model.Report
		if err := render.DecodeJSON(r.Body, &report); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		created, err := app.Reports.Create(r.Context(), owner, report)
		if err != nil {
			httpx.RenderError(w, r, "owner.create_report", err)
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, created)
	}
}

func ListReports(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		reports, err := app.Reports.List(r.Context(), owner)
		if err != nil {
			httpx.RenderError(w, r, "owner.list_reports", err)
			return
		}
		render.JSON(w, r, reports)
	}
}

// PreviewReport computes the report payload without delivering it.
func PreviewReport(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		id, err := parseIntParam(r, "id")
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		report, err := app.Reports.Get(r.Context(), owner, id)
		if err != nil {
			httpx.RenderError(w, r, "owner.preview_report", err)
			return
		}

		payload, err := app.Reports.Preview(r.Context(), report)
		if err != nil {
			httpx.RenderError(w, r, "owner.preview_report.build", err)
			return
		}
		render.JSON(w, r, payload)
	}
}

// RunReport computes and delivers the report. A delivery failure still
// returns the computed payload with a 502 so the owner can retry.
func RunReport(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		id, err := parseIntParam(r, "id")
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		// ownership check before running
		if _, err := app.Reports.Get(r.Context(), owner, id); err != nil {
			httpx.RenderError(w, r, "owner.run_report", err)
			return
		}

		payload, err := app.Reports.Run(r.Context(), id)
		if err != nil && payload == nil {
			httpx.RenderError(w, r, "owner.run_report.run", err)
			return
		}

		body := map[string]any{"payload": payload, "delivered": err == nil}
		if err != nil {
			log.Errorf("owner.run_report.deliver: %s", err)
			body["delivery_error"] = err.Error()
			render.Status(r, http.StatusBadGateway)
		}
		render.JSON(w, r, body)
	}
}

func SetReportActive(app app.App, active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		id, err := parseIntParam(r, "id")
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		if err := app.Reports.SetActive(r.Context(), owner, id, active); err != nil {
			httpx.RenderError(w, r, "owner.set_report_active", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
