package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/formify/formify/app"
	"github.com/formify/formify/httpx"
	"github.com/formify/formify/log"
	"github.com/formify/formify/model"
	"github.com/formify/formify/submission"
)

// GetProcessSteps lists a process's steps for respondents.
func GetProcessSteps(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		processID := chi.URLParam(r, "id")

		ok, err := checkEntityAccess(app, r, model.EntityProcess, processID)
		if err != nil {
			httpx.RenderError(w, r, "workflow.get_steps.access", err)
			return
		}
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "workflow.get_steps.denied")
			return
		}

		process, err := app.Workflow.GetProcess(r.Context(), processID)
		if err != nil {
			httpx.RenderError(w, r, "workflow.get_steps", err)
			return
		}

		process.CreatedBy = 0
		render.JSON(w, r, process)
	}
}

// GetCurrentStep computes the respondent's next eligible step.
func GetCurrentStep(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		processID := chi.URLParam(r, "id")

		ok, err := checkEntityAccess(app, r, model.EntityProcess, processID)
		if err != nil {
			httpx.RenderError(w, r, "workflow.current_step.access", err)
			return
		}
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "workflow.current_step.denied")
			return
		}

		result, err := app.Workflow.CurrentStep(r.Context(), processID, submitterContext(r).Respondent())
		if err != nil {
			httpx.RenderError(w, r, "workflow.current_step", err)
			return
		}
		render.JSON(w, r, result)
	}
}

// GetProcessProgress reports per-step completion and the overall
// fraction.
func GetProcessProgress(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		processID := chi.URLParam(r, "id")

		ok, err := checkEntityAccess(app, r, model.EntityProcess, processID)
		if err != nil {
			httpx.RenderError(w, r, "workflow.progress.access", err)
			return
		}
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "workflow.progress.denied")
			return
		}

		progress, err := app.Workflow.GetProgress(r.Context(), processID, submitterContext(r).Respondent())
		if err != nil {
			httpx.RenderError(w, r, "workflow.progress", err)
			return
		}
		render.JSON(w, r, progress)
	}
}

// CompleteStep completes one step by submitting its form.
func CompleteStep(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stepID := chi.URLParam(r, "id")

		var body struct {
			ProcessID string                   `json:"process_id"`
			Answers   []submission.AnswerInput `json:"answers"`
		}
		if err := render.DecodeJSON(r.Body, &body); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		ok, err := checkEntityAccess(app, r, model.EntityProcess, body.ProcessID)
		if err != nil {
			httpx.RenderError(w, r, "workflow.complete.access", err)
			return
		}
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "workflow.complete.denied")
			return
		}

		result, err := app.Workflow.CompleteStep(r.Context(), stepID, body.Answers, submitterContext(r))
		if err != nil {
			httpx.RenderError(w, r, "workflow.complete", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, result)
	}
}
