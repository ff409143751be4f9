package routes

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/formify/formify/app"
	"github.com/formify/formify/httpx"
	"github.com/formify/formify/log"
	"github.com/formify/formify/model"
	"github.com/formify/formify/routes/middlewares"
)

func ownerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middlewares.AccountID(r)
	if !ok {
		httpx.LogStatus(w, http.StatusForbidden, log.DebugLevel, "owner.account_id")
	}
	return id, ok
}

func CreateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var form model.Form
		if err := render.DecodeJSON(r.Body, &form); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		created, err := app.Forms.CreateForm(r.Context(), owner, form)
		if err != nil {
			httpx.RenderError(w, r, "owner.create_form", err)
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, created)
	}
}

func ListForms(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		forms, err := app.Forms.ListForms(r.Context(), owner)
		if err != nil {
			httpx.RenderError(w, r, "owner.list_forms", err)
			return
		}
		render.JSON(w, r, forms)
	}
}

func GetForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		form, err := app.Forms.GetForm(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.RenderError(w, r, "owner.get_form", err)
			return
		}
		if form.CreatedBy != owner {
			httpx.LogNotFound(w, "owner.get_form", form.ID)
			return
		}
		render.JSON(w, r, form)
	}
}

func UpdateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var form model.Form
		if err := render.DecodeJSON(r.Body, &form); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		form.ID = chi.URLParam(r, "id")

		if err := app.Forms.UpdateForm(r.Context(), owner, form); err != nil {
			httpx.RenderError(w, r, "owner.update_form", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		if err := app.Forms.DeleteForm(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
			httpx.RenderError(w, r, "owner.delete_form", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func CreateField(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var field model.Field
		if err := render.DecodeJSON(r.Body, &field); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		field.FormID = chi.URLParam(r, "id")

		created, err := app.Forms.CreateField(r.Context(), owner, field)
		if err != nil {
			httpx.RenderError(w, r, "owner.create_field", err)
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, created)
	}
}

func UpdateField(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var field model.Field
		if err := render.DecodeJSON(r.Body, &field); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		field.ID = chi.URLParam(r, "id")

		if err := app.Forms.UpdateField(r.Context(), owner, field); err != nil {
			httpx.RenderError(w, r, "owner.update_field", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteField(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		if err := app.Forms.DeleteField(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
			httpx.RenderError(w, r, "owner.delete_field", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func ReorderField(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var body struct {
			Position int `json:"position"`
		}
		if err := render.DecodeJSON(r.Body, &body); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		err := app.Forms.ReorderField(r.Context(), owner, chi.URLParam(r, "id"), body.Position)
		if err != nil {
			httpx.RenderError(w, r, "owner.reorder_field", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func CreateProcess(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var process model.Process
		if err := render.DecodeJSON(r.Body, &process); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		created, err := app.Workflow.CreateProcess(r.Context(), owner, process)
		if err != nil {
			httpx.RenderError(w, r, "owner.create_process", err)
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, created)
	}
}

func ListProcesses(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		processes, err := app.Workflow.ListProcesses(r.Context(), owner)
		if err != nil {
			httpx.RenderError(w, r, "owner.list_processes", err)
			return
		}
		render.JSON(w, r, processes)
	}
}

func GetProcess(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		process, err := app.Workflow.GetProcess(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpx.RenderError(w, r, "owner.get_process", err)
			return
		}
		if process.CreatedBy != owner {
			httpx.LogNotFound(w, "owner.get_process", process.ID)
			return
		}
		render.JSON(w, r, process)
	}
}

func UpdateProcess(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var process model.Process
		if err := render.DecodeJSON(r.Body, &process); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		process.ID = chi.URLParam(r, "id")

		if err := app.Workflow.UpdateProcess(r.Context(), owner, process); err != nil {
			httpx.RenderError(w, r, "owner.update_process", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteProcess(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		if err := app.Workflow.DeleteProcess(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
			httpx.RenderError(w, r, "owner.delete_process", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func CreateStep(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var step model.Step
		if err := render.DecodeJSON(r.Body, &step); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		step.ProcessID = chi.URLParam(r, "id")

		created, err := app.Workflow.CreateStep(r.Context(), owner, step)
		if err != nil {
			httpx.RenderError(w, r, "owner.create_step", err)
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, created)
	}
}

func UpdateStep(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var step model.Step
		if err := render.DecodeJSON(r.Body, &step); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		step.ID = chi.URLParam(r, "id")

		if err := app.Workflow.UpdateStep(r.Context(), owner, step); err != nil {
			httpx.RenderError(w, r, "owner.update_step", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteStep(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		if err := app.Workflow.DeleteStep(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
			httpx.RenderError(w, r, "owner.delete_step", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func ReorderStep(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var body struct {
			Position int `json:"position"`
		}
		if err := render.DecodeJSON(r.Body, &body); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		err := app.Workflow.ReorderStep(r.Context(), owner, chi.URLParam(r, "id"), body.Position)
		if err != nil {
			httpx.RenderError(w, r, "owner.reorder_step", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func parseIntParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
