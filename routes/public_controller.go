package routes

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/formify/formify/access"
	"github.com/formify/formify/app"
	"github.com/formify/formify/httpx"
	"github.com/formify/formify/log"
	"github.com/formify/formify/model"
	"github.com/formify/formify/submission"
)

// clientIP strips the port off RemoteAddr.
func clientIP(r *http.Request) string {
	return strings.Split(r.RemoteAddr, ":")[0]
}

// submitterContext captures the caller identity and client metadata
// passed into the core engines. Anonymous callers are attributed by
// the access-session key header.
func submitterContext(r *http.Request) submission.SubmitterContext {
	return submission.SubmitterContext{
		SessionKey: r.Header.Get("X-Session-Key"),
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
	}
}

// checkEntityAccess runs the access gate for private entities using
// the X-Access-Secret header. Public entities always pass.
func checkEntityAccess(app app.App, r *http.Request, kind, id string) (bool, error) {
	return app.Gate.Check(r.Context(), kind, id, r.Header.Get("X-Access-Secret"))
}

// CheckAccess verifies a supplied secret against a private form or
// process and hands back the session key anonymous progress is
// tracked under.
func CheckAccess(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := chi.URLParam(r, "kind")
		id := chi.URLParam(r, "id")

		var body struct {
			Secret string `json:"secret"`
		}
		if err := render.DecodeJSON(r.Body, &body); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		ok, err := app.Gate.Check(r.Context(), kind, id, body.Secret)
		if err != nil {
			httpx.RenderError(w, r, "access.check", err)
			return
		}
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "access.check.denied")
			return
		}

		sessionKey, err := access.NewSessionKey()
		if err != nil {
			httpx.LogInternalError(w, "access.session_key", err)
			return
		}
		render.JSON(w, r, map[string]any{"session_key": sessionKey})
	}
}

// PublicGetForm serves a form definition to respondents and records
// the view.
func PublicGetForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID := chi.URLParam(r, "id")

		ok, err := checkEntityAccess(app, r, model.EntityForm, formID)
		if err != nil {
			httpx.RenderError(w, r, "public.get_form.access", err)
			return
		}
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "public.get_form.denied")
			return
		}

		form, err := app.Forms.GetForm(r.Context(), formID)
		if err != nil {
			httpx.RenderError(w, r, "public.get_form", err)
			return
		}

		view := model.FormView{
			FormID:    formID,
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		}
		if err := app.Forms.RecordView(r.Context(), view); err != nil {
			// view recording must not break serving the form
			log.Errorf("public.get_form.record_view: %s", err)
		}

		form.CreatedBy = 0
		render.JSON(w, r, form)
	}
}

// PublicSubmitForm validates and persists one submission.
func PublicSubmitForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID := chi.URLParam(r, "id")

		ok, err := checkEntityAccess(app, r, model.EntityForm, formID)
		if err != nil {
			httpx.RenderError(w, r, "public.submit.access", err)
			return
		}
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "public.submit.denied")
			return
		}

		var body struct {
			Answers []submission.AnswerInput `json:"answers"`
		}
		if err := render.DecodeJSON(r.Body, &body); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		resp, err := app.Submissions.CreateResponse(r.Context(), formID, body.Answers, submitterContext(r))
		if err != nil {
			httpx.RenderError(w, r, "public.submit", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, resp)
	}
}
