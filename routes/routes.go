package routes

import (
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"

	"github.com/formify/formify/app"
	"github.com/formify/formify/routes/middlewares"
)

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger, middleware.Recoverer)

	root.Mount("/api", apiRouter(app))

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	// Respondent surface. Private entities require an access secret or a
	// session key obtained from /access.
	api.Post("/access/{kind}/{id}", CheckAccess(app))
	api.Get("/forms/{id}", PublicGetForm(app))
	api.Post("/forms/{id}/submissions", PublicSubmitForm(app))
	api.Get("/processes/{id}/steps", GetProcessSteps(app))
	api.Get("/processes/{id}/current-step", GetCurrentStep(app))
	api.Get("/processes/{id}/progress", GetProcessProgress(app))
	api.Post("/steps/{id}/complete", CompleteStep(app))

	api.Route("/owner", func(r chi.Router) {
		r.Use(middlewares.Owner(app.TokenSecret))

		// CRUD forms and fields
		r.Post("/forms", CreateForm(app))
		r.Get("/forms", ListForms(app))
		r.Get("/forms/{id}", GetForm(app))
		r.Put("/forms/{id}", UpdateForm(app))
		r.Delete("/forms/{id}", DeleteForm(app))
		r.Post("/forms/{id}/fields", CreateField(app))
		r.Put("/fields/{id}", UpdateField(app))
		r.Delete("/fields/{id}", DeleteField(app))
		r.Put("/fields/{id}/position", ReorderField(app))

		// CRUD processes and steps
		r.Post("/processes", CreateProcess(app))
		r.Get("/processes", ListProcesses(app))
		r.Get("/processes/{id}", GetProcess(app))
		r.Put("/processes/{id}", UpdateProcess(app))
		r.Delete("/processes/{id}", DeleteProcess(app))
		r.Post("/processes/{id}/steps", CreateStep(app))
		r.Put("/steps/{id}", UpdateStep(app))
		r.Delete("/steps/{id}", DeleteStep(app))
		r.Put("/steps/{id}/position", ReorderStep(app))

		// reports
		r.Post("/reports", CreateReport(app))
		r.Get("/reports", ListReports(app))
		r.Get(`/reports/{id:^\d+$}/preview`, PreviewReport(app))
		r.Post(`/reports/{id:^\d+$}/run`, RunReport(app))
		r.Post(`/reports/{id:^\d+$}/activate`, SetReportActive(app, true))
		r.Post(`/reports/{id:^\d+$}/deactivate`, SetReportActive(app, false))

		// categories
		r.Post("/categories", CreateCategory(app))
		r.Get("/categories", ListCategories(app))
		r.Delete(`/categories/{id:^\d+$}`, DeleteCategory(app))
		r.Post("/category-links", LinkCategory(app))
		r.Delete("/category-links", UnlinkCategory(app))
		r.Get("/categories/of/{kind}/{entityId}", ListEntityCategories(app))
	})

	api.Post("/login", Login(app))
	api.Post("/refresh", Refresh(app))

	return api
}
