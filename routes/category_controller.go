package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/formify/formify/app"
	"github.com/formify/formify/httpx"
	"github.com/formify/formify/log"
	"github.com/formify/formify/model"
)

func CreateCategory(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var c model.Category
		if err := render.DecodeJSON(r.Body, &c); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		created, err := app.Categories.Create(r.Context(), owner, c)
		if err != nil {
			httpx.RenderError(w, r, "owner.create_category", err)
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, created)
	}
}

func ListCategories(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		categories, err := app.Categories.List(r.Context(), owner)
		if err != nil {
			httpx.RenderError(w, r, "owner.list_categories", err)
			return
		}
		render.JSON(w, r, categories)
	}
}

func DeleteCategory(app app.App) http.HandlerFunc {
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

		if err := app.Categories.Delete(r.Context(), owner, id); err != nil {
			httpx.RenderError(w, r, "owner.delete_category", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func LinkCategory(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var link model.CategoryLink
		if err := render.DecodeJSON(r.Body, &link); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		if err := app.Categories.Link(r.Context(), owner, link); err != nil {
			httpx.RenderError(w, r, "owner.link_category", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func UnlinkCategory(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerID(w, r)
		if !ok {
			return
		}

		var link model.CategoryLink
		if err := render.DecodeJSON(r.Body, &link); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		if err := app.Categories.Unlink(r.Context(), owner, link); err != nil {
			httpx.RenderError(w, r, "owner.unlink_category", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func ListEntityCategories(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ownerID(w, r); !ok {
			return
		}

		kind := chi.URLParam(r, "kind")
		id := chi.URLParam(r, "entityId")

		categories, err := app.Categories.ListFor(r.Context(), kind, id)
		if err != nil {
			httpx.RenderError(w, r, "owner.list_entity_categories", err)
			return
		}
		render.JSON(w, r, categories)
	}
}
