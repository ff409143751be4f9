package httpx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	"github.com/formify/formify/fault"
	"github.com/formify/formify/log"
)

// Will log an error, and send an HTTP response with status 500 and default text
func LogInternalError(w http.ResponseWriter, code string, err error) {
	log.Errorf("%s: %s", code, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// Will log a debug message, and send an HTTP response with status 404 and default text
func LogNotFound(w http.ResponseWriter, code string, id any) {
	log.Debugf("%s: not found (%v)", code, id)
	w.WriteHeader(http.StatusNotFound)
}

// Will log an error code at the given level, and send
// an HTTP response with status and default text
func LogStatus(w http.ResponseWriter, status int, level log.Level, code string) {
	log.Log(level, code)
	http.Error(w, http.StatusText(status), status)
}

// Will log an error code and message at the given level,
// and send an HTTP response with the given status and formatted message
func LogStatusMsg(w http.ResponseWriter, status int, level log.Level, code string, msg string, args ...any) {
	errMsg := fmt.Sprintf(msg, args...)
	log.Log(level, code+":", errMsg)
	http.Error(w, errMsg, status)
}

// RenderError maps a core error to an HTTP status by its fault kind
// and sends it as a JSON body. Unclassified errors become 500s with
// the detail kept out of the response.
func RenderError(w http.ResponseWriter, r *http.Request, code string, err error) {
	status := http.StatusInternalServerError
	detail := http.StatusText(http.StatusInternalServerError)

	switch fault.KindOf(err) {
	case fault.Validation:
		status, detail = http.StatusBadRequest, err.Error()
	case fault.Conflict:
		status, detail = http.StatusConflict, err.Error()
	case fault.NotFound:
		status, detail = http.StatusNotFound, err.Error()
	case fault.Transient:
		status, detail = http.StatusServiceUnavailable, err.Error()
	case fault.Delivery:
		status, detail = http.StatusBadGateway, err.Error()
	}

	if status == http.StatusInternalServerError {
		log.Errorf("%s: %s", code, err)
	} else {
		log.Debugf("%s: %s", code, err)
	}

	render.Status(r, status)
	render.JSON(w, r, map[string]any{"detail": detail})
}

// Convenience for errors.Is checks at call sites that only care about
// one kind.
func IsNotFound(err error) bool { return errors.Is(err, fault.NotFound) }
