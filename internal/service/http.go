package service

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/blocknetdx/eth-payment-processor/internal/httputil"
)

// RespondError writes err as a JSON error body. Errors that are not a
// *service.Error are logged and hidden behind a generic 500.
func RespondError(w http.ResponseWriter, err error) {
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		log.Error().Err(err).Msg("unclassified service error")
		httputil.RespondError(w, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred")
		return
	}
	httputil.RespondErrorDetails(w, svcErr.Kind.HTTPStatus(), svcErr.Code, svcErr.Message, svcErr.Details)
}
