/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/trustbloc/logutil-go/pkg/log"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentgrant/consent/pkg/restapi/resterr"
)

var logger = log.New("rest-err")

// HTTPErrorHandler translates taxonomy errors into HTTP responses. Raw
// errors never reach the response body untranslated.
func HTTPErrorHandler(tracer trace.Tracer) func(err error, c echo.Context) {
	return func(err error, c echo.Context) {
		ctx, span := tracer.Start(c.Request().Context(), "HTTPErrorHandler")
		defer span.End()

		code, body := processError(err)

		span.SetStatus(codes.Error, resterr.FromError(err).Error())
		span.RecordError(err)

		logger.Errorc(ctx, "HTTP Error Handler",
			log.WithURL(c.Request().RequestURI),
			log.WithHTTPStatus(code),
			log.WithError(err),
		)

		sendResponse(c, code, body)
	}
}

func sendResponse(c echo.Context, code int, body interface{}) {
	if c.Response().Committed {
		return
	}

	var err error

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}

	if err != nil {
		logger.Errorc(c.Request().Context(), "write http response", log.WithError(err))
	}
}

func processError(err error) (int, interface{}) {
	var echoHTTPError *echo.HTTPError
	if errors.As(err, &echoHTTPError) {
		return echoHTTPError.Code, map[string]interface{}{"message": echoHTTPError.Message}
	}

	restErr := resterr.FromError(err)

	return restErr.HTTPStatus(), restErr
}
