package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/auctionhouse-backend/api/responses"
	paymentwebhook "github.com/angelmondragon/auctionhouse-backend/internal/webhooks/payments"
	pkgerrors "github.com/angelmondragon/auctionhouse-backend/pkg/errors"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
)

const (
	signatureHeader = "Stripe-Signature"
	maxPayloadBytes = 1 << 20
)

type PaymentGateway interface {
	Handle(ctx context.Context, payload []byte, signature string) (paymentwebhook.Response, error)
}

type failureResponse struct {
	Received bool   `json:"received"`
	Error    string `json:"error"`
}

// PaymentWebhook receives payment provider events. Every answer is JSON; the
// status code tells the provider whether to redeliver.
func PaymentWebhook(gateway PaymentGateway, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if gateway == nil {
			writeFailure(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook gateway unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeFailure(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payload too large"))
				return
			}
			writeFailure(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		resp, err := gateway.Handle(ctx, payload, r.Header.Get(signatureHeader))
		if err != nil {
			writeFailure(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, resp)
	}
}

func writeFailure(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed, msg := responses.Resolve(err)
	responses.LogError(ctx, logg, err)
	responses.WriteJSON(w, failureStatus(typed.Code()), failureResponse{Received: false, Error: msg})
}

// failureStatus answers every server-side processing failure with 500, the
// status the provider redelivers on.
func failureStatus(code pkgerrors.Code) int {
	status := pkgerrors.MetadataFor(code).HTTPStatus
	if status >= http.StatusInternalServerError {
		return http.StatusInternalServerError
	}
	return status
}
