package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ms-rental/internal/logger"
	"ms-rental/internal/models"
	"ms-rental/internal/reservation"

	"github.com/segmentio/kafka-go"
)

type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, reservationID string, result reservation.PaymentResult) (*models.Reservation, error)
}

// PaymentResultHandler applies payment results from the payments topic. The
// payload is the same one the HTTP webhook accepts. Malformed messages are
// logged and dropped; any other failure is returned so the consumer retries.
func PaymentResultHandler(svc PaymentConfirmer, log *logger.Logger) func(ctx context.Context, msg kafka.Message) error {
	return func(ctx context.Context, msg kafka.Message) error {
		var p models.PaymentConfirmation
		if err := json.Unmarshal(msg.Value, &p); err != nil {
			log.Error("KAFKA", fmt.Sprintf("dropping undecodable payment result at %s@%d: %v", msg.Topic, msg.Offset, err))
			return nil
		}
		if p.ReservationID == "" {
			log.Error("KAFKA", fmt.Sprintf("dropping payment result without reservation_id at %s@%d", msg.Topic, msg.Offset))
			return nil
		}

		_, err := svc.ConfirmPayment(ctx, p.ReservationID, reservation.PaymentResult{
			Status:     p.PaymentStatus,
			PaymentRef: p.PaymentID,
		})
		switch {
		case err == nil:
			log.LogKafka("payment", msg.Topic, fmt.Sprintf("reservation %s confirmed", p.ReservationID))
			return nil
		case errors.Is(err, reservation.ErrAlreadyFinalized), errors.Is(err, reservation.ErrPaymentNotSucceeded):
			// Recorded by the service for reconciliation; nothing to retry.
			log.Warn("KAFKA", fmt.Sprintf("payment for %s not applied: %v", p.ReservationID, err))
			return nil
		default:
			return err
		}
	}
}
