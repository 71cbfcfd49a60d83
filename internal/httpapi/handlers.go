package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sarathi/internal/auth"
	apperr "sarathi/internal/errors"
	"sarathi/internal/logger"
	"sarathi/internal/pickup"
	"sarathi/models"
)

// PickupService is the part of pickup.Service the HTTP API drives.
type PickupService interface {
	CreateOrder(ctx context.Context, citizenID string, in pickup.CreateOrderInput) (*pickup.CreateOrderResult, error)
	GetOrder(ctx context.Context, p auth.Principal, orderID string) (*models.Order, error)
	QRPayload(ctx context.Context, citizenID, orderID string) (string, error)
	CancelOrder(ctx context.Context, citizenID, orderID string) (*models.Order, error)
	ListCitizenOrders(ctx context.Context, citizenID string) ([]*models.Order, error)
	Notifications(ctx context.Context, citizenID string, limit int) ([]*models.Notification, error)
	CitizenStats(ctx context.Context, citizenID string) (*pickup.CitizenStats, error)

	UpdateCollectorLocation(ctx context.Context, collectorID string, lat, lng float64) (*models.Collector, error)
	SetCollectorOnline(ctx context.Context, collectorID string, online bool) (*models.Collector, error)
	ListCollectorTasks(ctx context.Context, collectorID string) (*pickup.CollectorTasks, error)
	AcceptOrder(ctx context.Context, collectorID, orderID string) (*models.Order, error)
	MarkArrived(ctx context.Context, collectorID, orderID string) (*models.Order, error)
	VerifyQR(ctx context.Context, collectorID, orderID, scanned string) (*models.Order, error)
	CompleteCollection(ctx context.Context, collectorID, orderID string) (*models.Order, error)
	CollectorStats(ctx context.Context, collectorID string) (*pickup.CollectorStats, error)
	CollectorHistory(ctx context.Context, collectorID string, limit int) ([]*models.Order, error)
}

var _ PickupService = (*pickup.Service)(nil)

type createOrderRequest struct {
	Name       string   `json:"name" validate:"required,max=120"`
	Phone      string   `json:"phone" validate:"required,max=32"`
	Address    string   `json:"address" validate:"required,max=500"`
	MapLink    string   `json:"map_link" validate:"max=2048"`
	Lat        *float64 `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lng        *float64 `json:"lng" validate:"omitempty,gte=-180,lte=180"`
	Category   string   `json:"category" validate:"required,oneof=wet dry e-waste hazardous mixed"`
	WeightKg   int      `json:"weight_kg" validate:"gte=0"`
	PickupDate string   `json:"pickup_date" validate:"required,datetime=2006-01-02"`
	PickupTime string   `json:"pickup_time" validate:"required,datetime=15:04"`
	Notes      string   `json:"notes" validate:"max=1000"`
}

type locationRequest struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

type availabilityRequest struct {
	Online *bool `json:"online" validate:"required"`
}

type verifyRequest struct {
	Payload string `json:"payload" validate:"required,max=8192"`
}

type qrResponse struct {
	OrderID string `json:"order_id"`
	Payload string `json:"payload"`
}

// principal returns the authenticated caller; routes are mounted behind Authenticate.
func principal(r *http.Request) (*auth.Principal, error) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		return nil, apperr.New(apperr.CodeUnauthorized, "authentication required")
	}
	return p, nil
}

func CreateOrder(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		var body createOrderRequest
		if err := DecodeJSONBody(r, &body); err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.CreateOrder(r.Context(), p.ID, pickup.CreateOrderInput{
			Name:       body.Name,
			Phone:      body.Phone,
			Address:    body.Address,
			MapLink:    body.MapLink,
			Lat:        body.Lat,
			Lng:        body.Lng,
			Category:   models.WasteCategory(body.Category),
			WeightKg:   body.WeightKg,
			PickupDate: body.PickupDate,
			PickupTime: body.PickupTime,
			Notes:      body.Notes,
		})
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccessStatus(w, http.StatusCreated, res)
	}
}

func ListCitizenOrders(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListCitizenOrders(r.Context(), p.ID)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		if list == nil {
			list = []*models.Order{}
		}
		WriteSuccess(w, list)
	}
}

func GetOrder(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		o, err := svc.GetOrder(r.Context(), *p, chi.URLParam(r, "orderId"))
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccess(w, o)
	}
}

func OrderQR(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		id := chi.URLParam(r, "orderId")
		payload, err := svc.QRPayload(r.Context(), p.ID, id)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccess(w, qrResponse{OrderID: id, Payload: payload})
	}
}

func CancelOrder(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		o, err := svc.CancelOrder(r.Context(), p.ID, chi.URLParam(r, "orderId"))
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccess(w, o)
	}
}

func CitizenStats(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		st, err := svc.CitizenStats(r.Context(), p.ID)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccess(w, st)
	}
}

func CitizenNotifications(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.Notifications(r.Context(), p.ID, limit)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		if list == nil {
			list = []*models.Notification{}
		}
		WriteSuccess(w, list)
	}
}

func UpdateLocation(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		var body locationRequest
		if err := DecodeJSONBody(r, &body); err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		c, err := svc.UpdateCollectorLocation(r.Context(), p.ID, *body.Lat, *body.Lng)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccess(w, c)
	}
}

func UpdateAvailability(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		var body availabilityRequest
		if err := DecodeJSONBody(r, &body); err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		c, err := svc.SetCollectorOnline(r.Context(), p.ID, *body.Online)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccess(w, c)
	}
}

func CollectorTasks(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		tasks, err := svc.ListCollectorTasks(r.Context(), p.ID)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccess(w, tasks)
	}
}

func CollectorStats(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		st, err := svc.CollectorStats(r.Context(), p.ID)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccess(w, st)
	}
}

func CollectorHistory(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.CollectorHistory(r.Context(), p.ID, limit)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccess(w, list)
	}
}

// collectorStep adapts a collector transition to a handler.
func collectorStep(step func(ctx context.Context, collectorID, orderID string) (*models.Order, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		o, err := step(r.Context(), p.ID, chi.URLParam(r, "orderId"))
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccess(w, o)
	}
}

func VerifyQR(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		var body verifyRequest
		if err := DecodeJSONBody(r, &body); err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		o, err := svc.VerifyQR(r.Context(), p.ID, chi.URLParam(r, "orderId"), body.Payload)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccess(w, o)
	}
}
