package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"sarathi/internal/auth"
	apperr "sarathi/internal/errors"
	"sarathi/internal/logger"
	"sarathi/internal/tracking"
	"sarathi/models"
)

// TrackingServiceName is the fully qualified gRPC service name.
const TrackingServiceName = "sarathi.tracking.v1.TrackingService"

const (
	watchMethod    = "/" + TrackingServiceName + "/Watch"
	snapshotMethod = "/" + TrackingServiceName + "/Snapshot"

	// pending updates buffered per stream; the oldest is dropped when a client lags.
	watchBuffer = 16
)

// TrackingService is what the tracking endpoints need from the pickup service.
type TrackingService interface {
	GetOrder(ctx context.Context, p auth.Principal, orderID string) (*models.Order, error)
	TrackOrder(ctx context.Context, p auth.Principal, clientID, orderID string, display func(tracking.Update)) (*tracking.Session, error)
	StopTracking(session *tracking.Session)
}

// trackingHandler is the server-side contract of TrackingServiceDesc. Messages are
// google.protobuf.Struct so no generated code is needed.
type trackingHandler interface {
	Watch(req *structpb.Struct, stream grpc.ServerStream) error
	Snapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// TrackingServiceDesc describes sarathi.tracking.v1.TrackingService:
//
//	rpc Snapshot(google.protobuf.Struct) returns (google.protobuf.Struct);
//	rpc Watch(google.protobuf.Struct) returns (stream google.protobuf.Struct);
var TrackingServiceDesc = grpc.ServiceDesc{
	ServiceName: TrackingServiceName,
	HandlerType: (*trackingHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Snapshot", Handler: snapshotHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "sarathi/tracking/v1/tracking.proto",
}

// RegisterTrackingServer registers srv with s.
func RegisterTrackingServer(s grpc.ServiceRegistrar, srv *TrackingServer) {
	s.RegisterService(&TrackingServiceDesc, srv)
}

func snapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(trackingHandler).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: snapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(trackingHandler).Snapshot(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(trackingHandler).Watch(in, stream)
}

// TrackingServer implements the tracking endpoints.
type TrackingServer struct {
	Service TrackingService
	Logger  *logger.Logger
}

// Snapshot returns the order's current status and collector.
func (s *TrackingServer) Snapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	orderID := stringField(req, "order_id")
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	o, err := s.Service.GetOrder(ctx, *p, orderID)
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]any{
		"order_id":   o.ID,
		"status":     string(o.Status),
		"lat":        o.Lat,
		"lng":        o.Lng,
		"eco_points": o.EcoPoints,
	}
	if o.Collector != nil {
		out["collector"] = map[string]any{
			"id":    o.Collector.ID,
			"name":  o.Collector.Name,
			"phone": o.Collector.Phone,
		}
	}
	return structpb.NewStruct(out)
}

// Watch streams ETA updates for an order until the order completes or is cancelled, the
// client goes away, or the same client starts watching the order again.
func (s *TrackingServer) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	p, err := auth.RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	orderID := stringField(req, "order_id")
	if orderID == "" {
		return status.Error(codes.InvalidArgument, "order_id is required")
	}
	clientID := stringField(req, "client_id")
	if clientID != "" {
		clientID = p.Kind + ":" + p.ID + ":" + clientID
	}

	updates := make(chan tracking.Update, watchBuffer)
	display := func(u tracking.Update) {
		for {
			select {
			case updates <- u:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	session, err := s.Service.TrackOrder(ctx, *p, clientID, orderID, display)
	if err != nil {
		return toStatus(err)
	}
	defer s.Service.StopTracking(session)

	logg := s.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	lctx := logg.WithActor(logg.WithOrderID(ctx, orderID), p.Kind, p.ID)
	logg.Debug(lctx, "tracking stream opened")
	defer logg.Debug(lctx, "tracking stream closed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			if err := stream.SendMsg(updateStruct(u)); err != nil {
				return err
			}
		case <-session.Done():
			for {
				select {
				case u := <-updates:
					if err := stream.SendMsg(updateStruct(u)); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}

func updateStruct(u tracking.Update) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"order_id":    structpb.NewStringValue(u.OrderID),
		"eta_minutes": structpb.NewNumberValue(float64(u.ETAMinutes)),
		"distance_km": structpb.NewNumberValue(u.DistanceKm),
		"stale":       structpb.NewBoolValue(u.Stale),
		"at":          structpb.NewStringValue(u.At.UTC().Format(time.RFC3339Nano)),
	}}
}

func stringField(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	if v, ok := req.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// toStatus maps application errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if typed := apperr.As(err); typed != nil {
		meta := apperr.MetadataFor(typed.Code())
		msg := typed.Message()
		if typed.Code() == apperr.CodeInternal {
			msg = meta.PublicMessage
		}
		return status.Error(meta.GRPCCode, msg)
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, "internal server error")
}
