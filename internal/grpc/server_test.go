package grpcserver

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"sarathi/internal/auth"
	"sarathi/internal/changefeed"
	apperr "sarathi/internal/errors"
	"sarathi/internal/pickup"
	"sarathi/internal/routing"
	"sarathi/internal/testutil"
	"sarathi/internal/tracking"
	"sarathi/repository"
)

const testSecret = "grpc-test-secret"

type grpcFixture struct {
	svc     *pickup.Service
	tracker *tracking.Tracker
	conn    *grpc.ClientConn
}

func newGRPCFixture(t *testing.T, name string) *grpcFixture {
	t.Helper()
	d := testutil.OpenInMemoryDB(t, name)
	feed := changefeed.NewMemory(nil)
	tr := tracking.New(tracking.Config{
		Positions: tracking.ChangefeedPositions{Feed: feed},
		Router:    routing.NewEstimator(20),
		Orders:    feed,
	})
	svc, err := pickup.New(pickup.Deps{
		Orders:        repository.NewOrderRepository(d),
		Collectors:    repository.NewCollectorRepository(d),
		Citizens:      repository.NewCitizenRepository(d),
		Notifications: repository.NewNotificationRepository(d),
		Feed:          feed,
		Tracker:       tr,
		Now:           func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) },
		Location:      time.UTC,
	})
	if err != nil {
		t.Fatalf("pickup service: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(testSecret, svc, nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &grpcFixture{svc: svc, tracker: tr, conn: conn}
}

// assignedOrder creates an order that is matched with a collector 2 km away.
func (f *grpcFixture) assignedOrder(t *testing.T) (orderID, collectorID, qr string) {
	t.Helper()
	ctx := context.Background()
	c, err := f.svc.RegisterCollector(ctx, "Ravi", "+919800000001")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.svc.ApproveCollector(ctx, c.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.SetCollectorOnline(ctx, c.ID, true); err != nil {
		t.Fatalf("online: %v", err)
	}
	if _, err := f.svc.UpdateCollectorLocation(ctx, c.ID, 12.9716+2/111.195, 77.5946); err != nil {
		t.Fatalf("location: %v", err)
	}
	lat, lng := 12.9716, 77.5946
	res, err := f.svc.CreateOrder(ctx, "cit-1", pickup.CreateOrderInput{
		Name: "Asha", Phone: "+919811111111", Address: "12 MG Road",
		Lat: &lat, Lng: &lng, Category: "dry", WeightKg: 12,
		PickupDate: "2026-03-02", PickupTime: "10:00",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if res.Assignment == nil {
		t.Fatalf("expected the order to be assigned")
	}
	return res.Order.ID, c.ID, res.QRPayload
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return s
}

func TestHealthCheck_NoAuth(t *testing.T) {
	f := newGRPCFixture(t, "grpc_health")
	resp, err := healthpb.NewHealthClient(f.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: TrackingServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v", resp.GetStatus())
	}
}

func TestSnapshot(t *testing.T) {
	f := newGRPCFixture(t, "grpc_snapshot")
	orderID, collectorID, _ := f.assignedOrder(t)

	var out structpb.Struct
	err := f.conn.Invoke(context.Background(), snapshotMethod, request(t, map[string]any{"order_id": orderID}), &out)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without token, got %v", err)
	}

	citizen := testutil.GenerateJWTHS256(t, testSecret, "cit-1", auth.KindCitizen)
	ctx := testutil.OutgoingBearer(context.Background(), citizen)
	if err := f.conn.Invoke(ctx, snapshotMethod, request(t, map[string]any{"order_id": orderID}), &out); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got := out.GetFields()["status"].GetStringValue(); got != "accepted" {
		t.Fatalf("status = %q", got)
	}
	col := out.GetFields()["collector"].GetStructValue()
	if col.GetFields()["id"].GetStringValue() != collectorID {
		t.Fatalf("unexpected collector %v", col)
	}

	stranger := testutil.OutgoingBearer(context.Background(), testutil.GenerateJWTHS256(t, testSecret, "cit-2", auth.KindCitizen))
	err = f.conn.Invoke(stranger, snapshotMethod, request(t, map[string]any{"order_id": orderID}), &out)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied for another citizen, got %v", err)
	}

	err = f.conn.Invoke(ctx, snapshotMethod, request(t, map[string]any{}), &out)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument without order_id, got %v", err)
	}
}

func openWatch(t *testing.T, f *grpcFixture, ctx context.Context, orderID string) grpc.ClientStream {
	t.Helper()
	stream, err := f.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, watchMethod)
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	if err := stream.SendMsg(request(t, map[string]any{"order_id": orderID})); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
	return stream
}

func waitForSessions(t *testing.T, tr *tracking.Tracker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tr.Active() != n {
		if time.Now().After(deadline) {
			t.Fatalf("active sessions = %d, want %d", tr.Active(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatch_StreamsUntilCompletion(t *testing.T) {
	f := newGRPCFixture(t, "grpc_watch")
	orderID, collectorID, qr := f.assignedOrder(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = testutil.OutgoingBearer(ctx, testutil.GenerateJWTHS256(t, testSecret, "cit-1", auth.KindCitizen))

	stream := openWatch(t, f, ctx, orderID)
	waitForSessions(t, f.tracker, 1)

	if _, err := f.svc.UpdateCollectorLocation(context.Background(), collectorID, 12.9716+1/111.195, 77.5946); err != nil {
		t.Fatalf("location: %v", err)
	}
	var msg structpb.Struct
	if err := stream.RecvMsg(&msg); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if got := msg.GetFields()["order_id"].GetStringValue(); got != orderID {
		t.Fatalf("order_id = %q", got)
	}
	if d := msg.GetFields()["distance_km"].GetNumberValue(); d < 0.99 || d > 1.01 {
		t.Fatalf("distance_km = %v, want ~1", d)
	}
	if msg.GetFields()["stale"].GetBoolValue() {
		t.Fatalf("fresh update marked stale")
	}

	bg := context.Background()
	for _, step := range []func() error{
		func() error { _, err := f.svc.MarkArrived(bg, collectorID, orderID); return err },
		func() error { _, err := f.svc.VerifyQR(bg, collectorID, orderID, qr); return err },
		func() error { _, err := f.svc.CompleteCollection(bg, collectorID, orderID); return err },
	} {
		if err := step(); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}
	if err := stream.RecvMsg(&msg); !errors.Is(err, io.EOF) {
		t.Fatalf("expected stream to end after completion, got %v", err)
	}
	waitForSessions(t, f.tracker, 0)
}

func TestWatch_Rejections(t *testing.T) {
	f := newGRPCFixture(t, "grpc_watch_reject")
	orderID, _, _ := f.assignedOrder(t)

	stream := openWatch(t, f, context.Background(), orderID)
	var msg structpb.Struct
	if err := stream.RecvMsg(&msg); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}

	ctx := testutil.OutgoingBearer(context.Background(), testutil.GenerateJWTHS256(t, testSecret, "cit-1", auth.KindCitizen))
	stream = openWatch(t, f, ctx, "SAR-20260301-NOPE00")
	if err := stream.RecvMsg(&msg); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{apperr.New(apperr.CodeInvalidTransition, "no"), codes.FailedPrecondition},
		{apperr.New(apperr.CodePayloadMismatch, "no"), codes.InvalidArgument},
		{apperr.New(apperr.CodeRetrieval, "no"), codes.Unavailable},
		{status.Error(codes.PermissionDenied, "no"), codes.PermissionDenied},
		{errors.New("raw"), codes.Internal},
	}
	for _, tc := range cases {
		if got := status.Code(toStatus(tc.err)); got != tc.want {
			t.Fatalf("toStatus(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
