// Package flight serves result tables over Arrow Flight and fetches them
// back.
package flight

import (
	"context"
	"strings"

	"github.com/TFMV/blotter/auth"
	"github.com/TFMV/blotter/dataset"
	"github.com/TFMV/blotter/db"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const authHeader = "authorization"

// BlotterFlightService streams catalog tables. A ticket is the table name.
type BlotterFlightService struct {
	flight.BaseFlightServer
	catalog *db.DB
	authn   auth.Authenticator
	roles   auth.RoleManager
	logger  *zap.Logger
}

// NewBlotterFlightService serves catalog. When authn is nil every request
// is allowed; otherwise callers need a bearer token whose user holds the
// reader role.
func NewBlotterFlightService(catalog *db.DB, authn auth.Authenticator, roles auth.RoleManager, logger *zap.Logger) *BlotterFlightService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlotterFlightService{
		catalog: catalog,
		authn:   authn,
		roles:   roles,
		logger:  logger,
	}
}

func (s *BlotterFlightService) authorize(ctx context.Context) error {
	if s.authn == nil {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(authHeader)
	if len(values) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}
	token, ok := strings.CutPrefix(values[0], "Bearer ")
	if !ok {
		return status.Error(codes.Unauthenticated, "expected a bearer token")
	}
	user, err := s.authn.Authenticate(token)
	if err != nil {
		return status.Errorf(codes.Unauthenticated, "authenticate: %v", err)
	}
	if s.roles == nil || !s.roles.HasRole(user, auth.RoleReader) {
		return status.Errorf(codes.PermissionDenied, "user %q may not read tables", user)
	}
	return nil
}

func (s *BlotterFlightService) lookup(name string) (*dataset.Table, error) {
	t, ok := s.catalog.Get(name)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no table %q", name)
	}
	return t, nil
}

func (s *BlotterFlightService) info(t *dataset.Table) *flight.FlightInfo {
	return &flight.FlightInfo{
		Schema: flight.SerializeSchema(t.Schema(), dataset.Pool),
		FlightDescriptor: &flight.FlightDescriptor{
			Type: flight.DescriptorPATH,
			Path: []string{t.Name()},
		},
		Endpoint: []*flight.FlightEndpoint{{
			Ticket: &flight.Ticket{Ticket: []byte(t.Name())},
		}},
		TotalRecords: t.NumRows(),
		TotalBytes:   -1,
	}
}

func (s *BlotterFlightService) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	if err := s.authorize(stream.Context()); err != nil {
		return err
	}
	t, err := s.lookup(string(ticket.GetTicket()))
	if err != nil {
		return err
	}

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(t.Schema()))
	defer writer.Close()

	for _, rec := range t.Records() {
		if err := writer.Write(rec); err != nil {
			return status.Errorf(codes.Internal, "failed to write record: %v", err)
		}
	}
	s.logger.Debug("table served", zap.String("table", t.Name()), zap.Int64("rows", t.NumRows()))
	return nil
}

func (s *BlotterFlightService) ListFlights(_ *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	if err := s.authorize(stream.Context()); err != nil {
		return err
	}
	for _, name := range s.catalog.Tables() {
		t, err := s.lookup(name)
		if err != nil {
			continue
		}
		if err := stream.Send(s.info(t)); err != nil {
			return err
		}
	}
	return nil
}

func (s *BlotterFlightService) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	if len(desc.GetPath()) != 1 {
		return nil, status.Error(codes.InvalidArgument, "descriptor path must name one table")
	}
	t, err := s.lookup(desc.GetPath()[0])
	if err != nil {
		return nil, err
	}
	return s.info(t), nil
}

// NewServer returns a Flight server with svc registered. The caller runs
// Init, Serve and Shutdown.
func NewServer(svc *BlotterFlightService) flight.Server {
	srv := flight.NewServerWithMiddleware(nil)
	srv.RegisterFlightService(svc)
	return srv
}
