package flight

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/TFMV/blotter/dataset"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// ---------------------------------------------------------------------
// Flight Client
// ---------------------------------------------------------------------

// FlightClient fetches result tables from a BlotterFlightService.
type FlightClient struct {
	client flight.Client
	token  string
}

// NewFlightClient connects to addr without transport security. token may be
// empty when the server does not require one.
func NewFlightClient(addr, token string) (*FlightClient, error) {
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create flight client: %w", err)
	}
	return &FlightClient{client: client, token: token}, nil
}

func (c *FlightClient) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, authHeader, "Bearer "+c.token)
}

// Fetch downloads the table called name.
func (c *FlightClient) Fetch(ctx context.Context, name string) (*dataset.Table, error) {
	stream, err := c.client.DoGet(c.outgoing(ctx), &flight.Ticket{Ticket: []byte(name)})
	if err != nil {
		return nil, fmt.Errorf("DoGet failed: %w", err)
	}
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		rec := reader.Record()
		// Retain the record so it's safe to use after Next()
		rec.Retain()
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		for _, rec := range records {
			rec.Release()
		}
		return nil, fmt.Errorf("error reading from flight stream: %w", err)
	}
	return dataset.NewTable(name, reader.Schema(), records), nil
}

// List returns the names of the tables the server offers.
func (c *FlightClient) List(ctx context.Context) ([]string, error) {
	stream, err := c.client.ListFlights(c.outgoing(ctx), &flight.Criteria{})
	if err != nil {
		return nil, fmt.Errorf("ListFlights failed: %w", err)
	}
	var names []string
	for {
		info, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, info.GetFlightDescriptor().GetPath()...)
	}
}

func (c *FlightClient) Close() error {
	return c.client.Close()
}
