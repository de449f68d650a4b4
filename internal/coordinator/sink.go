package coordinator

import "context"

// ResultSink receives every terminal query result. Sink failures are logged
// and never change the response.
// Production: events.Publisher, archive.Archiver
// Testing: in-memory recorder
type ResultSink interface {
	Publish(ctx context.Context, res Result) error
}
