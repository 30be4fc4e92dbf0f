package clickhouse

import (
	"context"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2/lib/column"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/suite"
)

// The traced wrappers stand in for the raw driver everywhere the hot store
// is used, so they must keep satisfying the driver interfaces of the pinned
// client version.
var (
	_ driver.Conn  = (*tracedConn)(nil)
	_ driver.Batch = (*tracedBatch)(nil)
)

type TracedConnSuite struct {
	suite.Suite
	fake *fakeConn
	conn driver.Conn
}

func TestTracedConnSuite(t *testing.T) {
	suite.Run(t, new(TracedConnSuite))
}

func (s *TracedConnSuite) SetupTest() {
	s.fake = &fakeConn{batch: &fakeBatch{rows: 3}}
	s.conn = &tracedConn{conn: s.fake}
}

func (s *TracedConnSuite) TestAsyncInsertForwardsArgs() {
	err := s.conn.AsyncInsert(context.Background(), "INSERT INTO events VALUES (?, ?)", true, "ev_1", "api_calls")
	s.NoError(err)
	s.Equal("INSERT INTO events VALUES (?, ?)", s.fake.asyncQuery)
	s.True(s.fake.asyncWait)
	s.Equal([]any{"ev_1", "api_calls"}, s.fake.asyncArgs)
}

func (s *TracedConnSuite) TestPrepareBatchForwardsQuery() {
	_, err := s.conn.PrepareBatch(context.Background(), "INSERT INTO events")
	s.NoError(err)
	s.Equal("INSERT INTO events", s.fake.batchQuery)
}

func (s *TracedConnSuite) TestTracedBatchDelegates() {
	var batch driver.Batch = &tracedBatch{batch: s.fake.batch}
	s.Equal(3, batch.Rows())
	s.Nil(batch.Columns())
	s.NoError(batch.Send())
	s.True(batch.IsSent())
}

// fakeConn records the calls the traced wrapper forwards
type fakeConn struct {
	asyncQuery string
	asyncWait  bool
	asyncArgs  []any
	batchQuery string
	batch      *fakeBatch
}

func (f *fakeConn) Contributors() []string                          { return nil }
func (f *fakeConn) ServerVersion() (*driver.ServerVersion, error)   { return nil, nil }
func (f *fakeConn) Select(context.Context, any, string, ...any) error { return nil }
func (f *fakeConn) Query(context.Context, string, ...any) (driver.Rows, error) {
	return nil, nil
}
func (f *fakeConn) QueryRow(context.Context, string, ...any) driver.Row { return nil }
func (f *fakeConn) PrepareBatch(_ context.Context, query string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
	f.batchQuery = query
	return f.batch, nil
}
func (f *fakeConn) Exec(context.Context, string, ...any) error { return nil }
func (f *fakeConn) AsyncInsert(_ context.Context, query string, wait bool, args ...any) error {
	f.asyncQuery = query
	f.asyncWait = wait
	f.asyncArgs = args
	return nil
}
func (f *fakeConn) Ping(context.Context) error { return nil }
func (f *fakeConn) Stats() driver.Stats        { return driver.Stats{} }
func (f *fakeConn) Close() error               { return nil }

type fakeBatch struct {
	rows int
	sent bool
}

func (f *fakeBatch) Abort() error                    { return nil }
func (f *fakeBatch) Append(...any) error             { return nil }
func (f *fakeBatch) AppendStruct(any) error          { return nil }
func (f *fakeBatch) Column(int) driver.BatchColumn   { return nil }
func (f *fakeBatch) Flush() error                    { return nil }
func (f *fakeBatch) Send() error                     { f.sent = true; return nil }
func (f *fakeBatch) IsSent() bool                    { return f.sent }
func (f *fakeBatch) Rows() int                       { return f.rows }
func (f *fakeBatch) Columns() []column.Interface     { return nil }
