package limiter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakePool struct {
	qrErr         error
	qrBlockedTill time.Time
	qrFailsRet    int

	lastExecSQL  string
	lastExecArgs []any
	execErr      error
}

func (f *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.lastExecSQL = sql
	f.lastExecArgs = args
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakePool) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "SELECT blocked_until"):
		return fakeRow{scan: func(dest ...any) error {
			if f.qrErr != nil {
				return f.qrErr
			}
			*(dest[0].(*time.Time)) = f.qrBlockedTill
			return nil
		}}
	case strings.Contains(sql, "RETURNING fail_count"):
		return fakeRow{scan: func(dest ...any) error {
			if f.qrErr != nil {
				return f.qrErr
			}
			*(dest[0].(*int)) = f.qrFailsRet
			return nil
		}}
	default:
		return fakeRow{scan: func(...any) error { return errors.New("unexpected query") }}
	}
}

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newPG(fp *fakePool, p Policy) *PG {
	l := NewPG(fp, p)
	l.now = func() time.Time { return testNow }
	return l
}

func TestPGAllow(t *testing.T) {
	tests := []struct {
		name      string
		pool      *fakePool
		wantOK    bool
		wantRetry time.Duration
		wantErr   bool
	}{
		{name: "no row", pool: &fakePool{qrErr: pgx.ErrNoRows}, wantOK: true},
		{name: "blocked", pool: &fakePool{qrBlockedTill: testNow.Add(10 * time.Minute)}, wantRetry: 10 * time.Minute},
		{name: "block elapsed", pool: &fakePool{qrBlockedTill: testNow.Add(-time.Minute)}, wantOK: true},
		{name: "epoch", pool: &fakePool{qrBlockedTill: time.Unix(0, 0)}, wantOK: true},
		{name: "db error", pool: &fakePool{qrErr: errors.New("db boom")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, retry, err := newPG(tt.pool, DefaultPolicy).Allow(context.Background(), "alice", HashIP("1.2.3.4"))
			if tt.wantErr {
				require.Error(t, err)
				require.False(t, ok)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.wantRetry, retry)
		})
	}
}

func TestPGSuccess(t *testing.T) {
	fp := &fakePool{}
	require.NoError(t, newPG(fp, DefaultPolicy).Success(context.Background(), "alice", []byte("h")))
	require.Contains(t, fp.lastExecSQL, "INSERT INTO auth_limiter")

	fp.execErr = errors.New("exec fail")
	require.Error(t, newPG(fp, DefaultPolicy).Success(context.Background(), "alice", []byte("h")))
}

func TestPGFailure(t *testing.T) {
	p := Policy{Window: 5 * time.Minute, MaxFails: 5, BlockFor: 10 * time.Minute}

	fp := &fakePool{qrFailsRet: 2}
	blocked, retry, err := newPG(fp, p).Failure(context.Background(), "alice", []byte("h"))
	require.NoError(t, err)
	require.False(t, blocked)
	require.Zero(t, retry)
	require.Empty(t, fp.lastExecSQL)

	fp = &fakePool{qrFailsRet: 5}
	blocked, retry, err = newPG(fp, p).Failure(context.Background(), "alice", []byte("h"))
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, retry)
	require.Contains(t, fp.lastExecSQL, "UPDATE auth_limiter SET blocked_until")
	require.Equal(t, testNow.Add(10*time.Minute), fp.lastExecArgs[2])

	fp = &fakePool{qrErr: errors.New("query error")}
	_, _, err = newPG(fp, p).Failure(context.Background(), "alice", []byte("h"))
	require.Error(t, err)
}

func TestHashIP_Determinism(t *testing.T) {
	a := HashIP("1.2.3.4:123")
	require.Equal(t, a, HashIP("1.2.3.4:123"))
	require.NotEqual(t, a, HashIP("5.6.7.8:321"))
	require.Len(t, a, 32)
}

func TestNoop(t *testing.T) {
	var l Limiter = Noop{}
	ok, _, err := l.Allow(context.Background(), "alice", nil)
	require.NoError(t, err)
	require.True(t, ok)
	blocked, _, err := l.Failure(context.Background(), "alice", nil)
	require.NoError(t, err)
	require.False(t, blocked)
	require.NoError(t, l.Success(context.Background(), "alice", nil))
}
