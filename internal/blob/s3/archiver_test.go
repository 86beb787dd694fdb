package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

type memWriter struct {
	objects   map[string][]byte
	multipart []string
	err       error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = map[string][]byte{}
	}
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	w.multipart = append(w.multipart, path)
	return w.Put(ctx, path, data, jsonlContentType)
}

type fakeLedger struct {
	domain.LedgerReader
	rewards []domain.Reward
	events  []domain.Event
	since   time.Time
	until   time.Time
}

func (l *fakeLedger) RewardsBetween(_ context.Context, since, until time.Time) ([]domain.Reward, error) {
	l.since, l.until = since, until
	return l.rewards, nil
}

func (l *fakeLedger) EventsBetween(_ context.Context, since, until time.Time) ([]domain.Event, error) {
	l.since, l.until = since, until
	return l.events, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var day = time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

func TestArchivePath(t *testing.T) {
	tests := []struct {
		name         string
		since, until time.Time
		want         string
	}{
		{"whole day", day, day.Add(24 * time.Hour), "rewards/2026-10-18.jsonl"},
		{"partial day", day.Add(6 * time.Hour), day.Add(12 * time.Hour), "rewards/20261018T060000Z_20261018T120000Z.jsonl"},
		{"two days", day, day.Add(48 * time.Hour), "rewards/20261018T000000Z_20261020T000000Z.jsonl"},
		{"non-utc input", day.In(time.FixedZone("x", 3600)), day.Add(24 * time.Hour), "rewards/2026-10-18.jsonl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, archivePath("rewards", tt.since, tt.until))
		})
	}
}

func TestArchiveRewards_WritesJSONL(t *testing.T) {
	amt := decimal.RequireFromString("4.931506849315068493")
	ledger := &fakeLedger{rewards: []domain.Reward{
		{ID: "r-1", PositionID: "pos-1", Type: domain.RewardAccrual, Amount: amt, CreatedAt: day.Add(time.Hour)},
		{ID: "r-2", PositionID: "pos-1", Type: domain.RewardClaim, Amount: amt, CreatedAt: day.Add(2 * time.Hour)},
	}}
	w := &memWriter{}
	a := NewArchiver(w, ledger, discardLogger())

	n, err := a.ArchiveRewards(context.Background(), day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, day, ledger.since)

	body, ok := w.objects["rewards/2026-10-18.jsonl"]
	require.True(t, ok)

	var got []domain.Reward
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var r domain.Reward
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "r-1", got[0].ID)
	assert.True(t, got[0].Amount.Equal(amt))
	assert.Equal(t, domain.RewardClaim, got[1].Type)
	assert.Empty(t, w.multipart)
}

func TestArchiveEvents_EmptyWindowUploadsNothing(t *testing.T) {
	w := &memWriter{}
	a := NewArchiver(w, &fakeLedger{}, discardLogger())

	n, err := a.ArchiveEvents(context.Background(), day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestArchiveEvents_UploadError(t *testing.T) {
	ledger := &fakeLedger{events: []domain.Event{{ID: "e-1", Type: domain.EventPositionCreated}}}
	w := &memWriter{err: errors.New("bucket gone")}
	a := NewArchiver(w, ledger, discardLogger())

	n, err := a.ArchiveEvents(context.Background(), day, day.Add(24*time.Hour))
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestClient_ObjectKey(t *testing.T) {
	assert.Equal(t, "archive/rewards/x.jsonl", (&Client{prefix: "archive"}).ObjectKey("/rewards/x.jsonl"))
	assert.Equal(t, "rewards/x.jsonl", (&Client{}).ObjectKey("rewards/x.jsonl"))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}
