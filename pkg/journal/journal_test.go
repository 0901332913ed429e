// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/novatechflow/journal/pkg/codec"
	"github.com/novatechflow/journal/pkg/storage"
)

type Deposit struct {
	Amount int `json:"amount"`
}

type Withdrawal struct {
	Amount int `json:"amount"`
}

func testRegistry(t *testing.T) *codec.Registry {
	t.Helper()
	reg := codec.NewRegistry()
	codec.MustRegister[Deposit](reg, "Deposit")
	codec.MustRegister[Withdrawal](reg, "Withdrawal")
	return reg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{now: start, step: time.Millisecond}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func openJournal(t *testing.T, cfg Config, opts ...Option) *Journal {
	t.Helper()
	opts = append([]Option{WithRegistry(testRegistry(t)), WithLogger(quietLogger())}, opts...)
	j, err := Open(cfg, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return j
}

func waitAll(t *testing.T, futures ...*Future) []time.Time {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out := make([]time.Time, len(futures))
	for i, f := range futures {
		ts, err := f.Wait(ctx)
		if err != nil {
			t.Fatalf("future %d: %v", i, err)
		}
		out[i] = ts
	}
	return out
}

func replayAll(t *testing.T, j *Journal, opts ReplayOptions) []any {
	t.Helper()
	var out []any
	for p, err := range j.Replay(context.Background(), opts) {
		if err != nil {
			t.Fatalf("Replay: %v", err)
		}
		out = append(out, p)
	}
	return out
}

func TestSingleBatchSharesTimestamp(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.BatchSize = 100
	cfg.BatchTimeoutMS = 500
	j := openJournal(t, cfg)
	defer j.Close()

	futures := make([]*Future, 50)
	for i := range futures {
		futures[i] = j.Append(fmt.Sprintf("entry-%d", i))
	}
	stamps := waitAll(t, futures...)
	for i, ts := range stamps {
		if !ts.Equal(stamps[0]) {
			t.Fatalf("entry %d stamped %s, expected %s", i, ts, stamps[0])
		}
	}
	entries := j.Statistics().Entries()
	if len(entries) != 1 || entries[0].BatchSize != 50 {
		t.Fatalf("expected a single batch of 50, got %+v", entries)
	}
}

func TestBatchClosesAtSize(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.BatchSize = 3
	cfg.BatchTimeoutMS = 60000
	j := openJournal(t, cfg)
	defer j.Close()

	futures := []*Future{j.Append("a"), j.Append("b"), j.Append("c")}
	stamps := waitAll(t, futures...)
	if !stamps[0].Equal(stamps[2]) {
		t.Fatalf("expected one record for a full batch")
	}
}

func TestTimeoutSeparatesBatches(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.BatchSize = 100
	cfg.BatchTimeoutMS = 10
	j := openJournal(t, cfg)
	defer j.Close()

	first := waitAll(t, j.Append("first"))[0]
	time.Sleep(30 * time.Millisecond)
	second := waitAll(t, j.Append("second"))[0]
	if !first.Before(second) {
		t.Fatalf("expected %s < %s", first, second)
	}
}

func TestReplayAfterReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := ThroughputConfig(dir)
	j := openJournal(t, cfg)
	var want []any
	var futures []*Future
	for i := 0; i < 250; i++ {
		p := any(Deposit{Amount: i})
		if i%3 == 0 {
			p = fmt.Sprintf("note-%d", i)
		}
		want = append(want, p)
		futures = append(futures, j.Append(p))
	}
	waitAll(t, futures...)
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j = openJournal(t, cfg)
	defer j.Close()
	got := replayAll(t, j, ReplayOptions{})
	if len(got) != len(want) {
		t.Fatalf("expected %d payloads, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("payload %d: got %#v want %#v", i, got[i], want[i])
		}
	}
	again := replayAll(t, j, ReplayOptions{})
	if len(again) != len(got) {
		t.Fatalf("replay not idempotent: %d vs %d", len(again), len(got))
	}
	for i := range got {
		if again[i] != got[i] {
			t.Fatalf("replay %d differs: %#v vs %#v", i, again[i], got[i])
		}
	}
}

func TestReplayRange(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	clock := newStepClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	j := openJournal(t, cfg, WithClock(clock.Now))
	defer j.Close()

	var stamps []time.Time
	for _, p := range []string{"p1", "p2", "p3", "p4"} {
		stamps = append(stamps, waitAll(t, j.Append(p))[0])
	}
	for i := 1; i < len(stamps); i++ {
		if !stamps[i-1].Before(stamps[i]) {
			t.Fatalf("timestamps not increasing: %v", stamps)
		}
	}

	only := replayAll(t, j, ReplayOptions{First: stamps[1], Last: stamps[1]})
	if len(only) != 1 || only[0] != "p2" {
		t.Fatalf("expected only p2, got %v", only)
	}
	after := replayAll(t, j, ReplayOptions{First: stamps[1].Add(time.Nanosecond)})
	if len(after) != 2 || after[0] != "p3" || after[1] != "p4" {
		t.Fatalf("expected p3 p4, got %v", after)
	}
	before := replayAll(t, j, ReplayOptions{Last: stamps[0].Add(-time.Nanosecond)})
	if len(before) != 0 {
		t.Fatalf("expected nothing before t1, got %v", before)
	}
	records := 0
	for rec, err := range j.ReplayRecords(context.Background(), stamps[1], stamps[2]) {
		if err != nil {
			t.Fatalf("ReplayRecords: %v", err)
		}
		if rec.Timestamp.Before(stamps[1]) || rec.Timestamp.After(stamps[2]) {
			t.Fatalf("record %s outside range", rec.Timestamp)
		}
		records++
	}
	if records != 2 {
		t.Fatalf("expected 2 records, got %d", records)
	}
}

func TestRotationStartsFileAtTriggeringRecord(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.MaxFileSize = 100
	clock := newStepClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	j := openJournal(t, cfg, WithClock(clock.Now))
	defer j.Close()

	stamps := make(map[time.Time]bool)
	for i := 0; i < 20; i++ {
		ts := waitAll(t, j.Append(Deposit{Amount: i}))[0]
		stamps[ts] = true
	}
	files := j.Files()
	if len(files) < 2 {
		t.Fatalf("expected rotation, got %d files", len(files))
	}
	for i, f := range files {
		if f.Sequence != int64(i+1) {
			t.Fatalf("file %d has sequence %d", i, f.Sequence)
		}
		if !stamps[f.First] {
			t.Fatalf("file %s does not start at a written record timestamp", f.Name)
		}
		if i > 0 && !files[i-1].First.Before(f.First) {
			t.Fatalf("index not sorted: %s then %s", files[i-1].Name, f.Name)
		}
	}
	got := replayAll(t, j, ReplayOptions{})
	if len(got) != 20 {
		t.Fatalf("expected 20 payloads across files, got %d", len(got))
	}
}

func TestDepositWithdrawalTotals(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	j := openJournal(t, cfg)
	defer j.Close()

	for _, p := range []any{Deposit{Amount: 1}, Deposit{Amount: 2}, Withdrawal{Amount: 1}, Deposit{Amount: 3}} {
		waitAll(t, j.Append(p))
	}

	signed := 0
	for p, err := range j.Replay(context.Background(), ReplayOptions{}) {
		if err != nil {
			t.Fatalf("Replay: %v", err)
		}
		switch v := p.(type) {
		case Deposit:
			signed += v.Amount
		case Withdrawal:
			signed -= v.Amount
		}
	}
	if signed != 5 {
		t.Fatalf("expected signed sum 5, got %d", signed)
	}

	deposits := 0
	for d, err := range ReplayOf[Deposit](context.Background(), j, ReplayOptions{}, nil) {
		if err != nil {
			t.Fatalf("ReplayOf: %v", err)
		}
		deposits += d.Amount
	}
	if deposits != 6 {
		t.Fatalf("expected deposits 6, got %d", deposits)
	}

	withdrawals := 0
	isWithdrawal := func(p any) bool { _, ok := p.(Withdrawal); return ok }
	for p, err := range j.Replay(context.Background(), ReplayOptions{Predicate: isWithdrawal}) {
		if err != nil {
			t.Fatalf("Replay: %v", err)
		}
		withdrawals -= p.(Withdrawal).Amount
	}
	if withdrawals != -1 {
		t.Fatalf("expected withdrawals -1, got %d", withdrawals)
	}

	large := 0
	for d, err := range ReplayOf(context.Background(), j, ReplayOptions{}, func(d Deposit) bool { return d.Amount > 1 }) {
		if err != nil {
			t.Fatalf("ReplayOf: %v", err)
		}
		large += d.Amount
	}
	if large != 5 {
		t.Fatalf("expected filtered deposits 5, got %d", large)
	}
}

func TestHelloWorldAcrossTwoBatches(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.BatchSize = 100
	cfg.BatchTimeoutMS = 10
	j := openJournal(t, cfg)
	defer j.Close()

	hello := j.Append("Hello")
	space := j.Append(" ")
	time.Sleep(60 * time.Millisecond)
	world := j.Append("World")
	bang := j.Append("!")
	stamps := waitAll(t, hello, space, world, bang)
	if !stamps[1].Before(stamps[2]) {
		t.Fatalf("expected two batches, got %v", stamps)
	}

	var sb strings.Builder
	for s, err := range ReplayOf[string](context.Background(), j, ReplayOptions{}, nil) {
		if err != nil {
			t.Fatalf("ReplayOf: %v", err)
		}
		sb.WriteString(s)
	}
	if sb.String() != "Hello World!" {
		t.Fatalf("expected %q, got %q", "Hello World!", sb.String())
	}
}

func TestConcurrentAppendsKeepPerCallerOrder(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.BatchSize = 16
	cfg.BatchTimeoutMS = 5
	cfg.SyncWrites = false
	j := openJournal(t, cfg)
	defer j.Close()

	const callers, perCaller = 20, 50
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			futures := make([]*Future, perCaller)
			for i := 0; i < perCaller; i++ {
				futures[i] = j.Append(fmt.Sprintf("%02d:%03d", c, i))
			}
			var prev time.Time
			for _, f := range futures {
				ts, err := f.Wait(context.Background())
				if err != nil {
					errs <- err
					return
				}
				if ts.Before(prev) {
					errs <- fmt.Errorf("caller %d: timestamps went backwards", c)
					return
				}
				prev = ts
			}
		}(c)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	next := make(map[string]int)
	count := 0
	for p, err := range j.Replay(context.Background(), ReplayOptions{}) {
		if err != nil {
			t.Fatalf("Replay: %v", err)
		}
		caller, rest, _ := strings.Cut(p.(string), ":")
		seq, err := strconv.Atoi(rest)
		if err != nil {
			t.Fatalf("parse %v: %v", p, err)
		}
		if seq != next[caller] {
			t.Fatalf("caller %s: got %d want %d", caller, seq, next[caller])
		}
		next[caller]++
		count++
	}
	if count != callers*perCaller {
		t.Fatalf("expected %d payloads, got %d", callers*perCaller, count)
	}
}

func TestCloseDrainsPendingBatch(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.BatchSize = 100
	cfg.BatchTimeoutMS = 60000
	j := openJournal(t, cfg)

	futures := []*Future{j.Append("a"), j.Append("b"), j.Append("c")}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitAll(t, futures...)
	if j.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", j.State())
	}
	if _, err := j.Append("late").Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	j = openJournal(t, cfg)
	defer j.Close()
	if got := replayAll(t, j, ReplayOptions{}); len(got) != 3 {
		t.Fatalf("expected 3 payloads after drain, got %v", got)
	}
}

func TestTimestampsNeverGoBackwardsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	j := openJournal(t, cfg, WithClock(func() time.Time { return future }))
	first := waitAll(t, j.Append("from the future"))[0]
	j.Close()

	j = openJournal(t, cfg, WithClock(func() time.Time { return future.Add(-time.Hour) }))
	defer j.Close()
	latest, err := j.ReadLatestTimestamp()
	if err != nil || !latest.Equal(first) {
		t.Fatalf("ReadLatestTimestamp: %s %v", latest, err)
	}
	second := waitAll(t, j.Append("clock went back"))[0]
	if second.Before(first) {
		t.Fatalf("timestamp regressed: %s < %s", second, first)
	}
}

func TestReadLatestTimestampEmptyJournal(t *testing.T) {
	j := openJournal(t, DefaultConfig(t.TempDir()))
	defer j.Close()
	ts, err := j.ReadLatestTimestamp()
	if err != nil {
		t.Fatalf("ReadLatestTimestamp: %v", err)
	}
	if !ts.Equal(storage.MinTimestamp) {
		t.Fatalf("expected MinTimestamp, got %s", ts)
	}
}

func TestUnknownPayloadFailsOnlyItsBatch(t *testing.T) {
	j := openJournal(t, DefaultConfig(t.TempDir()))
	defer j.Close()

	type refund struct{ Amount int }
	if _, err := j.Append(refund{Amount: 1}).Wait(context.Background()); !errors.Is(err, codec.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	waitAll(t, j.Append("still writing"))
	if j.Err() != nil {
		t.Fatalf("writer should survive a serialization error: %v", j.Err())
	}
}

func TestReplayCancellation(t *testing.T) {
	cfg := ThroughputConfig(t.TempDir())
	cfg.BatchSize = 1
	j := openJournal(t, cfg)
	defer j.Close()
	for i := 0; i < 5; i++ {
		waitAll(t, j.Append(fmt.Sprint(i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	var gotErr error
	seen := 0
	for _, err := range j.Replay(ctx, ReplayOptions{}) {
		if err != nil {
			gotErr = err
			break
		}
		seen++
		if seen == 2 {
			cancel()
		}
	}
	if !errors.Is(gotErr, storage.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", gotErr)
	}
	if seen != 2 {
		t.Fatalf("expected to stop after 2 payloads, got %d", seen)
	}
}

func TestReopenWithEmptyRegistryReadsBuiltins(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	j := openJournal(t, cfg)
	waitAll(t, j.Append("ok"))
	j.Close()

	reg := codec.NewRegistry()
	j, err := Open(cfg, WithRegistry(reg), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()
	waitAll(t, j.Append("plain strings need no registration"))
	if got := replayAll(t, j, ReplayOptions{}); len(got) != 2 {
		t.Fatalf("expected 2 payloads, got %v", got)
	}
}

func TestArchiveUploadsRotatedFiles(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.MaxFileSize = 64
	cfg.Archive.Prefix = "orders"
	s3 := storage.NewMemoryS3Client()
	j := openJournal(t, cfg, WithArchiveClient(s3))
	for i := 0; i < 10; i++ {
		waitAll(t, j.Append(Deposit{Amount: i}))
	}
	files := j.Files()
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if snap, ok := j.ArchiveHealth(); !ok || snap.State != storage.HealthHealthy {
		t.Fatalf("expected healthy archive, got %+v ok=%v", snap, ok)
	}
	keys := s3.Keys()
	if len(keys) != len(files)-1 {
		t.Fatalf("expected %d sealed uploads, got %v", len(files)-1, keys)
	}
	for i, key := range keys {
		if key != "orders/"+files[i].Name {
			t.Fatalf("unexpected key %s", key)
		}
	}
}

type stalledS3 struct {
	*storage.MemoryS3Client
}

func (s stalledS3) UploadFile(ctx context.Context, key string, body []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCloseBoundedByArchiveUploadTimeout(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.MaxFileSize = 1
	cfg.Archive.UploadTimeoutMS = 50
	j := openJournal(t, cfg, WithArchiveClient(stalledS3{storage.NewMemoryS3Client()}))
	waitAll(t, j.Append("a"))
	waitAll(t, j.Append("b"))

	closed := make(chan error, 1)
	go func() { closed <- j.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Close blocked on a stalled archive upload")
	}
	if snap, ok := j.ArchiveHealth(); !ok || snap.ErrorRate != 1 {
		t.Fatalf("expected the stalled upload to be recorded as failed, got %+v", snap)
	}
}

func TestArchiveHealthDisabledWithoutArchive(t *testing.T) {
	j := openJournal(t, DefaultConfig(t.TempDir()))
	defer j.Close()
	if _, ok := j.ArchiveHealth(); ok {
		t.Fatalf("expected no archive health without an archive")
	}
}

func TestOpenRejectsInvalidConfigAndDirectories(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatalf("expected validation error")
	}
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	j := openJournal(t, cfg)
	waitAll(t, j.Append("x"))
	j.Close()
	if err := writeFile(dir, "garbage.journal"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(cfg, WithLogger(quietLogger())); !errors.Is(err, storage.ErrFormat) {
		t.Fatalf("expected ErrFormat for foreign journal file, got %v", err)
	}
}

func writeFile(dir, name string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644)
}

func TestReplayConcurrentWithRotatingAppends(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.MaxFileSize = 128
	cfg.SyncWrites = false
	j := openJournal(t, cfg)

	const callers, perCaller = 4, 40
	var appenders sync.WaitGroup
	appendErr := make(chan error, callers)
	for c := 0; c < callers; c++ {
		appenders.Add(1)
		go func(c int) {
			defer appenders.Done()
			for i := 0; i < perCaller; i++ {
				if _, err := j.Append(fmt.Sprintf("%d-%d", c, i)).Wait(context.Background()); err != nil {
					appendErr <- err
					return
				}
			}
		}(c)
	}
	done := make(chan struct{})
	go func() {
		appenders.Wait()
		close(done)
	}()

	var mu sync.Mutex
	var snapshots [][]any
	var readers sync.WaitGroup
	readErr := make(chan error, 3)
	for r := 0; r < 3; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				var got []any
				for p, err := range j.Replay(context.Background(), ReplayOptions{}) {
					if err != nil {
						readErr <- err
						return
					}
					got = append(got, p)
				}
				mu.Lock()
				snapshots = append(snapshots, got)
				mu.Unlock()
			}
		}()
	}
	readers.Wait()
	close(appendErr)
	close(readErr)
	for err := range appendErr {
		t.Fatalf("Append: %v", err)
	}
	for err := range readErr {
		t.Fatalf("Replay during rotation: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j = openJournal(t, cfg)
	defer j.Close()
	final := replayAll(t, j, ReplayOptions{})
	if len(final) != callers*perCaller {
		t.Fatalf("expected %d payloads, got %d", callers*perCaller, len(final))
	}
	if len(j.Files()) < 2 {
		t.Fatalf("expected rotation, got %d files", len(j.Files()))
	}
	for _, snap := range snapshots {
		if len(snap) > len(final) {
			t.Fatalf("replay saw %d payloads, more than the %d written", len(snap), len(final))
		}
		for i, p := range snap {
			if p != final[i] {
				t.Fatalf("replay is not a prefix of the journal at %d: %v vs %v", i, p, final[i])
			}
		}
	}
}
