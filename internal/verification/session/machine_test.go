package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"salesops-relay/internal/verification/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// manualTicker never fires on its own; tests call fire or Machine.Tick.
type manualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}
func (t *manualTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type tickerRecorder struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (r *tickerRecorder) factory(time.Duration) Ticker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	r.tickers = append(r.tickers, t)
	return t
}

func (r *tickerRecorder) last() *manualTicker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tickers) == 0 {
		return nil
	}
	return r.tickers[len(r.tickers)-1]
}

type submission struct {
	sessionID, taskID, code string
	visibleAtDispatch       bool
}

// mockSubmitter records Dispatch calls together with the prompt visibility at that moment.
type mockSubmitter struct {
	mu    sync.Mutex
	m     *Machine
	calls []submission
}

func (s *mockSubmitter) Dispatch(sessionID, taskID, code string) {
	visible := false
	if s.m != nil {
		visible = s.m.Snapshot().Visible
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, submission{sessionID: sessionID, taskID: taskID, code: code, visibleAtDispatch: visible})
}

func (s *mockSubmitter) getCalls() []submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]submission(nil), s.calls...)
}

type mockChannel struct {
	mu          sync.Mutex
	disconnects int
}

func (c *mockChannel) Disconnect() {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
}

func (c *mockChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	m       *Machine
	sub     *mockSubmitter
	ch      *mockChannel
	tickers *tickerRecorder
	log     *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sub:     &mockSubmitter{},
		ch:      &mockChannel{},
		tickers: &tickerRecorder{},
		log:     &eventLog{},
	}
	ids := 0
	f.m = NewMachine(Deps{
		Submitter: f.sub,
		Channel:   f.ch,
		Observers: []Observer{f.log.observe},
		NewTicker: f.tickers.factory,
		NewID: func() string {
			ids++
			return fmt.Sprintf("s%d", ids)
		},
	})
	f.sub.m = f.m
	t.Cleanup(f.m.Stop)
	return f
}

func need(taskID, phone string) domain.NeedFrame {
	return domain.NeedFrame{TaskID: taskID, Message: "请为手机 " + phone + " 输入验证码"}
}

func TestOpen_PopulatesSession(t *testing.T) {
	f := newFixture(t)
	f.m.Open(need("t1", "13900001234"))

	s := f.m.Snapshot()
	if s.TaskID != "t1" {
		t.Errorf("TaskID = %q, want t1", s.TaskID)
	}
	if s.PhoneNumber != "13900001234" {
		t.Errorf("PhoneNumber = %q, want 13900001234", s.PhoneNumber)
	}
	if !s.Visible {
		t.Error("Visible should be true")
	}
	if !s.CountdownActive {
		t.Error("CountdownActive should be true")
	}
	if s.CountdownSeconds != domain.CountdownStart {
		t.Errorf("CountdownSeconds = %d, want %d", s.CountdownSeconds, domain.CountdownStart)
	}
	if s.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", s.SessionID)
	}
	if s.OpenedAt.IsZero() {
		t.Error("OpenedAt should be set")
	}
	if s.Digits != [domain.CodeLength]string{} {
		t.Errorf("Digits = %v, want empty", s.Digits)
	}
}

func TestOpen_UnknownPhonePlaceholder(t *testing.T) {
	f := newFixture(t)
	f.m.Open(domain.NeedFrame{TaskID: "t1", Message: "verification required"})
	if got := f.m.Snapshot().PhoneNumber; got != domain.UnknownPhone {
		t.Errorf("PhoneNumber = %q, want placeholder", got)
	}
}

func TestOpen_ResetsPriorSession(t *testing.T) {
	f := newFixture(t)
	f.m.Open(need("t1", "13900001234"))
	for i, d := range []string{"9", "8", "7"} {
		if _, _, err := f.m.SetDigit(i, d); err != nil {
			t.Fatalf("SetDigit(%d): %v", i, err)
		}
	}
	for i := 0; i < 25; i++ {
		f.m.Tick()
	}
	first := f.tickers.last()

	f.m.Open(need("t2", "13800001111"))
	s := f.m.Snapshot()
	if s.Digits != [domain.CodeLength]string{} {
		t.Errorf("Digits = %v, want reset", s.Digits)
	}
	if s.CountdownSeconds != domain.CountdownStart {
		t.Errorf("CountdownSeconds = %d, want %d", s.CountdownSeconds, domain.CountdownStart)
	}
	if s.TaskID != "t2" {
		t.Errorf("TaskID = %q, want t2", s.TaskID)
	}
	if !first.isStopped() {
		t.Error("previous ticker should be stopped")
	}
	types := f.log.types()
	if types[len(types)-2] != EventSuperseded || types[len(types)-1] != EventOpened {
		t.Errorf("events = %v, want ... superseded, opened", types)
	}
	if len(f.sub.getCalls()) != 0 {
		t.Error("replacing a prompt must not submit")
	}
}

func TestSetDigit_CompleteSubmitsOnceAfterClosing(t *testing.T) {
	f := newFixture(t)
	f.m.Open(need("t1", "13900001234"))

	for i, d := range []string{"1", "2", "3", "4", "5", "6"} {
		next, advance, err := f.m.SetDigit(i, d)
		if err != nil {
			t.Fatalf("SetDigit(%d): %v", i, err)
		}
		if i < 5 && (!advance || next != i+1) {
			t.Errorf("SetDigit(%d) focus = (%d, %v), want (%d, true)", i, next, advance, i+1)
		}
		if i == 5 && advance {
			t.Error("last slot should not advance")
		}
	}

	calls := f.sub.getCalls()
	if len(calls) != 1 {
		t.Fatalf("submissions = %d, want 1", len(calls))
	}
	if calls[0].taskID != "t1" || calls[0].code != "123456" {
		t.Errorf("submission = %+v, want t1/123456", calls[0])
	}
	if calls[0].visibleAtDispatch {
		t.Error("prompt must be closed before the submission is dispatched")
	}
	s := f.m.Snapshot()
	if s.Visible || s.CountdownActive || s.TaskID != "" {
		t.Errorf("session after submit = %+v, want idle", s)
	}
	if !f.tickers.last().isStopped() {
		t.Error("ticker should be stopped after submit")
	}
	if f.ch.count() != 1 {
		t.Errorf("disconnects = %d, want 1", f.ch.count())
	}

	// A further entry cannot re-trigger submission.
	if _, _, err := f.m.SetDigit(5, "7"); !errors.Is(err, ErrInactive) {
		t.Errorf("SetDigit after submit err = %v, want ErrInactive", err)
	}
	if len(f.sub.getCalls()) != 1 {
		t.Error("submission must happen at most once per session")
	}
}

func TestSetDigit_AnyOrderSubmitsInSlotOrder(t *testing.T) {
	orders := [][]int{
		{5, 4, 3, 2, 1, 0},
		{2, 0, 5, 1, 4, 3},
		{0, 1, 2, 3, 4, 5},
	}
	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			f := newFixture(t)
			f.m.Open(need("t9", "13900001234"))
			for _, i := range order {
				if _, _, err := f.m.SetDigit(i, string(rune('a'+i))); err != nil {
					t.Fatalf("SetDigit(%d): %v", i, err)
				}
			}
			calls := f.sub.getCalls()
			if len(calls) != 1 {
				t.Fatalf("submissions = %d, want 1", len(calls))
			}
			if calls[0].code != "abcdef" {
				t.Errorf("code = %q, want abcdef", calls[0].code)
			}
			if f.m.Snapshot().Visible {
				t.Error("Visible should be false after completion")
			}
		})
	}
}

func TestSetDigit_OverwriteAndClearDoNotSubmitEarly(t *testing.T) {
	f := newFixture(t)
	f.m.Open(need("t1", "13900001234"))
	for i := 0; i < 5; i++ {
		_, _, _ = f.m.SetDigit(i, "1")
	}
	_, _, _ = f.m.SetDigit(4, "")
	_, _, _ = f.m.SetDigit(5, "2")
	if len(f.sub.getCalls()) != 0 {
		t.Fatal("cleared slot must prevent submission")
	}
	_, _, _ = f.m.SetDigit(4, "3")
	calls := f.sub.getCalls()
	if len(calls) != 1 || calls[0].code != "111132" {
		t.Errorf("calls = %+v, want one with 111132", calls)
	}
}

func TestSetDigit_KeepsFirstCharacter(t *testing.T) {
	f := newFixture(t)
	f.m.Open(need("t1", "13900001234"))
	if _, _, err := f.m.SetDigit(0, "789"); err != nil {
		t.Fatalf("SetDigit: %v", err)
	}
	if _, _, err := f.m.SetDigit(1, "验证"); err != nil {
		t.Fatalf("SetDigit: %v", err)
	}
	s := f.m.Snapshot()
	if s.Digits[0] != "7" {
		t.Errorf("slot 0 = %q, want 7", s.Digits[0])
	}
	if s.Digits[1] != "验" {
		t.Errorf("slot 1 = %q, want 验", s.Digits[1])
	}
}

func TestSetDigit_EmptyInputDoesNotAdvance(t *testing.T) {
	f := newFixture(t)
	f.m.Open(need("t1", "13900001234"))
	next, advance, err := f.m.SetDigit(2, "")
	if err != nil {
		t.Fatalf("SetDigit: %v", err)
	}
	if advance || next != 2 {
		t.Errorf("focus = (%d, %v), want (2, false)", next, advance)
	}
}

func TestSetDigit_RejectedWhenInactive(t *testing.T) {
	f := newFixture(t)

	// Idle: nothing running.
	if _, _, err := f.m.SetDigit(0, "1"); !errors.Is(err, ErrInactive) {
		t.Errorf("idle SetDigit err = %v, want ErrInactive", err)
	}

	f.m.Open(need("t1", "13900001234"))
	_, _, _ = f.m.SetDigit(0, "1")
	f.m.Stop()
	before := f.m.Snapshot().Digits
	if _, _, err := f.m.SetDigit(1, "2"); !errors.Is(err, ErrInactive) {
		t.Errorf("stopped SetDigit err = %v, want ErrInactive", err)
	}
	if f.m.Snapshot().Digits != before {
		t.Errorf("Digits changed while inactive: %v", f.m.Snapshot().Digits)
	}
}

func TestSetDigit_SlotRange(t *testing.T) {
	f := newFixture(t)
	f.m.Open(need("t1", "13900001234"))
	for _, i := range []int{-1, domain.CodeLength} {
		if _, _, err := f.m.SetDigit(i, "1"); !errors.Is(err, ErrSlotRange) {
			t.Errorf("SetDigit(%d) err = %v, want ErrSlotRange", i, err)
		}
	}
}

func TestBackspace(t *testing.T) {
	f := newFixture(t)
	f.m.Open(need("t1", "13900001234"))
	_, _, _ = f.m.SetDigit(0, "1")
	_, _, _ = f.m.SetDigit(2, "3")

	testCases := []struct {
		name     string
		index    int
		wantPrev int
		wantMove bool
	}{
		{"first slot", 0, 0, false},
		{"empty slot moves back", 1, 0, true},
		{"filled slot stays", 2, 2, false},
		{"empty last slot", 5, 4, true},
		{"out of range", 6, 6, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := f.m.Snapshot()
			prev, move := f.m.Backspace(tc.index)
			if prev != tc.wantPrev || move != tc.wantMove {
				t.Errorf("Backspace(%d) = (%d, %v), want (%d, %v)", tc.index, prev, move, tc.wantPrev, tc.wantMove)
			}
			if f.m.Snapshot() != before {
				t.Error("Backspace must not mutate state")
			}
		})
	}
}

func TestTick_ExpiresAfterCountdown(t *testing.T) {
	f := newFixture(t)
	f.m.Open(need("t1", "13900001234"))

	for i := 1; i < domain.CountdownStart; i++ {
		f.m.Tick()
		s := f.m.Snapshot()
		if s.CountdownSeconds != domain.CountdownStart-i {
			t.Fatalf("after %d ticks CountdownSeconds = %d", i, s.CountdownSeconds)
		}
		if !s.Visible || !s.CountdownActive {
			t.Fatalf("after %d ticks session should still be open", i)
		}
	}
	if f.ch.count() != 0 {
		t.Fatal("channel should stay connected before expiry")
	}

	f.m.Tick()
	s := f.m.Snapshot()
	if s.Visible || s.CountdownActive || s.TaskID != "" {
		t.Errorf("session after expiry = %+v, want idle", s)
	}
	if f.ch.count() != 1 {
		t.Errorf("disconnects = %d, want 1", f.ch.count())
	}
	if len(f.sub.getCalls()) != 0 {
		t.Error("expiry must not submit")
	}
	if !f.tickers.last().isStopped() {
		t.Error("ticker should be stopped on expiry")
	}
	types := f.log.types()
	if types[len(types)-1] != EventExpired {
		t.Errorf("last event = %v, want expired", types[len(types)-1])
	}

	// Further ticks are ignored.
	f.m.Tick()
	if f.ch.count() != 1 {
		t.Error("tick after expiry should be a no-op")
	}
}

func TestTick_CustomCountdown(t *testing.T) {
	tickers := &tickerRecorder{}
	ch := &mockChannel{}
	m := NewMachine(Deps{Channel: ch, NewTicker: tickers.factory, Countdown: 3})
	t.Cleanup(m.Stop)
	m.Open(need("t1", "13900001234"))
	if got := m.Snapshot().CountdownSeconds; got != 3 {
		t.Fatalf("CountdownSeconds = %d, want 3", got)
	}
	m.Tick()
	m.Tick()
	m.Tick()
	if m.Snapshot().Visible {
		t.Error("prompt should expire after 3 ticks")
	}
	if ch.count() != 1 {
		t.Errorf("disconnects = %d, want 1", ch.count())
	}
}

func TestTicker_DrivesCountdown(t *testing.T) {
	f := newFixture(t)
	ticked := make(chan Event, 4)
	f.m.observers = append(f.m.observers, func(ev Event) {
		if ev.Type == EventTicked {
			ticked <- ev
		}
	})
	f.m.Open(need("t1", "13900001234"))

	f.tickers.last().ch <- time.Now()
	select {
	case ev := <-ticked:
		if ev.Session.CountdownSeconds != domain.CountdownStart-1 {
			t.Errorf("CountdownSeconds = %d, want %d", ev.Session.CountdownSeconds, domain.CountdownStart-1)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick was not delivered")
	}
}

func TestClose_TearsDownWithoutSubmit(t *testing.T) {
	f := newFixture(t)
	f.m.Open(need("t1", "13900001234"))
	_, _, _ = f.m.SetDigit(0, "1")

	f.m.Close()
	s := f.m.Snapshot()
	if s.Visible || s.CountdownActive || s.TaskID != "" {
		t.Errorf("session after close = %+v, want idle", s)
	}
	if s.Digits != [domain.CodeLength]string{} {
		t.Errorf("Digits = %v, want cleared", s.Digits)
	}
	if f.ch.count() != 1 {
		t.Errorf("disconnects = %d, want 1", f.ch.count())
	}
	if len(f.sub.getCalls()) != 0 {
		t.Error("close must not submit")
	}

	// Closing an idle machine is a no-op.
	f.m.Close()
	if f.ch.count() != 1 {
		t.Error("second close should not disconnect again")
	}
}

func TestConfirm(t *testing.T) {
	t.Run("visible", func(t *testing.T) {
		f := newFixture(t)
		f.m.Open(need("t1", "13900001234"))
		f.m.Confirm()
		s := f.m.Snapshot()
		if s.Visible || s.CountdownActive || s.TaskID != "" {
			t.Errorf("session after confirm = %+v, want idle", s)
		}
		if len(f.sub.getCalls()) != 0 {
			t.Error("confirm must not submit")
		}
		if f.ch.count() != 0 {
			t.Error("confirm should leave the channel connected")
		}
		if !f.tickers.last().isStopped() {
			t.Error("ticker should be stopped on confirm")
		}
	})
	t.Run("idle", func(t *testing.T) {
		f := newFixture(t)
		f.m.Confirm()
		if f.m.Snapshot() != (domain.Session{}) {
			t.Error("confirm while idle should have no effect")
		}
		if len(f.log.types()) != 0 {
			t.Errorf("events = %v, want none", f.log.types())
		}
	})
}

func TestScenario_PromptToSubmission(t *testing.T) {
	f := newFixture(t)
	f.m.Open(domain.NeedFrame{TaskID: "t1", Message: "请为手机 13900001234 输入验证码"})
	if f.m.Snapshot().PhoneNumber != "13900001234" {
		t.Fatalf("PhoneNumber = %q", f.m.Snapshot().PhoneNumber)
	}
	for i, d := range []string{"1", "2", "3", "4", "5", "6"} {
		_, _, _ = f.m.SetDigit(i, d)
	}
	calls := f.sub.getCalls()
	if len(calls) != 1 {
		t.Fatalf("submissions = %d, want 1", len(calls))
	}
	want := submission{sessionID: "s1", taskID: "t1", code: "123456", visibleAtDispatch: false}
	if calls[0] != want {
		t.Errorf("submission = %+v, want %+v", calls[0], want)
	}
	if f.m.Snapshot().Visible {
		t.Error("Visible should be false after the sixth digit")
	}

	types := f.log.types()
	if types[0] != EventOpened || types[len(types)-1] != EventSubmitted {
		t.Errorf("events = %v", types)
	}
	last := f.log.events[len(f.log.events)-1]
	if last.Session.Code() != "123456" || last.Session.TaskID != "t1" {
		t.Errorf("submitted event session = %+v", last.Session)
	}
}

func TestEvent_Terminal(t *testing.T) {
	terminal := map[EventType]bool{
		EventOpened: false, EventChanged: false, EventTicked: false,
		EventSubmitted: true, EventExpired: true, EventClosed: true, EventConfirmed: true, EventSuperseded: true,
	}
	for typ, want := range terminal {
		if got := (Event{Type: typ}).Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", typ, got, want)
		}
	}
}

func TestMachine_ConcurrentInputAndTicks(t *testing.T) {
	f := newFixture(t)
	f.m.Open(need("t1", "13900001234"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 30; i++ {
			f.m.Tick()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < domain.CodeLength; i++ {
			_, _, _ = f.m.SetDigit(i, "0")
		}
	}()
	wg.Wait()

	if len(f.sub.getCalls()) != 1 {
		t.Errorf("submissions = %d, want 1", len(f.sub.getCalls()))
	}
	if f.m.Snapshot().Visible {
		t.Error("prompt should be closed")
	}
}

func TestMachine_ObserverReadsSnapshotDuringConcurrentTicks(t *testing.T) {
	var m *Machine
	var reads atomic.Int64
	m = NewMachine(Deps{
		Submitter: &mockSubmitter{},
		Channel:   &mockChannel{},
		NewTicker: (&tickerRecorder{}).factory,
		Observers: []Observer{func(ev Event) {
			if ev.Type == EventChanged || ev.Type == EventTicked {
				_ = m.Snapshot()
				reads.Add(1)
			}
		}},
	})
	t.Cleanup(m.Stop)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for round := 0; round < 20; round++ {
			m.Open(need(fmt.Sprintf("t%d", round), "13900001234"))
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					m.Tick()
				}
			}()
			go func() {
				defer wg.Done()
				for i := 0; i < domain.CodeLength; i++ {
					_, _, _ = m.SetDigit(i, "0")
				}
			}()
			wg.Wait()
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("observer calling Snapshot deadlocked against Tick")
	}
	if reads.Load() == 0 {
		t.Error("observer never ran")
	}
}

func TestMachine_EventsDeliveredBeforeCallReturns(t *testing.T) {
	f := newFixture(t)
	f.m.Open(need("t1", "13900001234"))
	if _, _, err := f.m.SetDigit(0, "1"); err != nil {
		t.Fatalf("SetDigit: %v", err)
	}
	got := f.log.types()
	if len(got) != 2 || got[0] != EventOpened || got[1] != EventChanged {
		t.Errorf("events = %v, want [opened changed]", got)
	}
}
