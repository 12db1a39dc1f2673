package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/quotaguard/adapters/clock"
	"github.com/artpar/quotaguard/adapters/memory"
	"github.com/artpar/quotaguard/app"
	"github.com/artpar/quotaguard/domain/fault"
	"github.com/artpar/quotaguard/domain/plan"
	"github.com/artpar/quotaguard/domain/quota"
	"github.com/rs/zerolog"
)

type monitorFixture struct {
	monitor  *app.AlertMonitor
	counters *stubCounters
	clock    *clock.Fake
	users    *memory.UserStore
	ledger   *memory.AlertLedger
	notifier *recordingNotifier
}

func newMonitorFixture() *monitorFixture {
	f := &monitorFixture{
		counters: &stubCounters{},
		clock:    clock.NewFake(midnight.Add(12 * time.Hour)),
		users:    memory.NewUserStore(),
		ledger:   memory.NewAlertLedger(),
		notifier: &recordingNotifier{},
	}
	limiter := app.NewRateLimiter(app.RateLimiterDeps{
		Counters: f.counters,
		Clock:    f.clock,
		Logger:   zerolog.Nop(),
	})
	f.monitor = app.NewAlertMonitor(app.AlertMonitorDeps{
		Limiter:  limiter,
		Users:    f.users,
		Ledger:   f.ledger,
		Notifier: f.notifier,
		Clock:    f.clock,
		Logger:   zerolog.Nop(),
	})
	return f
}

func TestAlertMonitor_OscillationSignalsOnce(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()
	(&testStores{users: f.users}).addUser("u1", plan.Starter)

	var alerts []*quota.Alert
	for _, used := range []int64{910, 500, 920, 600, 930} {
		f.counters.set(used)
		a, err := f.monitor.CheckAlert(ctx, "u1")
		if err != nil {
			t.Fatalf("CheckAlert at %d: %v", used, err)
		}
		if a != nil {
			alerts = append(alerts, a)
		}
	}

	if len(alerts) != 1 || alerts[0].Threshold != 90 {
		t.Fatalf("alerts = %+v, want exactly one for 90", alerts)
	}
	if got := f.notifier.thresholds(); !intEq(got, []int{90}) {
		t.Errorf("notified %v, want [90]", got)
	}
}

func TestAlertMonitor_LowestPendingThresholdFirst(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()
	(&testStores{users: f.users}).addUser("u1", plan.Starter)
	f.counters.set(960)

	var got []int
	for i := 0; i < 4; i++ {
		a, err := f.monitor.CheckAlert(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if a == nil {
			break
		}
		got = append(got, a.Threshold)
	}

	if !intEq(got, []int{90, 95}) {
		t.Errorf("thresholds at 96%% = %v, want [90 95]", got)
	}
}

func TestAlertMonitor_NinetySixWithNinetySentReturnsNinetyFive(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()
	(&testStores{users: f.users}).addUser("u1", plan.Starter)
	if _, err := f.ledger.Claim(ctx, "u1", quota.Day(f.clock.Now()), 90); err != nil {
		t.Fatal(err)
	}
	f.counters.set(960)

	a, err := f.monitor.CheckAlert(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if a == nil || a.Threshold != 95 {
		t.Fatalf("alert = %+v, want threshold 95", a)
	}
	if a.Message != "You have used 96.0% of your daily quota. Consider upgrading your plan." {
		t.Errorf("Message = %q", a.Message)
	}
}

func TestAlertMonitor_BelowThreshold(t *testing.T) {
	f := newMonitorFixture()
	(&testStores{users: f.users}).addUser("u1", plan.Starter)
	f.counters.set(899)

	a, err := f.monitor.CheckAlert(context.Background(), "u1")
	if err != nil || a != nil {
		t.Errorf("CheckAlert = %+v, %v; want nil, nil", a, err)
	}
}

func TestAlertMonitor_NewDayResetsLedger(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()
	(&testStores{users: f.users}).addUser("u1", plan.Starter)
	f.counters.set(950)

	if a, _ := f.monitor.CheckAlert(ctx, "u1"); a == nil || a.Threshold != 90 {
		t.Fatalf("day 1 alert = %+v, want 90", a)
	}
	f.clock.NextDay()
	a, err := f.monitor.CheckAlert(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if a == nil || a.Threshold != 90 || a.Day != "2024-01-16" {
		t.Errorf("day 2 alert = %+v, want 90 on 2024-01-16", a)
	}
}

func TestAlertMonitor_UnknownUser(t *testing.T) {
	f := newMonitorFixture()
	_, err := f.monitor.CheckAlert(context.Background(), "ghost")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestAlertMonitor_MissingContactIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()
	f.counters.set(1000)

	a, err := f.monitor.CheckAlertForPlan(ctx, "nobody", plan.Starter)
	if err != nil {
		t.Fatal(err)
	}
	if a == nil || a.Threshold != 90 {
		t.Fatalf("alert = %+v, want 90", a)
	}
	if n := len(f.notifier.thresholds()); n != 0 {
		t.Errorf("notified %d times without a contact", n)
	}
	sent, _ := f.ledger.Sent(ctx, "nobody", quota.Day(f.clock.Now()))
	if len(sent) != 0 {
		t.Errorf("ledger recorded %v without delivery target", sent)
	}
}

func TestAlertMonitor_DeliveryFailureIsNotAnError(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()
	(&testStores{users: f.users}).addUser("u1", plan.Starter)
	f.notifier.err = errors.New("smtp down")
	f.counters.set(1000)

	a, err := f.monitor.CheckAlert(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckAlert err = %v, want nil", err)
	}
	if a == nil {
		t.Fatal("alert not returned")
	}
	if a2, _ := f.monitor.CheckAlert(ctx, "u1"); a2 == nil || a2.Threshold != 95 {
		t.Errorf("next alert = %+v, want 95 (failed delivery is not retried)", a2)
	}
}

func TestAlertMonitor_StoreFailure(t *testing.T) {
	f := newMonitorFixture()
	(&testStores{users: f.users}).addUser("u1", plan.Starter)
	f.counters.err = errors.New("redis gone")

	_, err := f.monitor.CheckAlert(context.Background(), "u1")
	if !errors.Is(err, fault.ErrStoreUnavailable) {
		t.Errorf("err = %v, want StoreUnavailable", err)
	}
}

func TestAlertMonitor_NotificationContents(t *testing.T) {
	ctx := context.Background()
	f := newMonitorFixture()
	(&testStores{users: f.users}).addUser("u1", plan.Starter)
	f.counters.set(1000)

	if _, err := f.monitor.CheckAlert(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	n := f.notifier.sent[0]
	if n.Email != "u1@example.com" || n.Plan != plan.Starter || n.Remaining != 0 || n.UsagePercent != 100 {
		t.Errorf("notification = %+v", n)
	}
	if n.Day != "2024-01-15" {
		t.Errorf("Day = %q, want 2024-01-15", n.Day)
	}
}

// Starter plan, 1000 accepted requests spread over the day, alerts checked
// on every admission.
func TestScenario_StarterDailyQuota(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(true)
	s.addUser("u1", plan.Starter)

	accepted := 0
	for h := 0; h < 10; h++ {
		for m := 0; m < 10; m++ {
			for i := 0; i < 10; i++ {
				s.clock.Set(midnight.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(i)*time.Second))
				if _, err := e.Limiter.Enforce(ctx, u1, "/api"); err != nil {
					t.Fatalf("request %d at %v: %v", accepted+1, s.clock.Now(), err)
				}
				accepted++
			}
		}
	}
	if accepted != 1000 {
		t.Fatalf("accepted = %d, want 1000", accepted)
	}

	s.clock.Set(midnight.Add(10 * time.Hour))
	d, err := e.Limiter.Enforce(ctx, u1, "/api")
	if !errors.Is(err, fault.ErrAdmissionDenied) {
		t.Fatalf("1001st err = %v, want AdmissionDenied", err)
	}
	if d.QuotaRemaining != 0 || d.QuotaPercentage != 100 {
		t.Errorf("1001st QuotaRemaining/Percentage = %d/%v, want 0/100", d.QuotaRemaining, d.QuotaPercentage)
	}

	if got := s.notifier.thresholds(); !intEq(got, []int{90, 95, 98, 100}) {
		t.Errorf("alerts = %v, want [90 95 98 100]", got)
	}
	if last := s.notifier.sent[len(s.notifier.sent)-1]; last.Threshold != 100 || last.Remaining != 0 {
		t.Errorf("final alert = %+v, want threshold 100 with nothing remaining", last)
	}
}

// Without admission-time checks, the thresholds surface one per check in
// ascending order.
func TestScenario_StarterDailyQuota_OnDemandChecks(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(false)
	s.addUser("u1", plan.Starter)

	for h := 0; h < 10; h++ {
		for i := 0; i < 100; i++ {
			s.clock.Set(midnight.Add(time.Duration(h)*time.Hour + time.Duration(i/10)*time.Minute))
			if _, err := e.Limiter.Enforce(ctx, u1, "/api"); err != nil {
				t.Fatalf("hour %d request %d: %v", h, i, err)
			}
		}
	}

	var got []int
	for {
		a, err := e.CheckAlert(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if a == nil {
			break
		}
		got = append(got, a.Threshold)
	}
	if !intEq(got, []int{90, 95, 98, 100}) {
		t.Errorf("alerts = %v, want [90 95 98 100]", got)
	}
}
