package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alarms "hisens-cloud/internal/alarms/domain"
	"hisens-cloud/internal/settings"
	"hisens-cloud/internal/users"
)

type stubSettings struct {
	current settings.Settings
	err     error
}

func (s stubSettings) Load(context.Context) (settings.Settings, error) {
	return s.current, s.err
}

type stubRecipients struct {
	mu     sync.Mutex
	emails []string
	err    error
	roles  []string
}

func (s *stubRecipients) ListActiveEmailsByRoles(_ context.Context, roles []string) ([]string, error) {
	s.mu.Lock()
	s.roles = roles
	s.mu.Unlock()
	return s.emails, s.err
}

type recordingMailer struct {
	mu     sync.Mutex
	emails []Email
	cfg    settings.SMTP
	err    error
	block  bool
}

func (r *recordingMailer) Send(ctx context.Context, cfg settings.SMTP, email Email) error {
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.emails = append(r.emails, email)
	return r.err
}

func (r *recordingMailer) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.emails)
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
	err      error
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.contents = append(r.contents, content)
	r.mu.Unlock()
	return r.err
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func smtpSettings() settings.Settings {
	s := settings.Defaults()
	s.SMTP.Host = "smtp.example.com"
	s.SMTP.From = "alertas@example.com"
	return s
}

func highAlert() alarms.Alert {
	return alarms.Alert{
		ID:         "alert-1",
		Kind:       alarms.KindHigh,
		EventType:  alarms.EventTypeHigh,
		SensorID:   "S1",
		SensorName: "Temp Sala",
		NodeID:     "N1",
		Unit:       "°C",
		Value:      35,
		Limit:      30,
		Message:    "Valor 35°C > 30",
		At:         time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestProcessSendsEmailToAlertRoles(t *testing.T) {
	mailer := &recordingMailer{}
	recipients := &stubRecipients{emails: []string{"admin@example.com", "not-an-email", "sup@example.com"}}
	d, err := NewDispatcher(stubSettings{current: smtpSettings()}, recipients, mailer)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	if got := d.Process(context.Background(), highAlert()); got != OutcomeSent {
		t.Fatalf("expected sent, got %s", got)
	}
	if mailer.Count() != 1 {
		t.Fatalf("expected 1 email, got %d", mailer.Count())
	}
	email := mailer.emails[0]
	if email.Subject != "Alerta: Temp Sala" {
		t.Fatalf("unexpected subject %q", email.Subject)
	}
	if len(email.To) != 2 || email.To[0] != "admin@example.com" || email.To[1] != "sup@example.com" {
		t.Fatalf("unexpected recipients %v", email.To)
	}
	for _, expected := range []string{"<h2>⚠️ ALARMA_ALTA</h2>", "<p>Sensor: Temp Sala</p>", "Valor 35°C &gt; 30"} {
		if !strings.Contains(email.HTML, expected) {
			t.Fatalf("expected body to include %q, got %s", expected, email.HTML)
		}
	}
	if mailer.cfg.Host != "smtp.example.com" {
		t.Fatalf("expected smtp settings to be passed through, got %+v", mailer.cfg)
	}
	if len(recipients.roles) != len(users.AlertRoles) {
		t.Fatalf("expected alert roles, got %v", recipients.roles)
	}
}

func TestProcessSkipsWithoutSMTPHost(t *testing.T) {
	mailer := &recordingMailer{}
	recipients := &stubRecipients{emails: []string{"admin@example.com"}}
	d, err := NewDispatcher(stubSettings{current: settings.Defaults()}, recipients, mailer)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if got := d.Process(context.Background(), highAlert()); got != OutcomeSkippedNoSMTP {
		t.Fatalf("expected skipped_no_smtp, got %s", got)
	}
	if mailer.Count() != 0 {
		t.Fatalf("expected no email")
	}
	if recipients.roles != nil {
		t.Fatalf("recipients should not be looked up without smtp")
	}
}

func TestProcessSkipsWithoutRecipients(t *testing.T) {
	mailer := &recordingMailer{}
	d, err := NewDispatcher(stubSettings{current: smtpSettings()}, &stubRecipients{emails: []string{"broken"}}, mailer)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if got := d.Process(context.Background(), highAlert()); got != OutcomeSkippedNoRecipients {
		t.Fatalf("expected skipped_no_recipients, got %s", got)
	}
	if mailer.Count() != 0 {
		t.Fatalf("expected no email")
	}
}

func TestProcessReportsFailures(t *testing.T) {
	d, err := NewDispatcher(stubSettings{err: errors.New("db down")}, &stubRecipients{}, &recordingMailer{})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if got := d.Process(context.Background(), highAlert()); got != OutcomeFailed {
		t.Fatalf("expected failed on settings error, got %s", got)
	}

	mailer := &recordingMailer{err: errors.New("550 rejected")}
	d, err = NewDispatcher(stubSettings{current: smtpSettings()}, &stubRecipients{emails: []string{"a@example.com"}}, mailer)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if got := d.Process(context.Background(), highAlert()); got != OutcomeFailed {
		t.Fatalf("expected failed on send error, got %s", got)
	}
	if mailer.Count() != 1 {
		t.Fatalf("failed sends must not be retried, got %d attempts", mailer.Count())
	}
}

func TestProcessBoundsSendTime(t *testing.T) {
	mailer := &recordingMailer{block: true}
	d, err := NewDispatcher(
		stubSettings{current: smtpSettings()},
		&stubRecipients{emails: []string{"a@example.com"}},
		mailer,
		WithSendTimeout(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	start := time.Now()
	if got := d.Process(context.Background(), highAlert()); got != OutcomeFailed {
		t.Fatalf("expected failed on timeout, got %s", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("send was not bounded, took %s", elapsed)
	}
}

func TestProcessCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)}
	mailer := &recordingMailer{}
	d, err := NewDispatcher(
		stubSettings{current: smtpSettings()},
		&stubRecipients{emails: []string{"a@example.com"}},
		mailer,
		WithClock(clock),
		WithCooldown(10*time.Minute),
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	if got := d.Process(context.Background(), highAlert()); got != OutcomeSent {
		t.Fatalf("expected sent, got %s", got)
	}
	if got := d.Process(context.Background(), highAlert()); got != OutcomeSuppressed {
		t.Fatalf("expected suppressed during cooldown, got %s", got)
	}

	low := highAlert()
	low.Kind = alarms.KindLow
	low.EventType = alarms.EventTypeLow
	if got := d.Process(context.Background(), low); got != OutcomeSent {
		t.Fatalf("other kind should not share the cooldown, got %s", got)
	}

	clock.Add(11 * time.Minute)
	if got := d.Process(context.Background(), highAlert()); got != OutcomeSent {
		t.Fatalf("expected sent after cooldown, got %s", got)
	}
	if mailer.Count() != 3 {
		t.Fatalf("expected 3 emails, got %d", mailer.Count())
	}
}

func TestProcessSendsTextToChannel(t *testing.T) {
	channel := &recordingChannel{}
	d, err := NewDispatcher(stubSettings{current: settings.Defaults()}, &stubRecipients{}, &recordingMailer{}, WithChannel(channel))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if got := d.Process(context.Background(), highAlert()); got != OutcomeSkippedNoSMTP {
		t.Fatalf("expected skipped_no_smtp, got %s", got)
	}
	if channel.Count() != 1 {
		t.Fatalf("expected webhook text without smtp, got %d", channel.Count())
	}
	if !strings.Contains(channel.contents[0], "[ALARMA_ALTA] Temp Sala") {
		t.Fatalf("unexpected text %q", channel.contents[0])
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	d, err := NewDispatcher(stubSettings{}, &stubRecipients{}, &recordingMailer{}, WithQueueSize(1))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if !d.Enqueue(highAlert()) {
		t.Fatalf("first alert should be queued")
	}
	if d.Enqueue(highAlert()) {
		t.Fatalf("second alert should be dropped")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if d.Enqueue(highAlert()) {
		t.Fatalf("enqueue after stop should be dropped")
	}
}

func TestWorkersDrainQueueOnStop(t *testing.T) {
	mailer := &recordingMailer{}
	d, err := NewDispatcher(
		stubSettings{current: smtpSettings()},
		&stubRecipients{emails: []string{"a@example.com"}},
		mailer,
		WithWorkers(2),
		WithQueueSize(8),
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	for i := 0; i < 3; i++ {
		if !d.Enqueue(highAlert()) {
			t.Fatalf("alert %d dropped", i)
		}
	}
	d.Start()
	d.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if mailer.Count() != 3 {
		t.Fatalf("expected 3 emails after drain, got %d", mailer.Count())
	}
}

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), "hola"); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		if payload.Text.Content != "hola" {
			t.Fatalf("unexpected content %q", payload.Text.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

func TestWebhookChannelNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithWebhookTimeout(time.Second))
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected non-2xx error, got %v", err)
	}
	if _, err := NewWebhookChannel(""); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestMultiChannelJoinsErrors(t *testing.T) {
	ok := &recordingChannel{}
	bad := &recordingChannel{err: errors.New("boom")}
	multi := NewMultiChannel(ok, nil, bad)
	if multi.Len() != 2 {
		t.Fatalf("nil channels should be skipped, got %d", multi.Len())
	}
	err := multi.Send(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.Count() != 1 || bad.Count() != 1 {
		t.Fatalf("every channel should be attempted")
	}
}

func TestTemplateFallsBackToSensorID(t *testing.T) {
	tpl, err := NewTemplate("")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	alert := highAlert()
	alert.SensorName = ""
	alert.Message = "<script>"
	content, err := tpl.Render(alert)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if content.Subject != "Alerta: S1" {
		t.Fatalf("unexpected subject %q", content.Subject)
	}
	if strings.Contains(content.HTML, "<script>") {
		t.Fatalf("html body must be escaped: %s", content.HTML)
	}
	if !strings.Contains(content.Text, "Hora: 2026-03-04T10:00:00Z") {
		t.Fatalf("unexpected text %q", content.Text)
	}
}

func TestSMTPMailerRejectsIncompleteSettings(t *testing.T) {
	mailer := NewSMTPMailer(time.Second)
	if err := mailer.Send(context.Background(), settings.SMTP{}, Email{To: []string{"a@example.com"}}); !errors.Is(err, ErrSMTPDisabled) {
		t.Fatalf("expected ErrSMTPDisabled, got %v", err)
	}
	cfg := settings.SMTP{Host: "smtp.example.com", Port: 587}
	if err := mailer.Send(context.Background(), cfg, Email{}); err == nil {
		t.Fatalf("expected error without recipients")
	}
	if err := mailer.Send(context.Background(), cfg, Email{To: []string{"a@example.com"}}); err == nil {
		t.Fatalf("expected error without sender")
	}
}
