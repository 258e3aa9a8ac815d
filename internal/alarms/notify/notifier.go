package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	alarms "hisens-cloud/internal/alarms/domain"
	"hisens-cloud/internal/logging"
	"hisens-cloud/internal/observability/metrics"
	"hisens-cloud/internal/settings"
	"hisens-cloud/internal/users"
)

const (
	defaultWorkers     = 2
	defaultQueueSize   = 256
	defaultSendTimeout = 15 * time.Second
)

// Outcome is the result of processing one alert.
type Outcome string

const (
	OutcomeSent                Outcome = metrics.AlertSent
	OutcomeFailed              Outcome = metrics.AlertFailed
	OutcomeSkippedNoSMTP       Outcome = metrics.AlertSkippedNoSMTP
	OutcomeSkippedNoRecipients Outcome = metrics.AlertSkippedNoRecipients
	OutcomeSuppressed          Outcome = metrics.AlertSuppressed
)

// SettingsReader loads runtime settings.
type SettingsReader interface {
	Load(ctx context.Context) (settings.Settings, error)
}

// RecipientReader resolves alert recipients.
type RecipientReader interface {
	ListActiveEmailsByRoles(ctx context.Context, roles []string) ([]string, error)
}

// Clock provides time for cooldown tracking.
type Clock interface {
	Now() time.Time
}

// Dispatcher delivers alerts off the ingestion path. Enqueue never blocks;
// workers send each alert at most once and never retry.
type Dispatcher struct {
	settings    SettingsReader
	recipients  RecipientReader
	mailer      Mailer
	channel     Channel
	template    *Template
	clock       Clock
	logger      *zap.Logger
	workers     int
	sendTimeout time.Duration
	cooldown    time.Duration

	qmu    sync.RWMutex
	queue  chan alarms.Alert
	closed bool

	mu   sync.Mutex
	sent map[string]time.Time

	wg        sync.WaitGroup
	startOnce sync.Once
	runCtx    context.Context
	cancel    context.CancelFunc
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of delivery goroutines.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets the pending alert capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan alarms.Alert, n)
		}
	}
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithCooldown suppresses repeated alerts for the same sensor and kind within interval.
func WithCooldown(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.cooldown = interval
		}
	}
}

// WithChannel adds a text channel such as a chat webhook.
func WithChannel(channel Channel) Option {
	return func(d *Dispatcher) {
		if channel != nil {
			d.channel = channel
		}
	}
}

// WithTemplate overrides the default template.
func WithTemplate(tpl *Template) Option {
	return func(d *Dispatcher) {
		if tpl != nil {
			d.template = tpl
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logging.OrNop(logger)
	}
}

// NewDispatcher constructs an alert dispatcher. Call Start to run workers.
func NewDispatcher(settingsReader SettingsReader, recipients RecipientReader, mailer Mailer, opts ...Option) (*Dispatcher, error) {
	if settingsReader == nil {
		return nil, errors.New("alert dispatcher: nil settings reader")
	}
	if recipients == nil {
		return nil, errors.New("alert dispatcher: nil recipient reader")
	}
	if mailer == nil {
		return nil, errors.New("alert dispatcher: nil mailer")
	}
	tpl, err := NewTemplate("")
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		settings:    settingsReader,
		recipients:  recipients,
		mailer:      mailer,
		template:    tpl,
		clock:       systemClock{},
		logger:      zap.NewNop(),
		workers:     defaultWorkers,
		sendTimeout: defaultSendTimeout,
		queue:       make(chan alarms.Alert, defaultQueueSize),
		sent:        make(map[string]time.Time),
		runCtx:      runCtx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start launches the workers. Only the first call has effect.
func (d *Dispatcher) Start() {
	if d == nil {
		return
	}
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
		d.logger.Info("alert dispatcher started", zap.Int("workers", d.workers), zap.Int("queue", cap(d.queue)))
	})
}

// Stop closes the queue and waits for workers to drain it. When ctx ends
// first, in-flight sends are cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.qmu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.qmu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

// Enqueue implements the ingestion alert port. It reports false when the
// alert was dropped because the queue is full or stopped.
func (d *Dispatcher) Enqueue(alert alarms.Alert) bool {
	if d == nil {
		return false
	}
	d.qmu.RLock()
	defer d.qmu.RUnlock()
	if d.closed {
		metrics.IncAlertJob(metrics.AlertDroppedQueueOverflow)
		return false
	}
	select {
	case d.queue <- alert:
		metrics.SetAlertQueueDepth(len(d.queue))
		return true
	default:
		metrics.IncAlertJob(metrics.AlertDroppedQueueOverflow)
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for alert := range d.queue {
		metrics.SetAlertQueueDepth(len(d.queue))
		d.Process(d.runCtx, alert)
	}
}

// Process delivers one alert synchronously and reports what happened.
func (d *Dispatcher) Process(ctx context.Context, alert alarms.Alert) Outcome {
	outcome := d.process(ctx, alert)
	metrics.IncAlertJob(string(outcome))
	return outcome
}

func (d *Dispatcher) process(ctx context.Context, alert alarms.Alert) Outcome {
	log := d.logger.With(
		zap.String("alert_id", alert.ID),
		zap.String("sensor_id", alert.SensorID),
		zap.String("event_type", alert.EventType),
	)
	if d.suppressed(alert) {
		log.Debug("alert suppressed by cooldown")
		return OutcomeSuppressed
	}

	content, err := d.template.Render(alert)
	if err != nil {
		log.Error("alert render failed", zap.Error(err))
		return OutcomeFailed
	}

	delivered := false
	if d.channel != nil {
		if err := d.sendText(ctx, content.Text); err != nil {
			log.Warn("alert webhook failed", zap.Error(err))
		} else {
			delivered = true
		}
	}

	current, err := d.settings.Load(ctx)
	if err != nil {
		log.Error("alert settings load failed", zap.Error(err))
		d.finish(alert, delivered)
		return OutcomeFailed
	}
	if !current.SMTP.Enabled() {
		d.finish(alert, delivered)
		return OutcomeSkippedNoSMTP
	}

	to, err := d.recipients.ListActiveEmailsByRoles(ctx, users.AlertRoles)
	if err != nil {
		log.Error("alert recipients lookup failed", zap.Error(err))
		d.finish(alert, delivered)
		return OutcomeFailed
	}
	to = users.ValidEmails(to)
	if len(to) == 0 {
		log.Debug("alert has no recipients")
		d.finish(alert, delivered)
		return OutcomeSkippedNoRecipients
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	start := time.Now()
	err = d.mailer.Send(sendCtx, current.SMTP, Email{
		To:      to,
		Subject: content.Subject,
		HTML:    content.HTML,
		Text:    content.Text,
	})
	metrics.ObserveAlertSend(time.Since(start))
	if err != nil {
		log.Warn("alert email failed", zap.Int("recipients", len(to)), zap.Error(err))
		d.finish(alert, delivered)
		return OutcomeFailed
	}
	log.Info("alert email sent", zap.Int("recipients", len(to)))
	d.finish(alert, true)
	return OutcomeSent
}

func (d *Dispatcher) sendText(ctx context.Context, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return d.channel.Send(sendCtx, text)
}

func (d *Dispatcher) suppressed(alert alarms.Alert) bool {
	if d.cooldown <= 0 {
		return false
	}
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.sent[cooldownKey(alert)]
	return ok && now.Sub(last) < d.cooldown
}

func (d *Dispatcher) finish(alert alarms.Alert, delivered bool) {
	if d.cooldown <= 0 || !delivered {
		return
	}
	d.mu.Lock()
	d.sent[cooldownKey(alert)] = d.clock.Now()
	d.mu.Unlock()
}

func cooldownKey(alert alarms.Alert) string {
	return alert.SensorID + "|" + string(alert.Kind)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
