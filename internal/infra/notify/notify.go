// Package notify implements port.Notifier: a zap-backed log notifier, an
// HTTP webhook notifier guarded by retries and a circuit breaker, and an
// asynchronous wrapper that makes delivery fire-and-forget.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
	"github.com/boddenberg/retail-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/retail-ledger-go/internal/port"
)

var tracer = otel.Tracer("infra/notify")

// LogNotifier writes every message to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs message at info level.
func (n *LogNotifier) Notify(_ context.Context, message string) error {
	n.logger.Info("notification", zap.String("message", message))
	return nil
}

// webhookPayload is the JSON body posted to the webhook.
type webhookPayload struct {
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// WebhookNotifier posts messages as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	httpClient *http.Client
	url        string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(httpClient *http.Client, url string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: httpClient,
		url:        url,
		cb:         cb,
		cfg:        cfg,
	}
}

// Notify posts message. 5xx responses and transport errors are retried with
// backoff; 4xx responses are not.
func (n *WebhookNotifier) Notify(ctx context.Context, message string) error {
	ctx, span := tracer.Start(ctx, "WebhookNotifier.Notify")
	defer span.End()

	body, err := json.Marshal(webhookPayload{Message: message, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	_, err = n.cb.Execute(func() (any, error) {
		return nil, resilience.RetryIf(ctx, n.cfg, isRetryable, func() error {
			return n.post(ctx, body)
		})
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		span.SetAttributes(attribute.Bool("circuit.open", true))
		return &domain.ErrCircuitOpen{Service: "notify-webhook"}
	default:
		span.RecordError(err)
		return &domain.ErrExternalService{Service: "notify-webhook", Err: err}
	}
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("webhook returned status %d", e.code) }

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= http.StatusInternalServerError || se.code == http.StatusTooManyRequests
	}
	return true
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// FailureRecorder counts failed deliveries. *observability.Metrics
// satisfies it.
type FailureRecorder interface {
	IncrNotifyFailure(notifier string)
}

// Async delivers through an inner notifier on a background goroutine.
// Notify returns immediately and never reports an error; failures are
// logged and counted.
type Async struct {
	inner   port.Notifier
	name    string
	timeout time.Duration
	logger  *zap.Logger
	metrics FailureRecorder
	pending chan struct{}
}

// NewAsync wraps inner. At most maxInFlight deliveries run at once; further
// messages are dropped and counted as failures. timeout bounds each
// delivery, detached from the caller's context.
func NewAsync(inner port.Notifier, name string, maxInFlight int, timeout time.Duration, logger *zap.Logger, metrics FailureRecorder) *Async {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Async{
		inner:   inner,
		name:    name,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		pending: make(chan struct{}, maxInFlight),
	}
}

// Notify schedules delivery of message.
func (a *Async) Notify(ctx context.Context, message string) error {
	select {
	case a.pending <- struct{}{}:
	default:
		a.fail(errors.New("too many notifications in flight"))
		return nil
	}

	// Keep trace correlation but not the caller's cancellation.
	dctx := context.WithoutCancel(ctx)

	go func() {
		defer func() { <-a.pending }()

		if a.timeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(dctx, a.timeout)
			defer cancel()
		}
		if err := a.inner.Notify(dctx, message); err != nil {
			a.fail(err)
		}
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (a *Async) Wait(ctx context.Context) error {
	for i := 0; i < cap(a.pending); i++ {
		select {
		case a.pending <- struct{}{}:
		case <-ctx.Done():
			for ; i > 0; i-- {
				<-a.pending
			}
			return ctx.Err()
		}
	}
	for i := 0; i < cap(a.pending); i++ {
		<-a.pending
	}
	return nil
}

func (a *Async) fail(err error) {
	a.logger.Warn("notification failed", zap.String("notifier", a.name), zap.Error(err))
	if a.metrics != nil {
		a.metrics.IncrNotifyFailure(a.name)
	}
}

// Fanout delivers each message to every notifier and joins their errors.
type Fanout []port.Notifier

// Notify calls every notifier in order.
func (f Fanout) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
