// Copyright 2025 Bluenote Technologies, Inc.
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

package ghapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/go-github/v65/github"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
)

const (
	DefaultWebhookRoute = "/api/github/hook"

	// EventTypeHeader and DeliveryIDHeader identify a webhook delivery.
	EventTypeHeader  = "X-GitHub-Event"
	DeliveryIDHeader = "X-GitHub-Delivery"
)

// ErrMissingEventType is the rejection cause when a request has no event
// type header.
var ErrMissingEventType = errors.New("ghapp: missing event type header")

// Delivery is one parsed webhook delivery. It is immutable after parsing
// and scoped to a single dispatch.
type Delivery struct {
	DeliveryID     string
	EventType      string
	Action         string
	InstallationID int64

	// Payload is the raw request body the signature was verified over.
	Payload []byte
}

// ParsePayload deserializes the payload into the event struct matching
// the delivery's event type, e.g. *github.IssueCommentEvent.
func (d *Delivery) ParsePayload() (interface{}, error) {
	return github.ParseWebHook(d.EventType, d.Payload)
}

// DispatchStatus is the terminal state of a dispatch.
type DispatchStatus string

const (
	// DispatchRejected means verification or request validation failed
	// and no handler ran.
	DispatchRejected DispatchStatus = "rejected"

	// DispatchCompleted means every matching handler was attempted,
	// regardless of individual handler outcomes.
	DispatchCompleted DispatchStatus = "completed"
)

// DispatchResult summarizes one dispatch: which terminal state it
// reached, how many handlers ran, and any errors collected along the way.
type DispatchResult struct {
	DeliveryID string
	EventType  string
	Action     string

	Status DispatchStatus

	// Err is the rejection cause when Status is DispatchRejected.
	Err error

	// Invoked counts the handlers that ran. HandlerErrors holds failures
	// attributed to individual handlers; a dispatch with handler errors
	// is still DispatchCompleted.
	Invoked       int
	HandlerErrors []*HandlerError
}

// ValidationError is the rejection cause for deliveries that fail header
// validation or signature verification.
type ValidationError struct {
	EventType  string
	DeliveryID string
	Cause      error
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %v", ve.Cause)
}

func (ve ValidationError) Unwrap() error { return ve.Cause }

// ErrorCallback is called by the HTTP adapter when a request cannot be
// dispatched: validation failures, scheduling failures, body read errors.
type ErrorCallback func(w http.ResponseWriter, r *http.Request, err error)

// ResponseCallback is called by the HTTP adapter after a delivery is
// accepted. The result is nil when an asynchronous scheduler accepted the
// delivery but has not yet processed it.
type ResponseCallback func(w http.ResponseWriter, r *http.Request, d *Delivery, res *DispatchResult)

// Dispatcher routes verified webhook deliveries to registered handlers.
// It is stateless per call and safe for concurrent dispatches.
//
// Dispatcher also implements http.Handler so it can be mounted directly
// on a mux as the webhook endpoint.
type Dispatcher struct {
	registry *Registry
	verifier *SignatureVerifier

	scheduler  Scheduler
	onError    ErrorCallback
	onResponse ResponseCallback
	metrics    metrics.Registry
}

// DispatcherOption configures properties of a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithErrorCallback sets the HTTP adapter's error callback.
func WithErrorCallback(onError ErrorCallback) DispatcherOption {
	return func(d *Dispatcher) {
		if onError != nil {
			d.onError = onError
		}
	}
}

// WithResponseCallback sets the HTTP adapter's response callback.
func WithResponseCallback(onResponse ResponseCallback) DispatcherOption {
	return func(d *Dispatcher) {
		if onResponse != nil {
			d.onResponse = onResponse
		}
	}
}

// WithScheduler sets the scheduler the HTTP adapter uses to process
// deliveries. Asynchronous schedulers let the adapter respond before
// handlers finish, which matters when handlers outlast GitHub's delivery
// timeout. Dispatch itself is always synchronous.
func WithScheduler(s Scheduler) DispatcherOption {
	return func(d *Dispatcher) {
		if s != nil {
			d.scheduler = s
		}
	}
}

// WithDispatchMetrics registers handler error counters in reg.
func WithDispatchMetrics(reg metrics.Registry) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = reg
	}
}

// NewDispatcher creates a Dispatcher that verifies deliveries with the
// given secret and routes them through the registry.
func NewDispatcher(registry *Registry, secret string, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:   registry,
		verifier:   NewSignatureVerifier(secret),
		scheduler:  DefaultScheduler(),
		onError:    DefaultErrorCallback,
		onResponse: DefaultResponseCallback,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs the full pipeline for one delivery: header validation,
// signature verification, envelope parsing, handler lookup, and
// sequential handler invocation with failure isolation. It never returns
// a nil result.
//
// A verification or validation failure rejects the delivery before any
// payload parsing or handler invocation. Handler failures and panics are
// collected in the result and never abort sibling handlers. A delivery
// with no matching handlers completes successfully with zero invocations.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte, headers http.Header) *DispatchResult {
	delivery, err := d.prepare(body, headers)
	if err != nil {
		return &DispatchResult{
			DeliveryID: headers.Get(DeliveryIDHeader),
			EventType:  headers.Get(EventTypeHeader),
			Status:     DispatchRejected,
			Err:        err,
		}
	}
	return d.invoke(ctx, delivery)
}

// prepare validates headers and the payload signature, then parses the
// envelope. It is the front half of Dispatch, split out so the HTTP
// adapter can verify synchronously and hand the back half to a scheduler.
func (d *Dispatcher) prepare(body []byte, headers http.Header) (*Delivery, error) {
	eventType := headers.Get(EventTypeHeader)
	deliveryID := headers.Get(DeliveryIDHeader)

	if eventType == "" {
		return nil, ValidationError{DeliveryID: deliveryID, Cause: ErrMissingEventType}
	}

	signature := headers.Get(SignatureHeader)
	if signature == "" {
		signature = headers.Get(SignatureHeaderSHA1)
	}

	if err := d.verifier.Verify(body, signature); err != nil {
		return nil, ValidationError{EventType: eventType, DeliveryID: deliveryID, Cause: err}
	}

	var envelope struct {
		Action       string `json:"action"`
		Installation struct {
			ID int64 `json:"id"`
		} `json:"installation"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, ValidationError{
			EventType:  eventType,
			DeliveryID: deliveryID,
			Cause:      errors.Wrap(err, "failed to parse event envelope"),
		}
	}

	return &Delivery{
		DeliveryID:     deliveryID,
		EventType:      eventType,
		Action:         envelope.Action,
		InstallationID: envelope.Installation.ID,
		Payload:        body,
	}, nil
}

// invoke is the back half of Dispatch: handler lookup and sequential
// invocation. Handler order within one delivery is never parallelized so
// side effects stay predictable.
func (d *Dispatcher) invoke(ctx context.Context, delivery *Delivery) *DispatchResult {
	res := &DispatchResult{
		DeliveryID: delivery.DeliveryID,
		EventType:  delivery.EventType,
		Action:     delivery.Action,
		Status:     DispatchCompleted,
	}

	logger := zerolog.Ctx(ctx).With().
		Str(LogKeyEventType, delivery.EventType).
		Str(LogKeyDeliveryID, delivery.DeliveryID).
		Logger()
	ctx = logger.WithContext(ctx)
	if delivery.InstallationID != 0 {
		ctx = WithInstallation(ctx, delivery.InstallationID)
		logger = *zerolog.Ctx(ctx)
	}

	for i, fn := range d.registry.Handlers(delivery.EventType, delivery.Action) {
		if err := safeInvoke(ctx, fn, delivery); err != nil {
			herr := &HandlerError{
				EventType:  delivery.EventType,
				DeliveryID: delivery.DeliveryID,
				Index:      i,
				Err:        err,
			}
			res.HandlerErrors = append(res.HandlerErrors, herr)
			errorCounter(d.metrics, delivery.EventType).Inc(1)
			logger.Error().Err(err).Int("handler_index", i).Msg("Webhook handler failed")
		}
		res.Invoked++
	}

	return res
}

// safeInvoke runs one handler, converting a panic into a
// HandlerPanicError so a panicking handler cannot take down the dispatch.
func safeInvoke(ctx context.Context, fn HandlerFunc, delivery *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = HandlerPanicError{value: r, stack: getStack(1)}
		}
	}()
	return fn(ctx, delivery)
}

// ServeHTTP processes a webhook request from GitHub. It verifies the
// delivery synchronously, hands the handler phase to the configured
// scheduler, and responds through the error and response callbacks.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		d.onError(w, r, errors.Wrap(err, "failed to read request body"))
		return
	}

	delivery, err := d.prepare(body, r.Header)
	if err != nil {
		d.onError(w, r, err)
		return
	}

	logger := zerolog.Ctx(ctx).With().
		Str(LogKeyEventType, delivery.EventType).
		Str(LogKeyDeliveryID, delivery.DeliveryID).
		Logger()
	ctx = logger.WithContext(ctx)
	r = r.WithContext(ctx)

	logger.Info().Msg("Received webhook event")

	res, err := d.scheduler.Schedule(ctx, Task{Delivery: delivery, run: d.invoke})
	if err != nil {
		d.onError(w, r, err)
		return
	}

	d.onResponse(w, r, delivery, res)
}

// DefaultErrorCallback logs errors and responds with an appropriate
// status code: 400 for invalid deliveries, 503 when the scheduler is at
// capacity, 500 otherwise.
func DefaultErrorCallback(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())

	var ve ValidationError
	if errors.As(err, &ve) {
		logger.Warn().Err(ve.Cause).Msg("Received invalid webhook headers or payload")
		http.Error(w, "Invalid webhook headers or payload", http.StatusBadRequest)
		return
	}
	if errors.Is(err, ErrCapacityExceeded) {
		logger.Warn().Msg("Dropping webhook event due to over-capacity scheduler")
		http.Error(w, "No capacity available to process this event", http.StatusServiceUnavailable)
		return
	}

	logger.Error().Err(err).Msg("Unexpected error handling webhook")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// DefaultResponseCallback responds 200 OK when handlers ran (or the
// event is a ping) and 202 Accepted otherwise, including deliveries a
// scheduler accepted for asynchronous processing.
func DefaultResponseCallback(w http.ResponseWriter, r *http.Request, d *Delivery, res *DispatchResult) {
	if res == nil || (res.Invoked == 0 && d.EventType != "ping") {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusOK)
}
