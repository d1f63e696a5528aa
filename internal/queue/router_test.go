// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"chartpulse/internal/config"
)

func testNATSConfig() config.NATSConfig {
	return config.NATSConfig{
		RetryMaxRetries:      2,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
		PoisonTopic:          TopicPoison,
		CloseTimeout:         5 * time.Second,
	}
}

// runRouter starts a router over an in-memory pubsub and returns after
// it is running. Cleanup stops it.
func runRouter(t *testing.T, handler message.NoPublishHandlerFunc, filter func(error) bool) (*gochannel.GoChannel, context.Context) {
	t.Helper()

	logger := watermill.NopLogger{}
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, logger)

	router, err := NewRouter(testNATSConfig(), pubsub, filter, logger)
	if err != nil {
		t.Fatal(err)
	}
	router.AddConsumerHandler("test-handler", TopicSnapshots, pubsub, handler)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = router.Run(ctx)
	}()
	select {
	case <-router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	t.Cleanup(func() {
		cancel()
		_ = router.Close()
	})
	return pubsub, ctx
}

func permanentOnly(err error) bool {
	return errors.Is(err, errPermanent)
}

var errPermanent = errors.New("permanent")

func TestRouterDeliversToHandler(t *testing.T) {
	received := make(chan *message.Message, 1)
	pubsub, ctx := runRouter(t, func(msg *message.Message) error {
		received <- msg
		return nil
	}, permanentOnly)

	poison, err := pubsub.Subscribe(ctx, TopicPoison)
	if err != nil {
		t.Fatal(err)
	}

	if err := pubsub.Publish(TopicSnapshots, message.NewMessage("m1", []byte("{}"))); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-received:
		if msg.UUID != "m1" {
			t.Errorf("uuid = %q", msg.UUID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never received the message")
	}

	select {
	case msg := <-poison:
		t.Fatalf("successful message landed on poison topic: %s", msg.UUID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRouterPoisonsPermanentErrors(t *testing.T) {
	var calls atomic.Int64
	pubsub, ctx := runRouter(t, func(*message.Message) error {
		calls.Add(1)
		return errPermanent
	}, permanentOnly)

	poison, err := pubsub.Subscribe(ctx, TopicPoison)
	if err != nil {
		t.Fatal(err)
	}

	if err := pubsub.Publish(TopicSnapshots, message.NewMessage("bad1", []byte("{not json"))); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-poison:
		if got := msg.Metadata.Get(middleware.ReasonForPoisonedKey); got == "" {
			t.Error("poisoned message carries no reason metadata")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("permanent failure never reached the poison topic")
	}

	// The poison middleware sits inside the retry middleware, so a
	// permanent error is moved aside on the first attempt.
	if got := calls.Load(); got != 1 {
		t.Errorf("handler calls = %d, want 1 (no retries for permanent errors)", got)
	}
}

func TestRouterRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int64
	done := make(chan struct{})
	pubsub, ctx := runRouter(t, func(*message.Message) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, permanentOnly)

	poison, err := pubsub.Subscribe(ctx, TopicPoison)
	if err != nil {
		t.Fatal(err)
	}

	if err := pubsub.Publish(TopicSnapshots, message.NewMessage("t1", []byte("{}"))); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never succeeded after retries")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("handler calls = %d, want 3 (two retries)", got)
	}

	select {
	case msg := <-poison:
		t.Fatalf("transient failure landed on poison topic: %s", msg.UUID)
	case <-time.After(100 * time.Millisecond):
	}
}
