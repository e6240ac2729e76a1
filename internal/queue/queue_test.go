package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublishBeyondAnyBuffer(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		require.NoError(t, q.PublishCampaignJob(ctx, CampaignJob{CampaignID: fmt.Sprintf("c%d", i)}))
	}
	require.Len(t, q.Jobs(), 500)

	consumeCtx, cancel := context.WithCancel(ctx)
	seen := make(chan string, 500)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(consumeCtx, func(_ context.Context, job CampaignJob) error {
			seen <- job.CampaignID
			return nil
		})
	}()

	for i := 0; i < 500; i++ {
		select {
		case id := <-seen:
			require.Equal(t, fmt.Sprintf("c%d", i), id)
		case <-time.After(2 * time.Second):
			t.Fatalf("consumer stalled after %d jobs", i)
		}
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestMemoryConsumeSeesJobsPublishedBeforeStart(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.PublishCampaignJob(ctx, CampaignJob{CampaignID: "early"}))

	got := make(chan string, 1)
	go q.Consume(ctx, func(_ context.Context, job CampaignJob) error {
		got <- job.CampaignID
		return nil
	})
	select {
	case id := <-got:
		require.Equal(t, "early", id)
	case <-time.After(2 * time.Second):
		t.Fatal("job published before Consume was never delivered")
	}
	cancel()
}

func TestDeliveryAttemptHeaderTypes(t *testing.T) {
	cases := []struct {
		name string
		d    amqp.Delivery
		want int
	}{
		{"fresh delivery", amqp.Delivery{}, 0},
		{"redelivered without header", amqp.Delivery{Redelivered: true}, 1},
		{"int32 header", amqp.Delivery{Headers: amqp.Table{"x-retry-count": int32(2)}}, 2},
		{"int64 header", amqp.Delivery{Headers: amqp.Table{"x-retry-count": int64(2)}}, 2},
		{"int header", amqp.Delivery{Headers: amqp.Table{"x-retry-count": 2}}, 2},
		{"header wins over redelivered", amqp.Delivery{Redelivered: true, Headers: amqp.Table{"x-retry-count": int32(2)}}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, deliveryAttempt(tc.d))
		})
	}
}

func TestDeliveryAttemptAdvancesToCap(t *testing.T) {
	// Each failed handling republishes with attempt = prior + 1, so the
	// count observed by the next consumer strictly increases until the cap.
	d := amqp.Delivery{}
	attempts := 0
	for {
		attempt := deliveryAttempt(d) + 1
		attempts++
		if attempt >= maxDeliveries {
			break
		}
		d = amqp.Delivery{Headers: amqp.Table{"x-retry-count": int32(attempt)}}
	}
	require.Equal(t, maxDeliveries, attempts)
}
