package progress

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opickel/social-recipes/internal/domain"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func TestPublishDeliversToJobSubscriber(t *testing.T) {
	hub := testHub()
	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	hub.Publish(domain.ProgressEvent{JobID: "job-1", Stage: domain.StageDownload, Percent: 20})

	event := <-ch
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, domain.StageDownload, event.Stage)
	assert.Equal(t, 20, event.Percent)
}

func TestPublishIgnoresOtherJobs(t *testing.T) {
	hub := testHub()
	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	hub.Publish(domain.ProgressEvent{JobID: "job-2", Stage: domain.StageDownload})

	select {
	case event := <-ch:
		t.Fatalf("unexpected event for job %s", event.JobID)
	default:
	}
}

func TestPublishWithoutSubscriberDoesNotBlock(t *testing.T) {
	hub := testHub()
	// No subscriber at all; publish must return immediately.
	hub.Publish(domain.ProgressEvent{JobID: "job-1", Stage: domain.StageInfo})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := testHub()
	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	// Overfill the subscriber buffer; extra events are dropped.
	for i := 0; i < subscriberBuffer*2; i++ {
		hub.Publish(domain.ProgressEvent{JobID: "job-1", Percent: i})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, received)
}

func TestEventsArriveInPublishOrder(t *testing.T) {
	hub := testHub()
	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	stages := []string{domain.StageInfo, domain.StageDownload, domain.StageTranscribe}
	for _, stage := range stages {
		hub.Publish(domain.ProgressEvent{JobID: "job-1", Stage: stage})
	}

	for _, want := range stages {
		event := <-ch
		assert.Equal(t, want, event.Stage)
	}
}

func TestCancelClosesChannelAndUnsubscribes(t *testing.T) {
	hub := testHub()
	ch, cancel := hub.Subscribe("job-1")

	require.Equal(t, 1, hub.SubscriberCount("job-1"))
	cancel()
	assert.Equal(t, 0, hub.SubscriberCount("job-1"))

	_, open := <-ch
	assert.False(t, open)

	// Second cancel is a no-op, not a double close.
	cancel()
}

func TestSubscribeAllReceivesEveryJob(t *testing.T) {
	hub := testHub()
	ch, cancel := hub.SubscribeAll()
	defer cancel()

	hub.Publish(domain.ProgressEvent{JobID: "job-1", Stage: domain.StageInfo})
	hub.Publish(domain.ProgressEvent{JobID: "job-2", Stage: domain.StageUpload})

	first := <-ch
	second := <-ch
	assert.Equal(t, "job-1", first.JobID)
	assert.Equal(t, "job-2", second.JobID)
}
