package enums

// WebhookLogStatus captures the processing state of a received provider event.
type WebhookLogStatus string

const (
	WebhookLogStatusPending WebhookLogStatus = "pending"
	WebhookLogStatusSuccess WebhookLogStatus = "success"
	WebhookLogStatusFailed  WebhookLogStatus = "failed"
)

var webhookLogStatuses = []WebhookLogStatus{
	WebhookLogStatusPending,
	WebhookLogStatusSuccess,
	WebhookLogStatusFailed,
}

func ParseWebhookLogStatus(value string) (WebhookLogStatus, error) {
	return parse(value, webhookLogStatuses, "webhook log status")
}

// WebhookAttemptTrigger records what caused a processing attempt.
type WebhookAttemptTrigger string

const (
	WebhookAttemptDelivery  WebhookAttemptTrigger = "delivery"
	WebhookAttemptReprocess WebhookAttemptTrigger = "reprocess"
	WebhookAttemptReplay    WebhookAttemptTrigger = "replay"
	WebhookAttemptSweep     WebhookAttemptTrigger = "sweep"
)
