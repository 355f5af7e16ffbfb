package events

// Topic constants for payment outcomes relayed downstream.
const (
	TopicPaymentSucceeded = "payment.succeeded"
	TopicPaymentFailed    = "payment.failed"
	TopicPaymentCanceled  = "payment.canceled"
	TopicPaymentRefunded  = "payment.refunded"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicPaymentSucceeded,
		TopicPaymentFailed,
		TopicPaymentCanceled,
		TopicPaymentRefunded,
	}
}

// TopicForStatus maps a normalised payment status to its topic. Unknown
// statuses report false and are not emitted.
func TopicForStatus(status string) (string, bool) {
	switch status {
	case "succeeded":
		return TopicPaymentSucceeded, true
	case "failed":
		return TopicPaymentFailed, true
	case "canceled":
		return TopicPaymentCanceled, true
	case "refunded":
		return TopicPaymentRefunded, true
	default:
		return "", false
	}
}
