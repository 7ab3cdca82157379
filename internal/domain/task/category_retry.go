package task

// CategoryRetryTask asks the retry worker to reconcile a category again after
// a transport failure or an anti-bot block. AntiBot selects the longer
// backoff base.
type CategoryRetryTask struct {
	CategoryID int64  `json:"category_id"`
	RetryCount int    `json:"retry_count"`
	AntiBot    bool   `json:"anti_bot"`
	Error      string `json:"error"`
}

func (t *CategoryRetryTask) TaskType() string {
	return "CategoryRetryTask"
}

func (t *CategoryRetryTask) TaskValue() ([]byte, error) {
	return DefaultTaskValue(t)
}
