package task

import "encoding/json"

// Task is a payload that can be placed on a redis stream. TaskType selects
// the stream, TaskValue serializes the payload.
type Task interface {
	TaskType() string
	TaskValue() ([]byte, error)
}

// DefaultTaskValue is the shared JSON serialization used by all task kinds.
func DefaultTaskValue(task interface{}) ([]byte, error) {
	return json.Marshal(task)
}

// UnmarshalTask decodes a task payload pulled back off a stream.
func UnmarshalTask[T Task](data []byte) (T, error) {
	var t T
	err := json.Unmarshal(data, &t)
	return t, err
}
