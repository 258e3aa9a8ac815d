package alarms

import "errors"

// ErrQueueFull indicates the alert queue rejected a job.
var ErrQueueFull = errors.New("alarm: alert queue full")
