package pipeline

import "time"

// Backoff 返回第 retry 次失败后的等待时间：base·2^retry，不超过 max。
func Backoff(base, max time.Duration, retry int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < retry; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
