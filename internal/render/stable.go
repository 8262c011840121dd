package render

import (
	"context"
	"time"
	"unicode/utf8"
)

// StabilityConfig 控制等待页面正文稳定的轮询。
type StabilityConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	StablePolls    int           `yaml:"stable_polls"`
	MinStableChars int           `yaml:"min_stable_chars"`
	// MaxWait 是等待稳定的上限，零值或大于请求超时时使用请求超时。
	MaxWait        time.Duration `yaml:"max_wait"`
}

// DefaultStabilityConfig 每 500ms 采样一次，连续 3 次不变且超过 300 字即认为稳定。
func DefaultStabilityConfig() StabilityConfig {
	return StabilityConfig{PollInterval: 500 * time.Millisecond, StablePolls: 3, MinStableChars: 300}
}

func (c StabilityConfig) withDefaults() StabilityConfig {
	def := DefaultStabilityConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.StablePolls <= 0 {
		c.StablePolls = def.StablePolls
	}
	if c.MinStableChars <= 0 {
		c.MinStableChars = def.MinStableChars
	}
	return c
}

// ceiling 返回单次渲染等待正文稳定的上限。
func (c StabilityConfig) ceiling(timeout time.Duration) time.Duration {
	if c.MaxWait > 0 && (timeout <= 0 || c.MaxWait < timeout) {
		return c.MaxWait
	}
	return timeout
}

// waitStable 反复采样正文，直到内容稳定或到达 maxWait，返回最后一次采样结果。
func waitStable(ctx context.Context, cfg StabilityConfig, maxWait time.Duration, sample func(context.Context) (string, error)) (string, error) {
	cfg = cfg.withDefaults()
	deadline := time.Now().Add(maxWait)

	var last string
	unchanged := 0
	for {
		text, err := sample(ctx)
		if err != nil {
			return last, err
		}
		if text == last {
			unchanged++
		} else {
			unchanged = 0
			last = text
		}
		if unchanged >= cfg.StablePolls && utf8.RuneCountInString(last) > cfg.MinStableChars {
			return last, nil
		}
		if !time.Now().Add(cfg.PollInterval).Before(deadline) {
			return last, nil
		}

		timer := time.NewTimer(cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}
}
