// Package kernel holds the process-wide stage gating policy read by the
// orchestrator at the start of every run.
package kernel

import (
	"fmt"
	"strings"
	"sync"
)

// Stage 控制启用哪些编排能力，取值 0..7，高阶段包含低阶段的全部行为。
type Stage int

const (
	MinStage Stage = 0
	MaxStage Stage = 7
)

// 各项能力开启所需的最低阶段。
const (
	StageToolProtocol Stage = 1
	StageMemory       Stage = 2
	StagePlanning     Stage = 3
	StageMemoryTool   Stage = 4
	StageMultiAgent   Stage = 5
	StageSafety       Stage = 6
)

// SafetyMode 描述安全策略的严格程度。
type SafetyMode string

const (
	SafetyNormal SafetyMode = "normal"
	SafetyStrict SafetyMode = "strict"
)

// StageConfig 是一次运行开始时读取到的配置快照。
type StageConfig struct {
	Enabled      bool       `json:"enabled" yaml:"enabled"`
	Stage        Stage      `json:"stage" yaml:"stage"`
	MaxPlanSteps int        `json:"maxPlanSteps" yaml:"max_plan_steps"`
	SafetyMode   SafetyMode `json:"safetyMode" yaml:"safety_mode"`
}

// DefaultStageConfig 返回默认配置：启用、最高阶段、最多 6 个计划步骤。
func DefaultStageConfig() StageConfig {
	return StageConfig{
		Enabled:      true,
		Stage:        MaxStage,
		MaxPlanSteps: 6,
		SafetyMode:   SafetyNormal,
	}
}

// Allows 判断当前阶段是否启用了 required 阶段的能力。
func (c StageConfig) Allows(required Stage) bool {
	return c.Stage >= required
}

// Validate 检查配置是否合法。
func (c StageConfig) Validate() error {
	if c.Stage < MinStage || c.Stage > MaxStage {
		return fmt.Errorf("stage %d out of range %d..%d", c.Stage, MinStage, MaxStage)
	}
	if c.MaxPlanSteps < 1 {
		return fmt.Errorf("max plan steps must be positive, got %d", c.MaxPlanSteps)
	}
	if _, err := ParseSafetyMode(string(c.SafetyMode)); err != nil {
		return err
	}
	return nil
}

// ParseSafetyMode 解析安全模式，空字符串视为 normal。
func ParseSafetyMode(raw string) (SafetyMode, error) {
	switch SafetyMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SafetyNormal:
		return SafetyNormal, nil
	case SafetyStrict:
		return SafetyStrict, nil
	default:
		return "", fmt.Errorf("unknown safety mode %q", raw)
	}
}

// Settings 是可被设置界面并发修改的配置持有者。
type Settings struct {
	mu  sync.RWMutex
	cfg StageConfig
}

// NewSettings 使用初始配置创建 Settings，非法配置返回错误。
func NewSettings(initial StageConfig) (*Settings, error) {
	if initial.SafetyMode == "" {
		initial.SafetyMode = SafetyNormal
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Settings{cfg: initial}, nil
}

// Snapshot 返回当前配置的副本。
func (s *Settings) Snapshot() StageConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetEnabled 开关整个内核。
func (s *Settings) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Enabled = enabled
}

// SetStage 修改阶段。
func (s *Settings) SetStage(stage Stage) error {
	if stage < MinStage || stage > MaxStage {
		return fmt.Errorf("stage %d out of range %d..%d", stage, MinStage, MaxStage)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Stage = stage
	return nil
}

// SetSafetyMode 修改安全模式。
func (s *Settings) SetSafetyMode(mode SafetyMode) error {
	parsed, err := ParseSafetyMode(string(mode))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.SafetyMode = parsed
	return nil
}

// SetMaxPlanSteps 修改计划步骤上限。
func (s *Settings) SetMaxPlanSteps(steps int) error {
	if steps < 1 {
		return fmt.Errorf("max plan steps must be positive, got %d", steps)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MaxPlanSteps = steps
	return nil
}

// Replace 整体替换配置。
func (s *Settings) Replace(cfg StageConfig) error {
	if cfg.SafetyMode == "" {
		cfg.SafetyMode = SafetyNormal
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}
