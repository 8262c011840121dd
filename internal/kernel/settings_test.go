package kernel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultStageConfig(t *testing.T) {
	cfg := DefaultStageConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, MaxStage, cfg.Stage)
	assert.Equal(t, 6, cfg.MaxPlanSteps)
	assert.Equal(t, SafetyNormal, cfg.SafetyMode)
	require.NoError(t, cfg.Validate())
}

func TestAllowsIsMonotonic(t *testing.T) {
	required := []Stage{StageToolProtocol, StageMemory, StagePlanning, StageMemoryTool, StageMultiAgent, StageSafety}
	for stage := MinStage; stage < MaxStage; stage++ {
		lower := StageConfig{Stage: stage}
		higher := StageConfig{Stage: stage + 1}
		for _, r := range required {
			if lower.Allows(r) {
				assert.True(t, higher.Allows(r), "stage %d enables %d but stage %d does not", stage, r, stage+1)
			}
		}
	}
}

func TestSettingsRejectsInvalidValues(t *testing.T) {
	s, err := NewSettings(DefaultStageConfig())
	require.NoError(t, err)

	assert.Error(t, s.SetStage(8))
	assert.Error(t, s.SetStage(-1))
	assert.Error(t, s.SetMaxPlanSteps(0))
	assert.Error(t, s.SetSafetyMode("paranoid"))
	assert.Equal(t, DefaultStageConfig(), s.Snapshot())

	_, err = NewSettings(StageConfig{Stage: 9, MaxPlanSteps: 1})
	assert.Error(t, err)
}

func TestSettingsSnapshotIsACopy(t *testing.T) {
	s, err := NewSettings(DefaultStageConfig())
	require.NoError(t, err)

	snap := s.Snapshot()
	require.NoError(t, s.SetStage(2))
	s.SetEnabled(false)

	assert.Equal(t, MaxStage, snap.Stage)
	assert.True(t, snap.Enabled)
	assert.Equal(t, Stage(2), s.Snapshot().Stage)
	assert.False(t, s.Snapshot().Enabled)
}

func TestSettingsConcurrentAccess(t *testing.T) {
	s, err := NewSettings(DefaultStageConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.SetStage(Stage(i % 8))
		}(i)
		go func() {
			defer wg.Done()
			cfg := s.Snapshot()
			assert.NoError(t, cfg.Validate())
		}()
	}
	wg.Wait()
}
