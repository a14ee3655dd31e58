package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/engine"
)

func TestScheduleRequiresCron(t *testing.T) {
	f := newFixture(t, "literal-token")

	_, err := execute(t, newScheduleCommand(&ScheduleOptions{RootOptions: &RootOptions{Format: "text", Config: f.ConfigPath}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "cron" not set`)
}

func TestScheduleInvalidCron(t *testing.T) {
	f := newFixture(t, "literal-token")

	out, err := execute(t, newScheduleCommand(&ScheduleOptions{RootOptions: &RootOptions{Format: "text", Config: f.ConfigPath}}),
		"--cron", "every minute")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, `invalid cron expression "every minute"`)
}

func TestScheduleStopsOnCancel(t *testing.T) {
	f := newFixture(t, "literal-token", "R-1")

	var ready *Scheduler
	ctx, cancel := context.WithCancel(context.Background())
	cmd := newScheduleCommand(&ScheduleOptions{
		RootOptions: &RootOptions{Format: "text", Config: f.ConfigPath},
		Ready: func(s *Scheduler) {
			ready = s
			cancel()
		},
	})
	defer cancel()
	cmd.SetContext(ctx)

	out, err := execute(t, cmd, "--cron", "@hourly", "requirements")
	require.NoError(t, err)
	assert.Contains(t, out, `Scheduled requirements on "@hourly".`)
	assert.Contains(t, out, "Stopped after 0 run(s).")
	require.NotNil(t, ready)
	assert.Equal(t, 0, ready.Runs())
}

func TestSchedulerTick(t *testing.T) {
	f := newFixture(t, "literal-token", "R-1", "R-2")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	formatter := &OutputFormatter{Format: "text", Writer: &bytes.Buffer{}, ErrWriter: &bytes.Buffer{}}

	env, err := openEnvironment(context.Background(), &RootOptions{Config: f.ConfigPath}, formatter, logger, nil)
	require.NoError(t, err)
	defer env.Close()

	tgt, err := resolveTarget(env.Config, []string{"requirements", "jama-to-ado"})
	require.NoError(t, err)

	s := &Scheduler{
		target: tgt,
		engine: engine.New(env.Schema, env.providers, engine.WithLogger(logger)),
		env:    env,
	}

	assert.True(t, s.Tick(context.Background()))
	assert.True(t, s.Tick(context.Background()))
	assert.Equal(t, 2, s.Runs())

	// A tick that overlaps a run in progress is skipped.
	s.running = true
	assert.False(t, s.Tick(context.Background()))
	assert.Equal(t, 2, s.Runs())
}
