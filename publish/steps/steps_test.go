package steps

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	all := []Step{
		{ID: "01_A", Tags: []string{"A", "core"}},
		{ID: "02_B", Tags: []string{"B"}},
		{ID: "03_C", Tags: []string{"C", "core"}},
	}

	require.Equal(t, all, Select(all, nil))

	var ids []string
	for _, s := range Select(all, []string{"core"}) {
		ids = append(ids, s.ID)
	}
	require.Equal(t, []string{"01_A", "03_C"}, ids)
	require.Empty(t, Select(all, []string{"missing"}))
}

func TestRunAllStopsAtFirstFailure(t *testing.T) {
	var ran []string
	boom := errors.New("boom")
	step := func(id string, err error) Step {
		return Step{ID: id, Run: func(context.Context, Env) error {
			ran = append(ran, id)
			return err
		}}
	}

	err := RunAll(context.Background(), newRecordingEnv(deployer), []Step{
		step("01_A", nil),
		step("02_B", boom),
		step("03_C", nil),
	})
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "step 02_B")
	require.Equal(t, []string{"01_A", "02_B"}, ran)
}

func TestDefaultSteps(t *testing.T) {
	all := Default(Config{MultiSigWallet: multisig})
	require.Len(t, all, 1)
	require.Equal(t, "05_CloneNurses", all[0].ID)
	require.Len(t, Select(all, []string{"CloneNurses"}), 1)

	env := newRecordingEnv(deployer)
	require.NoError(t, RunAll(context.Background(), env, all))
	require.Len(t, env.execs, 1)
}
