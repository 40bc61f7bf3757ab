package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergiogordon/unitymdm-prod-sub004/internal/core"
	"github.com/sergiogordon/unitymdm-prod-sub004/internal/model"
)

func TestResolver_All_PagesThroughRegistry(t *testing.T) {
	devices := fleet(1203)
	r := NewResolver(&fakeDirectory{devices: devices})

	res, err := r.Resolve(context.Background(), model.TargetSpec{Kind: model.TargetAll})
	require.NoError(t, err)
	require.Len(t, res.Devices, 1203)
	assert.Empty(t, res.Unresolved)

	for i := 1; i < len(res.Devices); i++ {
		assert.Less(t, res.Devices[i-1].ID, res.Devices[i].ID, "deterministic order")
	}
}

func TestResolver_Aliases_ReportsUnresolved(t *testing.T) {
	devices := fleet(3)
	r := NewResolver(&fakeDirectory{devices: devices})

	res, err := r.Resolve(context.Background(), model.TargetSpec{
		Kind:    model.TargetAliases,
		Aliases: []string{devices[2].Alias, devices[0].Alias, "dev_ghost"},
	})
	require.NoError(t, err)
	require.Len(t, res.Devices, 2)
	assert.Equal(t, []string{"dev_ghost"}, res.Unresolved)
	assert.Equal(t, devices[0].ID, res.Devices[0].ID)
	assert.Equal(t, devices[2].ID, res.Devices[1].ID)
}

func TestResolver_Aliases_EmptyListRejected(t *testing.T) {
	r := NewResolver(&fakeDirectory{})
	_, err := r.Resolve(context.Background(), model.TargetSpec{Kind: model.TargetAliases})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestResolver_Filter_Online(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Minute)
	stale := now.Add(-time.Hour)

	devices := fleet(3)
	devices[0].LastSeen = &recent
	devices[1].LastSeen = &stale
	devices[2].LastSeen = nil

	r := NewResolver(&fakeDirectory{devices: devices})
	res, err := r.Resolve(context.Background(), model.TargetSpec{Kind: model.TargetFilter, Filter: "online"})
	require.NoError(t, err)
	require.Len(t, res.Devices, 1)
	assert.Equal(t, devices[0].ID, res.Devices[0].ID)
}

func TestResolver_Filter_Model(t *testing.T) {
	devices := fleet(4)
	devices[1].Model = "Pixel 6"
	devices[3].Model = "Pixel 6"

	r := NewResolver(&fakeDirectory{devices: devices})
	res, err := r.Resolve(context.Background(), model.TargetSpec{Kind: model.TargetFilter, Filter: "model=Pixel 6"})
	require.NoError(t, err)
	assert.Len(t, res.Devices, 2)
}

func TestResolver_Filter_UnknownField(t *testing.T) {
	r := NewResolver(&fakeDirectory{devices: fleet(1)})
	_, err := r.Resolve(context.Background(), model.TargetSpec{Kind: model.TargetFilter, Filter: "color=red"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestResolver_UnknownKind(t *testing.T) {
	r := NewResolver(&fakeDirectory{})
	_, err := r.Resolve(context.Background(), model.TargetSpec{Kind: "everything"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestResolver_Preview_CountAndSample(t *testing.T) {
	devices := fleet(30)
	r := NewResolver(&fakeDirectory{devices: devices})

	p, err := r.Preview(context.Background(), model.TargetSpec{Kind: model.TargetAll}, 5)
	require.NoError(t, err)
	assert.Equal(t, 30, p.Count)
	require.Len(t, p.Sample, 5)
	assert.Equal(t, devices[0].Alias, p.Sample[0])
	assert.Empty(t, p.Unresolved)
}

func TestResolver_Preview_SmallerFleetThanSample(t *testing.T) {
	r := NewResolver(&fakeDirectory{devices: fleet(2)})
	p, err := r.Preview(context.Background(), model.TargetSpec{Kind: model.TargetAll}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Count)
	assert.Len(t, p.Sample, 2)
}
