package inference

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/banshee-data/cloudsplit/internal/cloud"
	"github.com/banshee-data/cloudsplit/internal/fsutil"
	"github.com/banshee-data/cloudsplit/internal/monitoring"
	"github.com/banshee-data/cloudsplit/internal/partition"
	"github.com/banshee-data/cloudsplit/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

var errBoom = errors.New("boom")

// scriptedService replies with i%3 for point i and records call order.
type scriptedService struct {
	calls  []string
	failOn string
	short  bool
}

func (s *scriptedService) RunInference(_ context.Context, b *Batch) (*Output, error) {
	s.calls = append(s.calls, b.Name)
	if b.Name == s.failOn {
		return nil, errBoom
	}
	n := len(b.Points)
	if s.short {
		n--
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(i % 3)
	}
	return &Output{PredictLabels: out}, nil
}

func makeParts(sizes ...int) []*partition.Partition {
	parts := make([]*partition.Partition, len(sizes))
	next := 0
	for k, n := range sizes {
		p := &partition.Partition{Name: partition.PartitionName(k), Seq: k}
		p.Points = testutil.Cluster(cloud.Point3{float64(k), 0, 0}, n)
		p.Labels = make([]int32, n)
		for range n {
			p.Indices = append(p.Indices, next)
			next++
		}
		parts[k] = p
	}
	return parts
}

func TestRun_RebasesAndPreservesOrder(t *testing.T) {
	t.Parallel()

	svc := &scriptedService{}
	parts := makeParts(4, 2, 5)
	res, err := Run(context.Background(), svc, parts)
	require.NoError(t, err)

	assert.Equal(t, []string{"000", "001", "002"}, svc.calls)
	require.Len(t, res, 3)
	assert.Equal(t, []int32{1, 2, 3, 1}, res[0].Pred)
	assert.Equal(t, []int32{1, 2}, res[1].Pred)
	assert.Equal(t, []int32{1, 2, 3, 1, 2}, res[2].Pred)
	for k, r := range res {
		assert.Equal(t, parts[k].Name, r.Name)
		assert.Equal(t, parts[k].Points, r.Points)
		assert.Equal(t, parts[k].Indices, r.Indices)
	}
}

func TestRun_FailureAbortsRemaining(t *testing.T) {
	t.Parallel()

	svc := &scriptedService{failOn: "001"}
	res, err := Run(context.Background(), svc, makeParts(3, 3, 3))
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "partition 001")
	assert.Nil(t, res)
	assert.Equal(t, []string{"000", "001"}, svc.calls)
}

func TestRun_PredictionCountMismatch(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), &scriptedService{short: true}, makeParts(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 2 predictions for 3 points")
}

func TestRun_NoPartitions(t *testing.T) {
	t.Parallel()

	res, err := Run(context.Background(), &scriptedService{}, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestConfigure(t *testing.T) {
	t.Parallel()

	svc := &HeightBands{}
	resp, err := Configure(context.Background(), svc, ModelSpec{}, PipelineSpec{}, "/ckpt/a.pth")
	require.NoError(t, err)
	assert.Equal(t, RandLANet, resp.Model)
	assert.Equal(t, "cpu", resp.Device)
	assert.Equal(t, DefaultDevice, svc.Configured().Pipeline.Device)

	_, err = Configure(context.Background(), &HeightBands{}, ModelSpec{Type: "PointNet"}, PipelineSpec{}, "x.pth")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestParseModelType(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]ModelType{
		"":          RandLANet,
		"RandLANet": RandLANet,
		"randlanet": RandLANet,
		"KPFCNN":    KPFCNN,
		"KPConv":    KPFCNN,
	} {
		got, err := ParseModelType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseModelType("PointTransformer")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestDiscoverCheckpoint(t *testing.T) {
	t.Parallel()

	mfs := fsutil.NewMemoryFileSystem()
	mfs.AddFile("/run/ckpt_0010.pth", nil)
	mfs.AddFile("/run/ckpt_0002.pth", nil)
	mfs.AddFile("/run/ckpt_0020.tar", nil)

	got, err := DiscoverCheckpoint(mfs, "/run", "", "")
	require.NoError(t, err)
	assert.Equal(t, "/run/ckpt_0010.pth", got)

	got, err = DiscoverCheckpoint(mfs, "/run", "*.tar", "")
	require.NoError(t, err)
	assert.Equal(t, "/run/ckpt_0020.tar", got)

	got, err = DiscoverCheckpoint(mfs, "/nowhere", "", "/explicit/model.pth")
	require.NoError(t, err)
	assert.Equal(t, "/explicit/model.pth", got)

	_, err = DiscoverCheckpoint(mfs, "/empty", "", "")
	assert.ErrorIs(t, err, ErrMissingCheckpoint)
}

func TestReattach(t *testing.T) {
	t.Parallel()

	results := []PredictionResult{
		{Name: "000", Points: make([]cloud.Point3, 2), Pred: []int32{3, 4}, Indices: []int{4, 0}},
		{Name: "001", Points: make([]cloud.Point3, 1), Pred: []int32{7}, Indices: []int{2}},
	}
	got, err := Reattach(results, 6)
	require.NoError(t, err)
	assert.Equal(t, []int32{4, 0, 7, 0, 3, 0}, got)

	dup := append(results, PredictionResult{Name: "002", Points: make([]cloud.Point3, 1), Pred: []int32{1}, Indices: []int{2}})
	_, err = Reattach(dup, 6)
	assert.ErrorIs(t, err, ErrDuplicateAssignment)

	_, err = Reattach(results, 3)
	assert.ErrorContains(t, err, "outside cloud")

	_, err = Reattach([]PredictionResult{{Name: "x", Points: make([]cloud.Point3, 1), Pred: []int32{1}}}, 3)
	assert.ErrorContains(t, err, "no source indices")
}

func TestHeightBands(t *testing.T) {
	t.Parallel()

	h := &HeightBands{Classes: 4}
	b := &Batch{Name: "000", Points: []cloud.Point3{{0, 0, 0}, {0, 0, 2.4}, {0, 0, 5}, {0, 0, 10}}}

	_, err := h.RunInference(context.Background(), b)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = h.Configure(context.Background(), &ConfigureRequest{Model: ModelSpec{Type: KPFCNN}})
	assert.ErrorIs(t, err, ErrMissingCheckpoint)

	_, err = h.Configure(context.Background(), &ConfigureRequest{Model: ModelSpec{Type: KPFCNN}, Checkpoint: "m.pth"})
	require.NoError(t, err)

	out, err := h.RunInference(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 0, 2, 3}, out.PredictLabels)

	flat := &Batch{Points: []cloud.Point3{{1, 1, 1}, {2, 2, 1}}}
	out, err = h.RunInference(context.Background(), flat)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 0}, out.PredictLabels)
}
