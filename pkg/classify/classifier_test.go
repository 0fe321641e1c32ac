package classify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// clusterDataset builds two well-separated clusters in a 2D feature
// space, class 0 near the origin and class 1 near (10, 10).
func clusterDataset() *Dataset {
	d := NewDataset([]string{"f0", "f1"}, []string{"background", "object"})
	offsets := []float64{-0.2, -0.1, 0, 0.1, 0.2}
	for _, dx := range offsets {
		for _, dy := range offsets {
			d.Add([]float64{dx, dy}, 0)
			d.Add([]float64{10 + dx, 10 + dy}, 1)
		}
	}
	return d
}

func testSeparableClusters(t *testing.T, c Classifier) {
	t.Helper()
	require.NoError(t, c.Train(clusterDataset()))

	class, err := c.Classify([]float64{0.3, -0.3})
	require.NoError(t, err)
	require.Equal(t, 0, class)

	class, err = c.Classify([]float64{9.7, 10.4})
	require.NoError(t, err)
	require.Equal(t, 1, class)

	probs, err := c.PredictDistribution([]float64{9.7, 10.4})
	require.NoError(t, err)
	require.Len(t, probs, 2)
	sum := 0.0
	for _, p := range probs {
		require.GreaterOrEqual(t, p, 0.0)
		sum += p
	}
	require.InDelta(t, 1.0, sum, 1e-9)
	require.Greater(t, probs[1], probs[0])
}

func TestNearestCentroidSeparableClusters(t *testing.T) {
	testSeparableClusters(t, NewNearestCentroid())
}

func TestKNNSeparableClusters(t *testing.T) {
	testSeparableClusters(t, NewKNN(3))
}

func TestClassifyBeforeTraining(t *testing.T) {
	for _, c := range []Classifier{NewNearestCentroid(), NewKNN(3)} {
		_, err := c.Classify([]float64{1, 2})
		require.ErrorIs(t, err, ErrNotTrained)

		_, err = c.PredictDistribution([]float64{1, 2})
		require.ErrorIs(t, err, ErrNotTrained)
	}
}

func TestTrainSingleClass(t *testing.T) {
	d := NewDataset([]string{"f0"}, []string{"a", "b"})
	d.Add([]float64{1}, 0)
	d.Add([]float64{2}, 0)

	for _, c := range []Classifier{NewNearestCentroid(), NewKNN(3)} {
		require.ErrorIs(t, c.Train(d), ErrInsufficientTrainingData)
	}
}

func TestNearestCentroidVectorLength(t *testing.T) {
	nc := NewNearestCentroid()
	require.NoError(t, nc.Train(clusterDataset()))

	_, err := nc.Classify([]float64{1})
	require.Error(t, err)
}

func TestKNNMajorityVote(t *testing.T) {
	// Two class-0 points and one class-1 point near the query; with k=3
	// the majority wins even though the single class-1 point is closest.
	d := NewDataset([]string{"f0"}, []string{"a", "b"})
	d.Add([]float64{0.0}, 0)
	d.Add([]float64{0.2}, 0)
	d.Add([]float64{1.0}, 1)
	d.Add([]float64{50}, 1)

	knn := NewKNN(3)
	require.NoError(t, knn.Train(d))

	class, err := knn.Classify([]float64{0.9})
	require.NoError(t, err)
	require.Equal(t, 0, class)
}

func TestKNNKExceedsTrainingSize(t *testing.T) {
	d := NewDataset([]string{"f0"}, []string{"a", "b"})
	d.Add([]float64{0}, 0)
	d.Add([]float64{10}, 1)

	// The keeper pads with sentinel entries that must be skipped
	knn := NewKNN(5)
	require.NoError(t, knn.Train(d))

	class, err := knn.Classify([]float64{1})
	require.NoError(t, err)
	require.Equal(t, 0, class)

	probs, err := knn.PredictDistribution([]float64{1})
	require.NoError(t, err)
	require.InDelta(t, 0.5, probs[0], 1e-9)
	require.InDelta(t, 0.5, probs[1], 1e-9)
}

func TestConcurrentSafeModels(t *testing.T) {
	for _, c := range []Classifier{NewNearestCentroid(), NewKNN(3)} {
		require.True(t, c.ConcurrentSafe())
		require.Same(t, c, c.Clone())
	}
}
