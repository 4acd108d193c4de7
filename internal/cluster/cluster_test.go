package cluster

import (
	"testing"
)

// blob generates count vectors near the given centre.
func blob(centre []float32, count int, spread float32) [][]float32 {
	out := make([][]float32, count)
	for i := range out {
		v := make([]float32, len(centre))
		for j, c := range centre {
			// Small deterministic jitter keeps points distinct.
			v[j] = c + spread*float32(i%3-1)/10
		}
		out[i] = v
	}
	return out
}

func TestCluster_TwoBlobs(t *testing.T) {
	points := append(
		blob([]float32{10, 0, 0}, 6, 1),
		blob([]float32{0, 10, 0}, 6, 1)...,
	)

	res, err := Cluster(points, Config{KMin: 2, KMax: 5})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if res.K != 2 {
		t.Fatalf("k = %d, want 2", res.K)
	}
	if len(res.Labels) != len(points) {
		t.Fatalf("labels = %d, want %d", len(res.Labels), len(points))
	}

	// All points of one blob share a label, and the blobs differ.
	first := res.Labels[0]
	for i := 1; i < 6; i++ {
		if res.Labels[i] != first {
			t.Errorf("blob 1 point %d label = %d, want %d", i, res.Labels[i], first)
		}
	}
	second := res.Labels[6]
	if second == first {
		t.Error("both blobs share a label")
	}
	for i := 7; i < 12; i++ {
		if res.Labels[i] != second {
			t.Errorf("blob 2 point %d label = %d, want %d", i, res.Labels[i], second)
		}
	}
	if res.Silhouette <= 0 {
		t.Errorf("silhouette = %f, want positive for separated blobs", res.Silhouette)
	}
}

func TestCluster_LabelsInRange(t *testing.T) {
	points := append(
		blob([]float32{5, 5, 5}, 4, 1),
		blob([]float32{-5, -5, -5}, 4, 1)...,
	)

	res, err := Cluster(points, DefaultConfig())
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	for i, l := range res.Labels {
		if l < 0 || l >= res.K {
			t.Errorf("label %d = %d, outside [0, %d)", i, l, res.K)
		}
	}
}

func TestCluster_SingleEmbedding(t *testing.T) {
	res, err := Cluster([][]float32{{1, 2, 3}}, DefaultConfig())
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if res.K != 1 || len(res.Labels) != 1 || res.Labels[0] != 0 {
		t.Errorf("result = %+v, want single cluster", res)
	}
}

func TestCluster_Empty(t *testing.T) {
	if _, err := Cluster(nil, DefaultConfig()); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestCluster_FallbackWhenNoValidSilhouette(t *testing.T) {
	// Two identical points cannot form two clusters of size >= 2 for any
	// candidate k, so the k_min fit is returned.
	points := [][]float32{{1, 1}, {1, 1}, {1, 1}}

	res, err := Cluster(points, Config{KMin: 2, KMax: 3})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if res.K != 2 {
		t.Errorf("fallback k = %d, want KMin 2", res.K)
	}
	if res.Silhouette != -1 {
		t.Errorf("fallback silhouette = %f, want -1", res.Silhouette)
	}
}

func TestCluster_PCAHighDimensional(t *testing.T) {
	// 80-dimensional inputs exercise the PCA reduction path.
	centreA := make([]float32, 80)
	centreB := make([]float32, 80)
	for i := range centreA {
		centreA[i] = 1
		centreB[i] = -1
	}
	points := append(blob(centreA, 5, 1), blob(centreB, 5, 1)...)

	res, err := Cluster(points, Config{KMin: 2, KMax: 4, Normalize: true, PCADims: 50})
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if res.K != 2 {
		t.Errorf("k = %d, want 2", res.K)
	}
}
