package collect

import (
	"testing"

	"github.com/dstask/bpm/postpone"
)

func newUnsealedCluster(id postpone.ClusterID) *postpone.Cluster {
	return &postpone.Cluster{ID: id, Dependencies: map[postpone.Key]struct{}{}}
}

func TestFirstUntriedClusterSkipsFailedAndReturnsNilWhenAllFailed(t *testing.T) {
	a, b, c := newUnsealedCluster(1), newUnsealedCluster(2), newUnsealedCluster(3)
	clusters := []*postpone.Cluster{a, b, c}

	if got := firstUntriedCluster(clusters, map[postpone.ClusterID]bool{}); got != a {
		t.Fatalf("expected the first cluster when nothing has failed yet, got %+v", got)
	}

	failed := map[postpone.ClusterID]bool{1: true}
	if got := firstUntriedCluster(clusters, failed); got != b {
		t.Fatalf("expected to skip the failed cluster and return the next one, got %+v", got)
	}

	failed[2] = true
	if got := firstUntriedCluster(clusters, failed); got != c {
		t.Fatalf("expected the last untried cluster, got %+v", got)
	}

	failed[3] = true
	if got := firstUntriedCluster(clusters, failed); got != nil {
		t.Fatalf("expected nil once every cluster has failed, got %+v", got)
	}
}
