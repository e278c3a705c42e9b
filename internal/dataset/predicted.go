package dataset

import (
	"fmt"
	"sort"

	"github.com/banshee-data/pose.robustness/internal/eval"
	"github.com/banshee-data/pose.robustness/internal/fsutil"
	"github.com/banshee-data/pose.robustness/internal/rigid"
)

// PredictedPoses maps scene IDs to externally estimated context poses.
type PredictedPoses map[string][]rigid.Transform

var _ eval.PredictedPoseSource = PredictedPoses(nil)

// PredictedPoses implements eval.PredictedPoseSource.
func (p PredictedPoses) PredictedPoses(sceneID string) ([]rigid.Transform, bool) {
	poses, ok := p[sceneID]
	return poses, ok
}

// Scenes returns the scene IDs in sorted order.
func (p PredictedPoses) Scenes() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadPredictedPoses reads a table of the form
// {"scene_id": [[...16 floats...], ...], ...}.
func LoadPredictedPoses(fsys fsutil.FileSystem, path string) (PredictedPoses, error) {
	var raw map[string][]Matrix
	if err := fsutil.ReadJSON(fsys, path, &raw); err != nil {
		return nil, fmt.Errorf("load predicted poses: %w", err)
	}
	out := make(PredictedPoses, len(raw))
	for id, ms := range raw {
		poses, err := parseViews(ms, id, "predicted")
		if err != nil {
			return nil, err
		}
		out[id] = poses
	}
	return out, nil
}

// SavePredictedPoses writes p in the format read by LoadPredictedPoses.
func SavePredictedPoses(fsys fsutil.FileSystem, path string, p PredictedPoses) error {
	raw := make(map[string][]Matrix, len(p))
	for id, poses := range p {
		for _, t := range poses {
			raw[id] = append(raw[id], ToMatrix(t))
		}
	}
	return fsutil.WriteJSON(fsys, path, raw)
}
